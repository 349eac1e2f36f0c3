// Package gemini implements the Google Gemini generateContent client used by
// the conversation manager. It distinguishes success, overload (HTTP 503),
// other HTTP errors, transport failures and malformed response bodies.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public Gemini REST endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when a guild has not picked one.
	DefaultModel = "gemini-pro"

	// DefaultTimeout bounds a single generateContent call.
	DefaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error body is kept for diagnostics.
	maxErrorBody = 1500
)

// Role values accepted by the API.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	// ErrMissingCredentials is returned before any network call when no API
	// key is configured.
	ErrMissingCredentials = errors.New("gemini: no API key configured")

	// ErrOverloaded is returned for HTTP 503.
	ErrOverloaded = errors.New("gemini: model overloaded")

	// ErrMalformedResponse is returned when the body lacks
	// candidates[0].content.parts[0].text.
	ErrMalformedResponse = errors.New("gemini: unexpected response shape")
)

// StatusError is a non-success HTTP status other than 503.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: API error (status %d): %s", e.Status, e.Body)
}

// TransportError wraps network failures and timeouts.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "gemini: request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Content is one role-tagged turn.
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a text fragment of a turn.
type Part struct {
	Text string `json:"text"`
}

// Text builds a single-part turn.
func Text(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// Request is one generateContent call.
type Request struct {
	APIKey   string
	Model    string
	BaseURL  string
	Contents []Content
}

type generateRequest struct {
	Contents []Content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Client calls the generateContent endpoint over a shared *http.Client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	logger     *slog.Logger
}

// Config holds client defaults; a guild's base URL overrides BaseURL.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// New creates a client. httpClient is shared and never closed here.
func New(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		logger:     logger.With("component", "gemini"),
	}
}

// GenerateContent sends the turns and returns the first candidate's text.
func (c *Client) GenerateContent(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return "", ErrMissingCredentials
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	base := c.baseURL
	if req.BaseURL != "" {
		base = strings.TrimRight(req.BaseURL, "/")
	}

	body, err := json.Marshal(generateRequest{Contents: req.Contents})
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		base, url.PathEscape(model), url.QueryEscape(req.APIKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn("generateContent failed", "model", model, "error", redact(err, req.APIKey))
		return "", &TransportError{Err: redact(err, req.APIKey)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("generateContent",
		"model", model, "status", resp.StatusCode, "turns", len(req.Contents), "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return "", ErrOverloaded
	case resp.StatusCode != http.StatusOK:
		return "", &StatusError{Status: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
	}

	return extractText(respBody)
}

// extractText reads candidates[0].content.parts[0].text.
func extractText(body []byte) (string, error) {
	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(out.Candidates) == 0 ||
		len(out.Candidates[0].Content.Parts) == 0 ||
		out.Candidates[0].Content.Parts[0].Text == nil {
		return "", ErrMalformedResponse
	}
	return *out.Candidates[0].Content.Parts[0].Text, nil
}

// redact removes the API key from URL-bearing transport errors.
func redact(err error, apiKey string) error {
	if apiKey == "" {
		return err
	}
	msg := err.Error()
	escaped := url.QueryEscape(apiKey)
	if !strings.Contains(msg, apiKey) && !strings.Contains(msg, escaped) {
		return err
	}
	msg = strings.ReplaceAll(msg, escaped, "***")
	msg = strings.ReplaceAll(msg, apiKey, "***")
	return &redactedError{msg: msg, err: err}
}

// redactedError keeps the original chain for errors.Is while hiding the key.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
