// Package apod posts NASA's Astronomy Picture of the Day, on demand and on
// a per-guild daily schedule.
package apod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public APOD endpoint.
	DefaultBaseURL = "https://api.nasa.gov/planetary/apod"

	// DemoKey is NASA's shared, rate-limited key used when a guild has none.
	DemoKey = "DEMO_KEY"
)

// ErrFetch is returned when APOD answers with a non-200 status or an
// unreadable body.
var ErrFetch = errors.New("apod: could not fetch picture")

// Picture is the APOD payload.
type Picture struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Explanation string `json:"explanation"`
	MediaType   string `json:"media_type"`
	URL         string `json:"url"`
	HDURL       string `json:"hdurl"`
	Copyright   string `json:"copyright"`
}

// IsImage reports whether the entry is a still image.
func (p *Picture) IsImage() bool { return p.MediaType == "image" }

// Link returns the best URL for the title link.
func (p *Picture) Link() string {
	if p.HDURL != "" {
		return p.HDURL
	}
	return p.URL
}

// Client fetches pictures.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: baseURL}
}

// Fetch returns the picture for date ("YYYY-MM-DD", empty for today).
// An empty apiKey falls back to DemoKey.
func (c *Client) Fetch(ctx context.Context, apiKey, date string) (*Picture, error) {
	if apiKey == "" {
		apiKey = DemoKey
	}
	q := url.Values{"api_key": {apiKey}}
	if date != "" {
		q.Set("date", date)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("apod: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFetch, redact(err.Error(), apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	var pic Picture
	if err := json.NewDecoder(resp.Body).Decode(&pic); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}
	return &pic, nil
}

// ParseDate converts a user date "DD/MM/YYYY" to the API form "YYYY-MM-DD".
// Single-digit days and months are accepted.
func ParseDate(s string) (string, error) {
	t, err := time.Parse("2/1/2006", strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

func redact(s, key string) string {
	if key == "" || key == DemoKey {
		return s
	}
	return strings.ReplaceAll(s, key, "REDACTED")
}
