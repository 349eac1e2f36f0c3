// Package nekos posts random images from the nekosapi.com catalogue.
package nekos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the random-file endpoint.
const DefaultBaseURL = "https://api.nekosapi.com/v4/images/random/file"

var (
	// ErrNoImage is returned when a JSON answer carries no image URL.
	ErrNoImage = errors.New("nekos: no image in response")

	// ErrParse is returned for JSON that cannot be decoded.
	ErrParse = errors.New("nekos: could not parse image data")
)

// StatusError is a non-200 answer.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string { return fmt.Sprintf("nekos: status %d", e.Status) }

// payload covers both JSON shapes the API has served: a flat {"url"} and
// the v3 {"data":[{"attributes":{"file"}}]}.
type payload struct {
	URL  string `json:"url"`
	Data []struct {
		Attributes struct {
			File string `json:"file"`
		} `json:"attributes"`
	} `json:"data"`
}

func (p *payload) imageURL() string {
	if p.URL != "" {
		return p.URL
	}
	if len(p.Data) > 0 {
		return p.Data[0].Attributes.File
	}
	return ""
}

// Client fetches random image URLs.
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

// Random returns the URL of a random image with the given rating. When the
// API answers with the image itself, the final (redirected) request URL is
// the image URL.
func (c *Client) Random(ctx context.Context, rating string) (string, error) {
	q := url.Values{"rating": {rating}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("nekos: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, image/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("nekos: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Status: resp.StatusCode}
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return resp.Request.URL.String(), nil
	}

	var p payload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	image := strings.TrimSpace(p.imageURL())
	if image == "" {
		return "", ErrNoImage
	}
	return image, nil
}
