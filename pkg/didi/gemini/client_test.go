package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(srv *httptest.Server, timeout time.Duration) *Client {
	return New(srv.Client(), Config{BaseURL: srv.URL, Timeout: timeout},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestGenerateContentSuccess(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotBody generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Hello there"}]}}]}`)
	}))
	defer srv.Close()

	c := testClient(srv, time.Second)
	got, err := c.GenerateContent(context.Background(), Request{
		APIKey:   "k-123",
		Model:    "gemini-2.0-flash",
		Contents: []Content{Text(RoleUser, "Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Hello there" {
		t.Errorf("reply = %q", got)
	}
	if gotPath != "/models/gemini-2.0-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "k-123" {
		t.Errorf("key = %q", gotKey)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "Hi" {
		t.Errorf("body contents = %+v", gotBody.Contents)
	}
}

func TestGenerateContentOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "overloaded",
			status: http.StatusServiceUnavailable,
			body:   `{"error":{"code":503}}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrOverloaded) {
					t.Errorf("err = %v, want ErrOverloaded", err)
				}
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":{"message":"internal"}}`,
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) {
					t.Fatalf("err = %v, want *StatusError", err)
				}
				if se.Status != 500 || !strings.Contains(se.Body, "internal") {
					t.Errorf("status error = %+v", se)
				}
			},
		},
		{
			name:   "missing candidates",
			status: http.StatusOK,
			body:   `{"promptFeedback":{"blockReason":"SAFETY"}}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("err = %v, want ErrMalformedResponse", err)
				}
			},
		},
		{
			name:   "empty parts",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[]}}]}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("err = %v, want ErrMalformedResponse", err)
				}
			},
		},
		{
			name:   "not json",
			status: http.StatusOK,
			body:   `<html>oops</html>`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("err = %v, want ErrMalformedResponse", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := testClient(srv, time.Second).GenerateContent(context.Background(), Request{
				APIKey:   "k",
				Contents: []Content{Text(RoleUser, "Hi")},
			})
			tt.check(t, err)
		})
	}
}

func TestGenerateContentMissingKeySkipsNetwork(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := testClient(srv, time.Second).GenerateContent(context.Background(), Request{APIKey: "  "})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
	if called {
		t.Error("provider was called without credentials")
	}
}

func TestGenerateContentTimeoutIsTransportFailure(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := testClient(srv, 50*time.Millisecond).GenerateContent(context.Background(), Request{
		APIKey:   "secret-key",
		Contents: []Content{Text(RoleUser, "Hi")},
	})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded in chain", err)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Errorf("API key leaked in error: %v", err)
	}
}
