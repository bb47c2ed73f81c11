// Package httpjson is the GET-and-decode helper shared by the REST feeds.
package httpjson

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request when the caller brings no client.
const DefaultTimeout = 10 * time.Second

// maxExcerpt caps how much of an error body is kept.
const maxExcerpt = 256

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL     string
	Status  int
	Excerpt string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Status, e.Excerpt)
}

// NewClient returns an http.Client with DefaultTimeout.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Get issues a GET to url and decodes the JSON body into v.
func Get(ctx context.Context, client *http.Client, url string, v any) error {
	if client == nil {
		client = NewClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxExcerpt))
		return &StatusError{URL: url, Status: resp.StatusCode, Excerpt: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}
