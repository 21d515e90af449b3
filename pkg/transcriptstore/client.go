// Package transcriptstore is a thin proxy to the external transcript
// store: the durable collaborator that owns segment storage and serves
// GET /transcripts/... (spec.md §1, §9). meetbotd never writes a
// transcript segment anywhere; it only forwards the read request and
// relays back whatever the store returns.
package transcriptstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client fetches a meeting's transcript from the external transcript
// store over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client against baseURL, the transcript store's address
// (pkg/config.Config.TranscriptStoreURL).
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Response is the proxied transcript store response: status, content
// type, and raw body, exactly as the store returned them.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Get fetches the transcript for meetingID and returns it unparsed so
// pkg/api can relay it to the caller verbatim. meetbotd does not
// interpret or retain the body.
func (c *Client) Get(ctx context.Context, meetingID string) (*Response, error) {
	u := fmt.Sprintf("%s/meetings/%s/transcript", c.baseURL, url.PathEscape(meetingID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build transcript store request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcript store request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcript store response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}
