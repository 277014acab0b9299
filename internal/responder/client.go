package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// maxResponseBytes bounds the body read from a remote responder.
const maxResponseBytes = 1 << 20

// Client forwards utterances to a remote /api/respond endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// NewClient returns a responder that posts to url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts {"speech": text} and returns the ai_response field. Any
// non-200 status is an error carrying the server's error message.
func (c *Client) Send(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(respondRequest{Speech: text})
	if err != nil {
		return "", fmt.Errorf("responder: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("responder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("responder: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("responder: read response body: %w", err)
	}

	var out respondResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("responder: server returned HTTP %d", resp.StatusCode)
		}
		return "", fmt.Errorf("responder: parse JSON response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("responder: server returned HTTP %d: %s", resp.StatusCode, out.Error)
	}
	return out.AIResponse, nil
}
