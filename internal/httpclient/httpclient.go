// Package httpclient provides the outbound HTTP helper endpoint handlers
// use to call third-party services. The original's http_client.h/.cpp wraps
// libcurl directly with no higher-level client library; the example corpus
// has no third-party HTTP client either, so stdlib net/http is the
// grounded choice here.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a thin wrapper around *http.Client with a fixed timeout,
// matching the original's connect/transfer timeout pair.
type Client struct {
	http *http.Client
}

// New builds a Client with the given overall request timeout.
func New(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON issues a POST with a JSON body and bearer-style Authorization
// header (empty token omits the header), returning the response body and
// status code.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte, bearerToken string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("httpclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("httpclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("httpclient: reading response: %w", err)
	}
	return data, resp.StatusCode, nil
}
