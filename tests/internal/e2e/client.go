package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const pollInterval = 100 * time.Millisecond

var errUnexpectedStatus = errors.New("unexpected http status")

// Client issues GET requests against a running chaos lab service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client for the service at baseURL. The timeout covers the slowest
// request the tests send.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second}, //nolint:exhaustruct // defaults suffice
	}
}

// Get fetches path and returns the body when the status is 200.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", path, err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return body, fmt.Errorf("%w: GET %s returned %d", errUnexpectedStatus, path, resp.StatusCode)
	}

	return body, nil
}

// GetJSON fetches path and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	body, err := c.Get(ctx, path)
	if err != nil {
		return err
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

// WaitReady polls path until it answers 200 or ctx expires.
func (c *Client) WaitReady(ctx context.Context, path string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", path, ctx.Err())
		case <-ticker.C:
			_, err := c.Get(ctx, path)
			if err == nil {
				return nil
			}
		}
	}
}
