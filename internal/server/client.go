package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"formdeploy/internal/message"
)

// Client talks to a running server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for addr, given as host:port or a URL.
func NewClient(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

// Send posts msg to /api/messages.
func (c *Client) Send(ctx context.Context, msg message.Message) (message.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return message.Response{}, fmt.Errorf("encode message: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/messages", body)
}

// Deployment fetches the current deployment snapshot.
func (c *Client) Deployment(ctx context.Context) (message.Response, error) {
	return c.do(ctx, http.MethodGet, "/api/deployment", nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (message.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return message.Response{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return message.Response{}, fmt.Errorf("is formdeploy serve running? %w", err)
	}
	defer res.Body.Close()

	var resp message.Response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return message.Response{}, fmt.Errorf("decode response (%s): %w", res.Status, err)
	}
	if res.StatusCode >= 300 {
		return resp, fmt.Errorf("server returned %s: %s", res.Status, resp.Error)
	}
	return resp, nil
}
