// Package webhook posts tool-call payloads to an external automation endpoint.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teslashibe/go-callbridge/internal/httpc"
)

// ErrNoURL indicates the client was built without an endpoint.
var ErrNoURL = errors.New("webhook: no URL configured")

// Payload is the normalized notification body.
type Payload struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Tipo     string `json:"tipo"`
	Fecha    string `json:"fecha"`
	Detalles string `json:"detalles"`
}

// StatusError is returned when the endpoint answers outside 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("webhook: unexpected status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook: unexpected status %d", e.StatusCode)
}

// Client sends payloads to a single URL. It never retries.
type Client struct {
	url  string
	http *http.Client
}

// New creates a Client posting to url with the given request timeout.
func New(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = httpc.DefaultTimeout
	}
	return &Client{
		url:  url,
		http: httpc.NewClient(timeout),
	}
}

// Send posts p and returns the response status.
func (c *Client) Send(ctx context.Context, p Payload) (int, error) {
	if c.url == "" {
		return 0, ErrNoURL
	}

	resp, err := httpc.PostJSON(ctx, c.http, c.url, p)
	if err != nil {
		return 0, fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
