// Package upstream wraps outbound HTTP calls to collaborating services in a
// circuit breaker so a failing dependency is not hammered by every event.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

const maxBodyBytes = 4 << 20

// BreakerConfig tunes the per-service circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	// Zero disables the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client is an HTTP client for one named upstream service.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// serverError marks a 5xx so the breaker counts it without losing the response.
type serverError struct {
	resp *Response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("upstream returned %s", e.resp.Status)
}

func NewClient(name string, httpClient *http.Client, cfg BreakerConfig, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{
		name:   name,
		http:   httpClient,
		logger: logger.With("component", "upstream", "upstream", name),
	}
	if cfg.MaxFailures > 0 {
		timeout := cfg.OpenTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				c.logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		})
	}
	return c
}

// Name returns the upstream service name.
func (c *Client) Name() string { return c.name }

// Do sends req and reads the body. Transport errors and an open breaker are
// returned as errors; any HTTP status, 5xx included, is returned as a Response.
func (c *Client) Do(req *http.Request) (*Response, error) {
	if c.breaker == nil {
		return c.do(req)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &serverError{resp: resp}
		}
		return resp, nil
	})
	var se *serverError
	if errors.As(err, &se) {
		return se.resp, nil
	}
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.name, err)
	}
	return &Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}, nil
}

// PostJSON marshals body and POSTs it to url.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req)
}

// Get issues a GET with optional headers.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", c.name, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}
