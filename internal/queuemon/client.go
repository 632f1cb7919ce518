// Package queuemon reads broker queue state through the RabbitMQ management
// HTTP API so operators can see what is waiting for the consumers.
package queuemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// MaxPeek bounds how many messages one peek may return.
const MaxPeek = 100

// Queue is the subset of a management API queue record the admin API shows.
type Queue struct {
	Name                   string `json:"name"`
	Vhost                  string `json:"vhost"`
	State                  string `json:"state,omitempty"`
	Durable                bool   `json:"durable"`
	Consumers              int    `json:"consumers"`
	Messages               int    `json:"messages"`
	MessagesReady          int    `json:"messages_ready"`
	MessagesUnacknowledged int    `json:"messages_unacknowledged"`
}

// Message is one peeked message. Payload is text or base64 depending on
// PayloadEncoding.
type Message struct {
	Exchange        string         `json:"exchange"`
	RoutingKey      string         `json:"routing_key"`
	Redelivered     bool           `json:"redelivered"`
	MessageCount    int            `json:"message_count"`
	Payload         string         `json:"payload"`
	PayloadBytes    int            `json:"payload_bytes"`
	PayloadEncoding string         `json:"payload_encoding"`
	Properties      map[string]any `json:"properties,omitempty"`
}

type getRequest struct {
	Count    int    `json:"count"`
	AckMode  string `json:"ackmode"`
	Encoding string `json:"encoding"`
	Truncate int    `json:"truncate"`
}

// Client talks to {managementURL}/queues.
type Client struct {
	baseURL  string
	vhost    string
	username string
	password string
	http     *upstream.Client
}

// New builds a client for managementURL (e.g. http://rabbit:15672/api).
// Credentials come from the management URL's userinfo, falling back to the
// AMQP URL's, as does the vhost.
func New(managementURL, amqpURL string, httpClient *upstream.Client) (*Client, error) {
	mgmt, err := url.Parse(managementURL)
	if err != nil || mgmt.Scheme == "" || mgmt.Host == "" {
		return nil, fmt.Errorf("invalid management url %q", managementURL)
	}

	c := &Client{vhost: "/", http: httpClient}
	if amqpURL != "" {
		uri, err := amqp.ParseURI(amqpURL)
		if err != nil {
			return nil, fmt.Errorf("parse amqp url: %w", err)
		}
		c.username, c.password = uri.Username, uri.Password
		if uri.Vhost != "" {
			c.vhost = uri.Vhost
		}
	}
	if mgmt.User != nil {
		c.username = mgmt.User.Username()
		c.password, _ = mgmt.User.Password()
		mgmt.User = nil
	}
	c.baseURL = strings.TrimRight(mgmt.String(), "/")
	return c, nil
}

// Queues lists the queues of the configured vhost.
func (c *Client) Queues(ctx context.Context) ([]Queue, error) {
	resp, err := c.send(ctx, http.MethodGet, "/queues/"+url.PathEscape(c.vhost), nil)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	out := []Queue{}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode queues: %w", err)
	}
	return out, nil
}

// Peek returns up to count messages from the head of queue and requeues
// them, so consumers still receive every message. The management API marks
// peeked messages redelivered.
func (c *Client) Peek(ctx context.Context, queue string, count int) ([]Message, error) {
	if count < 1 || count > MaxPeek {
		return nil, fmt.Errorf("count must be between 1 and %d", MaxPeek)
	}
	body := getRequest{Count: count, AckMode: "ack_requeue_true", Encoding: "auto", Truncate: 50000}
	path := "/queues/" + url.PathEscape(c.vhost) + "/" + url.PathEscape(queue) + "/get"
	resp, err := c.send(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, fmt.Errorf("peek queue %s: %w", queue, err)
	}
	out := []Message{}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return out, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*upstream.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}
