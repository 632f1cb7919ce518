// Package consumer feeds RabbitMQ domain events into the dispatcher.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mattjoyce/orchestrator/internal/dispatch"
)

// Decoder turns a delivery body into a dispatchable event.
type Decoder interface {
	Decode(ctx context.Context, eventType, messageID string, body []byte) (*dispatch.Event, error)
}

// Handler processes one decoded event.
type Handler interface {
	HandleEvent(ctx context.Context, ev *dispatch.Event) ([]*dispatch.Outcome, error)
}

// Config describes the broker connection and the queue per event type.
type Config struct {
	URL      string
	Prefetch int
	// Queues maps event type to queue name.
	Queues map[string]string
	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration
}

// Consumer runs one competing consumer per queue. Each queue is handled one
// message at a time with manual acknowledgement.
type Consumer struct {
	cfg     Config
	decoder Decoder
	handler Handler
	logger  *slog.Logger
	dial    func(url string) (*amqp.Connection, error)

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(cfg Config, decoder Decoder, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Consumer{
		cfg:     cfg,
		decoder: decoder,
		handler: handler,
		logger:  logger.With("component", "consumer"),
		dial:    amqp.Dial,
		stopCh:  make(chan struct{}),
	}
}

// Start connects in the background and keeps reconnecting until Stop or
// ctx cancellation.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop closes the connection and waits for in-flight messages to finish.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	c.logger.Info("consumer stopped")
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		err := c.session(ctx)
		if c.stopping(ctx) {
			return
		}
		c.logger.Error("broker session ended, reconnecting", "error", err, "delay", c.cfg.ReconnectDelay)
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) stopping(ctx context.Context) bool {
	select {
	case <-c.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// session holds one connection until it drops or the consumer stops.
func (c *Consumer) session(ctx context.Context) error {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer conn.Close()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	var loops sync.WaitGroup
	for _, eventType := range sortedKeys(c.cfg.Queues) {
		queue := c.cfg.Queues[eventType]
		deliveries, err := c.subscribe(conn, queue, eventType)
		if err != nil {
			return err
		}
		c.logger.Info("consuming", "queue", queue, "event_type", eventType, "prefetch", c.cfg.Prefetch)
		loops.Add(1)
		go func() {
			defer loops.Done()
			for d := range deliveries {
				c.handle(ctx, eventType, d)
			}
		}()
	}

	var sessionErr error
	select {
	case amqpErr := <-closed:
		if amqpErr != nil {
			sessionErr = amqpErr
		} else {
			sessionErr = errors.New("connection closed")
		}
	case <-c.stopCh:
	case <-ctx.Done():
	}
	// Closing the connection closes every delivery channel; each loop
	// finishes the message it holds first.
	_ = conn.Close()
	loops.Wait()
	return sessionErr
}

func (c *Consumer) subscribe(conn *amqp.Connection, queue, eventType string) (<-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq channel for %s: %w", queue, err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq qos for %s: %w", queue, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq queue declare %s: %w", queue, err)
	}
	deliveries, err := ch.Consume(queue, "orchestrator-"+eventType, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// handle settles exactly one delivery. Undecodable bodies are rejected
// without requeue so the broker can dead-letter them. Everything else is
// acknowledged once handling returns, including handler errors, so a bad
// downstream never turns a message into a redelivery loop.
func (c *Consumer) handle(ctx context.Context, eventType string, d amqp.Delivery) {
	logger := c.logger.With("event_type", eventType, "message_id", d.MessageId)

	ev, err := c.decoder.Decode(ctx, eventType, d.MessageId, d.Body)
	if err != nil {
		logger.Error("undecodable message rejected", "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	outcomes, err := c.handler.HandleEvent(ctx, ev)
	if err != nil {
		logger.Error("event handling failed", "entity_id", ev.EntityID, "error", err)
	} else {
		logger.Debug("event handled", "entity_id", ev.EntityID, "policies", len(outcomes))
	}
	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error("ack failed", "error", ackErr)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
