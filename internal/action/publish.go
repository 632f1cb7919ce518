package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"github.com/mattjoyce/orchestrator/internal/policy"
)

const (
	prefixAMQP  = "AMQP"
	prefixKafka = "KAFKA"
)

// Envelope is the message body published for broker actions.
type Envelope struct {
	ID            string            `json:"id"`
	ActionType    string            `json:"actionType"`
	EntityID      string            `json:"entityId"`
	ContextStatus string            `json:"contextStatus"`
	Params        map[string]string `json:"params,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// PublishAdapter handles "AMQP:<queue>" and "KAFKA:<topic>" action types.
// A prefix with no configured publisher is not handled.
type PublishAdapter struct {
	publishers map[string]Publisher
	logger     *slog.Logger
}

func NewPublishAdapter(logger *slog.Logger, amqpPub, kafkaPub Publisher) *PublishAdapter {
	pubs := map[string]Publisher{}
	if amqpPub != nil {
		pubs[prefixAMQP] = amqpPub
	}
	if kafkaPub != nil {
		pubs[prefixKafka] = kafkaPub
	}
	return &PublishAdapter{publishers: pubs, logger: logger.With("component", "publish_adapter")}
}

func (p *PublishAdapter) Name() string { return "publish" }

func (p *PublishAdapter) CanHandle(actionType string) bool {
	prefix, dest, ok := strings.Cut(actionType, ":")
	if !ok || dest == "" {
		return false
	}
	_, ok = p.publishers[strings.ToUpper(prefix)]
	return ok
}

func (p *PublishAdapter) Execute(ctx context.Context, a policy.Action, entityID, contextStatus string) (Trace, error) {
	prefix, dest, _ := strings.Cut(a.Type, ":")
	prefix = strings.ToUpper(prefix)
	t := Trace{ActionType: a.Type, Endpoint: strings.ToLower(prefix) + "://" + dest}

	pub, ok := p.publishers[prefix]
	if !ok {
		return t, fmt.Errorf("no publisher for %s", prefix)
	}

	env := Envelope{
		ID:            uuid.NewString(),
		ActionType:    a.Type,
		EntityID:      entityID,
		ContextStatus: contextStatus,
		Params:        a.Params,
		Timestamp:     time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return t, fmt.Errorf("encode envelope: %w", err)
	}
	t.Request = json.RawMessage(body)

	if err := pub.Publish(ctx, dest, body); err != nil {
		return t, fmt.Errorf("publish to %s: %w", t.Endpoint, err)
	}
	p.logger.Info("published action", "destination", t.Endpoint, "entity_id", entityID, "message_id", env.ID)
	t.Response = "Published"
	t.StatusCode = 202
	return t, nil
}

// AMQPPublisher publishes to durable queues on the default exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// DialAMQP connects and opens a publishing channel.
func DialAMQP(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq publish channel: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, declared: map[string]bool{}}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, queue string, body []byte) error {
	// amqp channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("rabbitmq queue declare %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	return p.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now().UTC(),
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// KafkaPublisher writes to per-message topics through a shared writer.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(uuid.NewString()),
		Value: body,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
