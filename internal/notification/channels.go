package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"payments-gateway/internal/domain"
)

// Channel delivers one event to one notifiable. Deliveries must be safe to repeat.
type Channel interface {
	Name() ChannelName
	Deliver(ctx context.Context, n Notifiable, e Event) error
}

// DatabaseChannel stores the event in the notifications table.
type DatabaseChannel struct {
	store domain.Store
}

func NewDatabaseChannel(store domain.Store) *DatabaseChannel {
	return &DatabaseChannel{store: store}
}

func (c *DatabaseChannel) Name() ChannelName { return ChannelDatabase }

func (c *DatabaseChannel) Deliver(ctx context.Context, n Notifiable, e Event) error {
	return c.store.Notifications().CreateNotification(ctx, &domain.NotificationRecord{
		EventID:        e.ID,
		Kind:           string(e.Kind),
		Severity:       string(e.Severity),
		NotifiableType: n.Type,
		NotifiableID:   n.ID,
		Subject:        e.Subject,
		Data:           e.Data,
		CreatedAt:      e.OccurredAt,
	})
}

// MailMessage is the payload handed to the mail queue consumer.
type MailMessage struct {
	EventID string         `json:"event_id"`
	Kind    Kind           `json:"kind"`
	To      string         `json:"to"`
	Subject string         `json:"subject"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`
}

// QueuePublisher publishes a message body to a queue.
type QueuePublisher interface {
	Publish(ctx context.Context, messageID string, body []byte) error
}

// MailChannel queues an email for the mail worker.
type MailChannel struct {
	publisher QueuePublisher
	logger    *slog.Logger
}

func NewMailChannel(publisher QueuePublisher, logger *slog.Logger) *MailChannel {
	return &MailChannel{publisher: publisher, logger: logger}
}

func (c *MailChannel) Name() ChannelName { return ChannelMail }

func (c *MailChannel) Deliver(ctx context.Context, n Notifiable, e Event) error {
	if n.Email == "" {
		c.logger.Debug("Skipping mail notification without recipient", "event_id", e.ID, "kind", e.Kind)
		return nil
	}
	body, err := json.Marshal(MailMessage{
		EventID: e.ID.String(),
		Kind:    e.Kind,
		To:      n.Email,
		Subject: e.Subject,
		Body:    mailBody(e),
		Data:    e.Data,
	})
	if err != nil {
		return err
	}
	return c.publisher.Publish(ctx, e.ID.String()+":"+n.Email, body)
}

func mailBody(e Event) string {
	var b strings.Builder
	b.WriteString(e.Subject)
	b.WriteString("\n\n")
	keys := sortedKeys(e.Data)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, e.Data[k])
	}
	return b.String()
}

// AMQPPublisher publishes persistent JSON messages to a durable queue.
type AMQPPublisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, messageID string, body []byte) error {
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// Writer is the subset of kafka.Writer used by the broadcast channel.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
}

// BroadcastChannel publishes the event to a Kafka topic keyed by event id.
type BroadcastChannel struct {
	writer Writer
}

func NewBroadcastChannel(writer Writer) *BroadcastChannel {
	return &BroadcastChannel{writer: writer}
}

func (c *BroadcastChannel) Name() ChannelName { return ChannelBroadcast }

func (c *BroadcastChannel) Deliver(ctx context.Context, n Notifiable, e Event) error {
	value, err := json.Marshal(struct {
		Event
		Notifiable Notifiable `json:"notifiable"`
	}{Event: e, Notifiable: n})
	if err != nil {
		return err
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
			{Key: "severity", Value: []byte(e.Severity)},
		},
	})
}
