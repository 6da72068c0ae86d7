// Package bridge fans emitted events out to every connection across
// every cooperating server process, via a RabbitMQ topic exchange.
// Each process publishes room and catalog events and consumes both
// back, so a connection on one process sees messages and membership
// changes produced by sessions on another.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"hivechat/internal/domain"
	"hivechat/internal/observability"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange carrying all chat events.
	ExchangeName = "chat.events"
	// CatalogKey routes catalog events, delivered to every connection.
	CatalogKey = "catalog"
)

// RoomKey returns the routing key for a room's events.
func RoomKey(room string) string {
	return "room." + room
}

// CatalogChange instructs every instance to replay a room catalog
// mutation against its local directory.
type CatalogChange struct {
	Op   string      `json:"op"` // "create" or "delete"
	Room domain.Room `json:"room"`
}

// Event is the envelope published on the exchange. Frame is the wire
// frame to hand to subscribed connections as-is; Exclude names a
// session that must not receive it (the joiner of its own join
// announcement). Session IDs are universally unique so the exclusion
// is safe to apply on every instance.
type Event struct {
	Origin    string          `json:"origin"`
	Room      string          `json:"room,omitempty"`
	Exclude   string          `json:"exclude,omitempty"`
	Catalog   *CatalogChange  `json:"catalog,omitempty"`
	Frame     json.RawMessage `json:"frame"`
	Timestamp int64           `json:"timestamp"`
}

// Bridge publishes events to the shared exchange.
type Bridge struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	instance string
}

// New connects to RabbitMQ and declares the exchange.
func New(url string) (*Bridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	b := &Bridge{
		conn:     conn,
		channel:  ch,
		instance: uuid.New().String(),
	}

	if err := b.setup(); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

// NewWithRetry dials RabbitMQ until it succeeds or ctx expires.
// Useful at startup when the broker may still be coming up.
func NewWithRetry(ctx context.Context, url string) (*Bridge, error) {
	backoff := time.Second
	for {
		b, err := New(url)
		if err == nil {
			return b, nil
		}

		slog.Warn("rabbitmq not ready, retrying",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up connecting to RabbitMQ: %w", err)
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

func (b *Bridge) setup() error {
	if err := b.channel.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	slog.Info("bridge exchange declared", slog.String("exchange", ExchangeName))
	return nil
}

// InstanceID identifies this server process on the exchange.
func (b *Bridge) InstanceID() string {
	return b.instance
}

// PublishToRoom fans frame out to every connection in room on every
// instance, except the excluded session if one is named.
func (b *Bridge) PublishToRoom(ctx context.Context, room string, frame []byte, excludeSessionID string) error {
	event := &Event{
		Origin:    b.instance,
		Room:      room,
		Exclude:   excludeSessionID,
		Frame:     frame,
		Timestamp: time.Now().Unix(),
	}
	return b.publish(ctx, RoomKey(room), event)
}

// PublishCatalog fans frame out to every connection on every
// instance. A non-nil change is replayed against each instance's
// local room directory before delivery.
func (b *Bridge) PublishCatalog(ctx context.Context, change *CatalogChange, frame []byte) error {
	event := &Event{
		Origin:    b.instance,
		Catalog:   change,
		Frame:     frame,
		Timestamp: time.Now().Unix(),
	}
	return b.publish(ctx, CatalogKey, event)
}

func (b *Bridge) publish(ctx context.Context, routingKey string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge event: %w", err)
	}

	err = b.channel.PublishWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish bridge event: %w", err)
	}

	observability.BridgeEventsPublished.WithLabelValues(routingKey).Inc()
	return nil
}

// IsClosed reports whether the underlying connection is gone.
func (b *Bridge) IsClosed() bool {
	return b.conn == nil || b.conn.IsClosed()
}

// Close tears down the channel and connection.
func (b *Bridge) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
