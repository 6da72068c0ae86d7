package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"hivechat/internal/observability"
)

// Deliverer hands consumed frames to this process's local
// connections. Implemented by the websocket hub.
type Deliverer interface {
	SendToRoom(room string, data []byte, excludeSessionID string)
	SendToAll(data []byte)
}

// CatalogApplier replays catalog mutations from other instances
// against local state. Implemented by the session gateway.
type CatalogApplier interface {
	ApplyCatalogChange(ctx context.Context, origin string, change CatalogChange)
}

// Consumer subscribes this process to the shared exchange and feeds
// everything it receives into the local hub.
type Consumer struct {
	bridge    *Bridge
	deliverer Deliverer
	applier   CatalogApplier
}

// NewConsumer creates a consumer for this process.
func NewConsumer(bridge *Bridge, deliverer Deliverer, applier CatalogApplier) *Consumer {
	return &Consumer{
		bridge:    bridge,
		deliverer: deliverer,
		applier:   applier,
	}
}

// Start declares this process's private queue, binds it to every room
// and the catalog channel, and consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	queue, err := c.bridge.channel.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	for _, key := range []string{"room.#", CatalogKey} {
		if err := c.bridge.channel.QueueBind(
			queue.Name,
			key,
			ExchangeName,
			false,
			nil,
		); err != nil {
			return err
		}
	}

	msgs, err := c.bridge.channel.Consume(
		queue.Name, // queue
		"",         // consumer
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	slog.Info("bridge consumer started",
		slog.String("queue", queue.Name),
		slog.String("instance", c.bridge.InstanceID()))

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping bridge consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("bridge consumer channel closed")
					return
				}

				var event Event
				if err := json.Unmarshal(msg.Body, &event); err != nil {
					slog.Error("discarding malformed bridge event",
						slog.String("error", err.Error()))
					continue
				}

				c.process(ctx, msg.RoutingKey, &event)
			}
		}
	}()

	return nil
}

// process applies catalog changes, then delivers the frame locally.
// Every instance, the origin included, delivers through this single
// path so local and remote connections observe the same order.
func (c *Consumer) process(ctx context.Context, routingKey string, event *Event) {
	if event.Catalog != nil && c.applier != nil {
		c.applier.ApplyCatalogChange(ctx, event.Origin, *event.Catalog)
	}

	if len(event.Frame) > 0 {
		if event.Room != "" {
			c.deliverer.SendToRoom(event.Room, event.Frame, event.Exclude)
		} else {
			c.deliverer.SendToAll(event.Frame)
		}
	}

	observability.BridgeEventsDelivered.WithLabelValues(routingKey).Inc()
}
