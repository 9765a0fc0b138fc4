package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukex/dataflow/pkg/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

var ErrAlreadySubscribed = errors.New("event bus is already subscribed")

// NATSEventBus publishes events on a core NATS subject. Delivery is at most
// once; handler errors are logged and the event is dropped.
type NATSEventBus struct {
	conn          *nats.Conn
	logger        *slog.Logger
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
	sub           *nats.Subscription
}

func NewNATSEventBus(conn *nats.Conn, logger *slog.Logger) *NATSEventBus {
	return &NATSEventBus{
		conn:          conn,
		logger:        logger,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *NATSEventBus) GenerateID() string {
	return uuid.NewString()
}

func (eb *NATSEventBus) Publish(_ context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(events.Topic)
	msg.Data = payload
	msg.Header.Set(events.EventMetadataKey, key)
	msg.Header.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.conn.PublishMsg(msg)
}

func (eb *NATSEventBus) Subscribe(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.sub != nil {
		return ErrAlreadySubscribed
	}

	sub, err := eb.conn.Subscribe(events.Topic, func(msg *nats.Msg) {
		eb.dispatch(ctx, msg)
	})
	if err != nil {
		return err
	}

	eb.sub = sub

	go func() {
		<-ctx.Done()

		err := sub.Unsubscribe()
		if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			eb.logger.Error("Failed to unsubscribe from NATS", "error", err)
		}
	}()

	return nil
}

func (eb *NATSEventBus) dispatch(ctx context.Context, msg *nats.Msg) {
	eventType := events.EventType(msg.Header.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		return
	}

	event := newEvent(eventType)
	if event == nil {
		return
	}

	err := json.Unmarshal(msg.Data, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Failed to decode event", "event_type", eventType, "error", err)

		return
	}

	err = handler(ctx, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Event handler failed", "event_type", eventType, "error", err)
	}
}

func (eb *NATSEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

// Close flushes pending publishes and closes the connection.
func (eb *NATSEventBus) Close() error {
	if eb.conn.IsClosed() {
		return nil
	}

	err := eb.conn.Flush()
	eb.conn.Close()

	return err
}
