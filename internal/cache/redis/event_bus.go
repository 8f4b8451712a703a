package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

// Event channel and stream names. Pub/Sub gives live fan-out; the stream
// keeps a bounded durable tail for replay and indexing.
const (
	eventChannel = "events:settlement"
	eventStream  = "stream:settlement"
)

// streamMaxLen is the approximate maximum length for the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// envelope wraps a domain event with its type tag and emit time so consumers
// can dispatch without decoding the payload.
type envelope struct {
	Type    string          `json:"type"`
	Emitted int64           `json:"emitted"`
	Payload json.RawMessage `json:"payload"`
}

// EventBus implements domain.EventPublisher on Redis. Publication is
// fire-and-forget: failures are logged and never propagate to the engine
// operation that emitted the event.
type EventBus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client, logger *slog.Logger) *EventBus {
	return &EventBus{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

var _ domain.EventPublisher = (*EventBus)(nil)

// Publish emits an event to the live channel and appends it to the durable
// stream.
func (eb *EventBus) Publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		eb.logger.ErrorContext(ctx, "marshal event",
			slog.String("event_type", ev.EventType()),
			slog.String("error", err.Error()),
		)
		return
	}
	raw, err := json.Marshal(envelope{
		Type:    ev.EventType(),
		Emitted: time.Now().Unix(),
		Payload: payload,
	})
	if err != nil {
		eb.logger.ErrorContext(ctx, "marshal envelope",
			slog.String("event_type", ev.EventType()),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := eb.rdb.Publish(ctx, eventChannel, raw).Err(); err != nil {
		eb.logger.WarnContext(ctx, "publish event",
			slog.String("event_type", ev.EventType()),
			slog.String("error", err.Error()),
		)
	}

	args := &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": raw},
	}
	if err := eb.rdb.XAdd(ctx, args).Err(); err != nil {
		eb.logger.WarnContext(ctx, "append event to stream",
			slog.String("event_type", ev.EventType()),
			slog.String("error", err.Error()),
		)
	}
}

// Subscribe creates a Pub/Sub subscription to the live event channel and
// returns a read-only channel of raw envelope payloads. The subscription is
// closed when the context is cancelled; the returned channel is closed at
// that point as well.
func (eb *EventBus) Subscribe(ctx context.Context) (<-chan []byte, error) {
	pubsub := eb.rdb.Subscribe(ctx, eventChannel)

	// Verify the subscription is established by receiving the confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", eventChannel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// StreamRead reads up to count events from the durable stream starting after
// lastID. Use "0" or "0-0" to read from the beginning, or "$" for new events
// only. It returns an empty slice (not an error) when nothing is available.
func (eb *EventBus) StreamRead(ctx context.Context, lastID string, count int) ([]domain.StreamMessage, error) {
	args := &redis.XReadArgs{
		Streams: []string{eventStream, lastID},
		Count:   int64(count),
		Block:   -1,
	}

	results, err := eb.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", eventStream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			payload, ok := msg.Values["payload"]
			if !ok {
				continue
			}

			var data []byte
			switch v := payload.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}

			messages = append(messages, domain.StreamMessage{
				ID:      msg.ID,
				Payload: data,
			})
		}
	}

	return messages, nil
}
