package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/turnordoficial-hash/turnord02/internal/store"
)

const DefaultChannelPrefix = "queue:"

// Redis carries the feed over Redis pub/sub so every instance serving a
// business sees the same changes.
type Redis struct {
	client *redis.Client
	prefix string
	buffer int
	logger *slog.Logger
}

func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, prefix: prefix, buffer: defaultBuffer, logger: logger}
}

func (r *Redis) Channel(businessID string) string {
	return r.prefix + businessID
}

func (r *Redis) Publish(ctx context.Context, event Event) error {
	if event.BusinessID == "" {
		return store.ErrMissingBusiness
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.Channel(event.BusinessID), payload).Err()
}

func (r *Redis) Subscribe(ctx context.Context, businessID string) (<-chan Event, error) {
	if businessID == "" {
		return nil, store.ErrMissingBusiness
	}
	pubsub := r.client.Subscribe(ctx, r.Channel(businessID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Event, r.buffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.logger.Warn("discard malformed feed message", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
