package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"lance/pkg/logging"
)

// TypedPubSub publishes and consumes JSON-encoded messages of type T.
type TypedPubSub[T any] struct {
	client goredis.UniversalClient
	logger logging.Logger
}

func NewTypedPubSub[T any](client goredis.UniversalClient, logger logging.Logger) *TypedPubSub[T] {
	return &TypedPubSub[T]{client: client, logger: logger}
}

// Publish returns the number of subscribers that received msg.
func (p *TypedPubSub[T]) Publish(ctx context.Context, channel string, msg T) (int64, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("marshal pubsub payload: %w", err)
	}
	receivers, err := p.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to redis: %w", err)
	}
	return receivers, nil
}

// Subscribe blocks delivering messages matching pattern until ctx is done.
// Undecodable payloads are logged and skipped.
func (p *TypedPubSub[T]) Subscribe(ctx context.Context, pattern string, handler func(channel string, msg T)) error {
	sub := p.client.PSubscribe(ctx, pattern)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to redis: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload T
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				if p.logger != nil {
					p.logger.WithError(err).WithField("channel", msg.Channel).Warn("Dropping undecodable pubsub payload")
				}
				continue
			}
			handler(msg.Channel, payload)
		}
	}
}
