package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ferrite-id/ferrite/internal/core"
)

// EventPublisher emits lifecycle events onto Redis Streams, one stream per
// topic. The key rides along as a field so consumers can partition by user.
type EventPublisher struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
	logger *slog.Logger
}

// EventPublisherOptions groups dependencies for EventPublisher.
type EventPublisherOptions struct {
	Client redis.UniversalClient // Required
	Prefix string                // Optional stream name prefix, e.g. "ferrite."
	MaxLen int64                 // Optional approximate stream cap, 0 keeps everything
	Logger *slog.Logger          // Optional
}

var _ core.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a stream-backed event publisher.
func NewEventPublisher(opts EventPublisherOptions) (*EventPublisher, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "event_publisher")
	}

	return &EventPublisher{
		client: opts.Client,
		prefix: opts.Prefix,
		maxLen: opts.MaxLen,
		logger: logger,
	}, nil
}

// Publish appends one event to the topic's stream.
func (p *EventPublisher) Publish(ctx context.Context, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.prefix + topic,
		Approx: true,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"key":     key,
			"payload": string(data),
		},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}

	if p.logger != nil {
		p.logger.DebugContext(ctx, "event published", "topic", topic, "key", key)
	}
	return nil
}
