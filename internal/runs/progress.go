package runs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/arstatement/internal/shared"
)

// ProgressPublisher fans run progress out to observers of a single run.
type ProgressPublisher interface {
	Publish(ctx context.Context, ev ProgressEvent) error
	// Subscribe streams events for one run until ctx ends or the returned stop func is called.
	Subscribe(ctx context.Context, runID int64) (<-chan ProgressEvent, func(), error)
}

// RedisProgress publishes events on a per-run redis channel.
type RedisProgress struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisProgress constructs the redis-backed publisher.
func NewRedisProgress(client *redis.Client, logger *slog.Logger) *RedisProgress {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisProgress{client: client, logger: logger}
}

// Publish sends the event to the run's channel.
func (p *RedisProgress) Publish(ctx context.Context, ev ProgressEvent) error {
	if p == nil || p.client == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, shared.RunProgressChannel(ev.RunID), payload).Err()
}

// Subscribe listens on the run's channel.
func (p *RedisProgress) Subscribe(ctx context.Context, runID int64) (<-chan ProgressEvent, func(), error) {
	pubsub := p.client.Subscribe(ctx, shared.RunProgressChannel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					p.logger.Warn("decode run progress", slog.Int64("run_id", runID), slog.Any("error", err))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
