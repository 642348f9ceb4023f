package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stagerun/pkg/models"
)

const (
	StreamKeyEvents = "stagerun:tasks:events"
	defaultMaxLen   = 10000
)

// EventStream publishes task events to a capped Redis stream.
type EventStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

type EventStreamConfig struct {
	Addr         string
	Stream       string
	MaxLen       int64
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultEventStreamConfig(addr string) EventStreamConfig {
	return EventStreamConfig{
		Addr:         addr,
		Stream:       StreamKeyEvents,
		MaxLen:       defaultMaxLen,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func NewEventStream(addr string) (*EventStream, error) {
	return NewEventStreamWithConfig(DefaultEventStreamConfig(addr))
}

func NewEventStreamWithConfig(cfg EventStreamConfig) (*EventStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newEventStream(client, cfg.Stream, cfg.MaxLen), nil
}

func newEventStream(client *redis.Client, stream string, maxLen int64) *EventStream {
	if stream == "" {
		stream = StreamKeyEvents
	}
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &EventStream{client: client, stream: stream, maxLen: maxLen}
}

func (r *EventStream) Close() error {
	return r.client.Close()
}

// Publish appends the event to the stream, trimming it approximately to MaxLen.
func (r *EventStream) Publish(ctx context.Context, ev models.TaskEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
			"task_id": ev.TaskID.String(),
			"status":  string(ev.Status),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (r *EventStream) Recent(ctx context.Context, n int64) ([]models.TaskEvent, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	events := make([]models.TaskEvent, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev models.TaskEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %s: %w", msg.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
