package storage

import (
	"context"

	"stagerun/pkg/models"
	"stagerun/pkg/resilience"
)

// GuardedSink publishes through a circuit breaker.
type GuardedSink struct {
	sink    EventSink
	breaker *resilience.Breaker
}

func NewGuardedSink(sink EventSink, b *resilience.Breaker) *GuardedSink {
	return &GuardedSink{sink: sink, breaker: b}
}

func (g *GuardedSink) Publish(ctx context.Context, ev models.TaskEvent) error {
	return g.breaker.Do(ctx, func(ctx context.Context) error {
		return g.sink.Publish(ctx, ev)
	})
}

// GuardedLogStore archives through a circuit breaker. Retrieve is served
// directly so the status API can still read archives while writes trip.
type GuardedLogStore struct {
	logs    LogStore
	breaker *resilience.Breaker
}

func NewGuardedLogStore(logs LogStore, b *resilience.Breaker) *GuardedLogStore {
	return &GuardedLogStore{logs: logs, breaker: b}
}

func (g *GuardedLogStore) Store(ctx context.Context, entry LogEntry) (string, error) {
	var ref string
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = g.logs.Store(ctx, entry)
		return err
	})
	return ref, err
}

func (g *GuardedLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return g.logs.Retrieve(ctx, reference)
}
