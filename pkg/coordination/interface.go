package coordination

import (
	"context"

	"stagerun/pkg/resource"
)

// ResourceProvider supplies the resource configurations the pool is built
// from. It is read once at startup; the pool never re-discovers resources.
type ResourceProvider interface {
	Resources(ctx context.Context) ([]resource.Config, error)

	// Close terminates the provider connection.
	Close() error
}

// Locker serializes workflow runs that share a name across processes.
type Locker interface {
	// Lock blocks until the named lock is held or ctx is done.
	Lock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}

// StaticProvider serves a fixed list, usually the [[resources]] tables of a
// workflow file.
type StaticProvider struct {
	configs []resource.Config
}

func NewStaticProvider(cfgs ...resource.Config) *StaticProvider {
	return &StaticProvider{configs: append([]resource.Config(nil), cfgs...)}
}

func (p *StaticProvider) Resources(ctx context.Context) ([]resource.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]resource.Config(nil), p.configs...), nil
}

func (p *StaticProvider) Close() error { return nil }
