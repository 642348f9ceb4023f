package cli

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	config "stagerun/configs"
	"stagerun/pkg/coordination"
	"stagerun/pkg/coordination/etcd"
	"stagerun/pkg/executor"
	tracing "stagerun/pkg/observability"
	"stagerun/pkg/params"
	"stagerun/pkg/resilience"
	"stagerun/pkg/resource"
	"stagerun/pkg/storage"
	"stagerun/pkg/storage/memory"
	"stagerun/pkg/storage/postgres"
	"stagerun/pkg/storage/redis"
	"stagerun/pkg/workflow"
)

// loadDefinition reads the workflow file and applies the form override.
func loadDefinition(path, formPath string) (*workflow.Definition, error) {
	def, err := workflow.Load(path)
	if err != nil {
		return nil, err
	}
	if formPath == "" {
		return def, nil
	}

	form, err := params.LoadFile(formPath)
	if err != nil {
		return nil, err
	}
	def.Form = form
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("form %s: %w", formPath, err)
	}
	return def, nil
}

// resolveResources fills def.Resources from the provider when the workflow
// file lists none, and returns them in label order.
func resolveResources(ctx context.Context, def *workflow.Definition, provider coordination.ResourceProvider) ([]resource.Config, error) {
	if len(def.Resources) == 0 && provider != nil {
		cfgs, err := provider.Resources(ctx)
		if err != nil {
			return nil, err
		}
		def.Resources = cfgs
	}
	if len(def.Resources) == 0 {
		return nil, errors.New("no resources: add [[resources]] to the workflow or set ETCD_ENDPOINTS")
	}
	if len(def.ResourceLabels) == 0 {
		for _, r := range def.Resources {
			def.ResourceLabels = append(def.ResourceLabels, r.Label)
		}
	}
	return def.ResourceConfigs()
}

// backends holds the optional services a run uses. Nil fields are disabled.
type backends struct {
	log      *zap.Logger
	provider coordination.ResourceProvider
	locker   coordination.Locker
	store    storage.ExecutionStore
	events   storage.EventSink
	logs     storage.LogStore
	tracing  *tracing.Provider

	closers []func() error
}

// openBackends connects every service cfg enables. A service that is
// configured but unreachable is an error.
func openBackends(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{log: log}

	if len(cfg.EtcdEndpoints) > 0 {
		p, err := etcd.NewProvider(cfg.EtcdEndpoints, cfg.EtcdLockTTL)
		if err != nil {
			return nil, err
		}
		b.provider, b.locker = p, p
		b.closers = append(b.closers, p.Close)
		log.Info("etcd enabled", zap.Strings("endpoints", cfg.EtcdEndpoints))
	}

	if dsn := cfg.DatabaseDSN(); dsn != "" {
		s, err := postgres.NewPostgresStore(dsn)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.store = s
		b.closers = append(b.closers, s.Close)
		log.Info("postgres execution store enabled", zap.String("host", cfg.DBHost))
	} else {
		mem := memory.NewStore()
		b.store = mem
		if cfg.RedisAddr == "" {
			b.events = mem
		}
	}

	if cfg.RedisAddr != "" {
		rc := redis.DefaultEventStreamConfig(cfg.RedisAddr)
		rc.Stream = cfg.RedisStream
		s, err := redis.NewEventStreamWithConfig(rc)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.events = storage.NewGuardedSink(s, b.breaker("redis"))
		b.closers = append(b.closers, s.Close)
		log.Info("redis event stream enabled", zap.String("stream", rc.Stream))
	}

	switch {
	case cfg.S3Bucket != "":
		s, err := storage.NewS3LogStore(ctx, storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.logs = storage.NewGuardedLogStore(s, b.breaker("s3"))
		log.Info("s3 log archive enabled", zap.String("bucket", cfg.S3Bucket))
	case cfg.LogDir != "":
		s, err := storage.NewLocalLogStore(cfg.LogDir)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.logs = s
		log.Info("local log archive enabled", zap.String("dir", cfg.LogDir))
	}

	tcfg := tracing.DefaultConfig("stagerun")
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Endpoint = cfg.TracingEndpoint
	tcfg.SamplingRate = cfg.TracingSampling
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.tracing = tp

	return b, nil
}

// breaker guards a remote backend; transitions are logged.
func (b *backends) breaker(name string) *resilience.Breaker {
	return resilience.New(name, resilience.DefaultConfig(),
		resilience.OnStateChange(func(name string, from, to resilience.State) {
			b.log.Warn("backend circuit changed",
				zap.String("backend", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}))
}

func (b *backends) tracer() trace.Tracer {
	if b.tracing == nil {
		return nil
	}
	return b.tracing.Tracer()
}

// engineOptions wires the enabled services into an engine.
func (b *backends) engineOptions() []executor.Option {
	opts := []executor.Option{
		executor.WithLogger(b.log),
		executor.WithTracer(b.tracer()),
	}
	if b.store != nil {
		opts = append(opts, executor.WithStore(b.store))
	}
	if b.events != nil {
		opts = append(opts, executor.WithEvents(b.events))
	}
	if b.logs != nil {
		opts = append(opts, executor.WithLogStore(b.logs))
	}
	return opts
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() {
	if b.tracing != nil {
		if err := b.tracing.Shutdown(context.Background()); err != nil {
			b.log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.log.Warn("backend close failed", zap.Error(err))
		}
	}
	b.closers = nil
}
