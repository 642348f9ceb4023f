// Package resource holds the read-only pool of execution resources and the
// transports used to reach them.
package resource

import (
	"context"
	"fmt"
	"path"

	"stagerun/pkg/executor/runner"
	"stagerun/pkg/staging"
)

// Kind selects the transport for a resource.
type Kind string

const (
	KindLocal Kind = "local"
	KindSSH   Kind = "ssh"
)

// Config describes one resource as supplied by the external config provider.
type Config struct {
	Label      string `toml:"label" json:"label" yaml:"label"`
	Kind       Kind   `toml:"kind" json:"kind" yaml:"kind"`
	WorkingDir string `toml:"working_dir" json:"working_dir" yaml:"working_dir"`
	Host       string `toml:"host" json:"host,omitempty" yaml:"host"`
	Port       int    `toml:"port" json:"port,omitempty" yaml:"port"`
	User       string `toml:"user" json:"user,omitempty" yaml:"user"`
	KeyFile    string `toml:"key_file" json:"key_file,omitempty" yaml:"key_file"`
	KnownHosts string `toml:"known_hosts" json:"known_hosts,omitempty" yaml:"known_hosts"`
	Slots      int    `toml:"slots" json:"slots,omitempty" yaml:"slots"`
}

// Validate checks the fields every transport needs.
func (c Config) Validate() error {
	if c.Label == "" {
		return fmt.Errorf("resource: label is required")
	}
	if !path.IsAbs(c.WorkingDir) {
		return fmt.Errorf("resource %s: working_dir %q must be absolute", c.Label, c.WorkingDir)
	}
	switch c.Kind {
	case KindLocal, "":
	case KindSSH:
		if c.Host == "" {
			return fmt.Errorf("resource %s: ssh resources need a host", c.Label)
		}
	default:
		return fmt.Errorf("resource %s: unknown kind %q", c.Label, c.Kind)
	}
	return nil
}

// Transport moves files to and from a resource and runs commands on it.
// Paths passed as remote are paths on the resource; local paths are on the
// submit host.
type Transport interface {
	// Push stages local src to remote dst.
	Push(ctx context.Context, src, dst string, mode staging.Mode) (int64, error)
	// Pull stages remote src back to local dst.
	Pull(ctx context.Context, src, dst string, mode staging.Mode) (int64, error)
	Run(ctx context.Context, spec runner.Spec) runner.Result
	Stat(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Close() error
}

// Resource is a labelled execution target.
type Resource struct {
	Config    Config
	Transport Transport
}

func (r *Resource) Label() string      { return r.Config.Label }
func (r *Resource) WorkingDir() string { return r.Config.WorkingDir }

// Open builds the transport for cfg.
func Open(cfg Config) (*Resource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		t   Transport
		err error
	)
	switch cfg.Kind {
	case KindSSH:
		t, err = DialSSH(cfg)
	default:
		cfg.Kind = KindLocal
		t = NewLocalTransport(cfg.Slots)
	}
	if err != nil {
		return nil, fmt.Errorf("open resource %s: %w", cfg.Label, err)
	}
	return &Resource{Config: cfg, Transport: t}, nil
}
