package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"stagerun/pkg/resource"
)

const (
	// ResourcePrefix holds one JSON resource config per key, e.g.
	// /stagerun/resources/gpu-node -> {"label":"gpu-node","kind":"ssh",...}
	ResourcePrefix = "/stagerun/resources/"
	lockPrefix     = "/stagerun/locks/"
)

// Provider reads resource configs from etcd and hands out workflow locks.
type Provider struct {
	client  *clientv3.Client
	session *concurrency.Session
	ttl     int
}

func NewProvider(endpoints []string, ttl int) (*Provider, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &Provider{client: cli, ttl: ttl}, nil
}

func (p *Provider) Close() error {
	if p.session != nil {
		p.session.Close()
	}
	return p.client.Close()
}

// Resources returns every config under ResourcePrefix in key order.
func (p *Provider) Resources(ctx context.Context) ([]resource.Config, error) {
	resp, err := p.client.Get(ctx, ResourcePrefix, clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	entries := make([]Entry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entries = append(entries, Entry{Key: string(kv.Key), Value: kv.Value})
	}
	return DecodeResources(entries)
}

// Entry is one raw key/value read from etcd.
type Entry struct {
	Key   string
	Value []byte
}

// DecodeResources parses JSON resource configs. A config without a label
// takes the key suffix as its label.
func DecodeResources(entries []Entry) ([]resource.Config, error) {
	cfgs := make([]resource.Config, 0, len(entries))
	for _, e := range entries {
		var cfg resource.Config
		if err := json.Unmarshal(e.Value, &cfg); err != nil {
			return nil, fmt.Errorf("resource %s: %w", e.Key, err)
		}
		if cfg.Label == "" {
			cfg.Label = strings.TrimPrefix(e.Key, ResourcePrefix)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// Lock takes a session-scoped mutex; it is released on unlock or when the
// session lease expires.
func (p *Provider) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	if p.session == nil {
		sess, err := concurrency.NewSession(p.client, concurrency.WithTTL(p.ttl))
		if err != nil {
			return nil, fmt.Errorf("failed to create concurrency session: %w", err)
		}
		p.session = sess
	}

	m := concurrency.NewMutex(p.session, lockPrefix+name)
	if err := m.Lock(ctx); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", name, err)
	}
	return m.Unlock, nil
}
