package resource

import (
	"errors"
	"fmt"
)

// Pool is the fixed, ordered set of resources known to the engine. It is
// built once and never changes, so concurrent lookups need no locking.
type Pool struct {
	order []string
	byKey map[string]*Resource
}

// NewPool builds a pool from already-opened resources.
func NewPool(resources ...*Resource) (*Pool, error) {
	p := &Pool{byKey: make(map[string]*Resource, len(resources))}
	for _, r := range resources {
		label := r.Label()
		if label == "" {
			return nil, errors.New("pool: resource without label")
		}
		if _, dup := p.byKey[label]; dup {
			return nil, fmt.Errorf("pool: duplicate resource label %q", label)
		}
		p.order = append(p.order, label)
		p.byKey[label] = r
	}
	return p, nil
}

// OpenPool opens every config in order. Already opened transports are closed
// if a later one fails.
func OpenPool(cfgs []Config) (*Pool, error) {
	var opened []*Resource
	for _, cfg := range cfgs {
		r, err := Open(cfg)
		if err != nil {
			for _, o := range opened {
				_ = o.Transport.Close()
			}
			return nil, err
		}
		opened = append(opened, r)
	}
	return NewPool(opened...)
}

// Labels returns resource labels in configuration order.
func (p *Pool) Labels() []string {
	return append([]string(nil), p.order...)
}

// Get looks up a resource by label.
func (p *Pool) Get(label string) (*Resource, bool) {
	r, ok := p.byKey[label]
	return r, ok
}

// Len returns the number of resources.
func (p *Pool) Len() int { return len(p.order) }

// Close closes every transport.
func (p *Pool) Close() error {
	var errs []error
	for _, label := range p.order {
		if err := p.byKey[label].Transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}
