// Package lease guards the single-active-scheduler assumption per stage.
//
// Backends: "none" always grants the lease, "file" holds a host-local flock
// per stage, and "redis" holds an owner-tokened key with a TTL. Keep renews
// a redis lease at a third of its TTL while a pass runs and cancels the pass
// once the lease is lost. The redis lease is still advisory: a process that
// stalls past the TTL without running its renewer can overlap with its
// successor until its next storage call.
package lease

import (
	"context"
	"fmt"
	"strings"
	"time"

	"postforge/internal/config"
)

// Lease is held by one scheduler lane at a time.
type Lease interface {
	// Acquire obtains or renews the lease. False means another holder owns it.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	// Name identifies the lock for logs and status output.
	Name() string
}

// Provider hands out one lease per stage.
type Provider struct {
	backend string
	forFn   func(stage string) Lease
	closeFn func() error
}

// Open builds the provider selected by cfg.Backend.
func Open(cfg config.Lease) (*Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", config.LeaseNone:
		return &Provider{
			backend: config.LeaseNone,
			forFn:   func(stage string) Lease { return none{stage: stage} },
		}, nil
	case config.LeaseFile:
		if strings.TrimSpace(cfg.Dir) == "" {
			return nil, fmt.Errorf("lease.dir is required for the file backend")
		}
		return &Provider{
			backend: config.LeaseFile,
			forFn:   func(stage string) Lease { return NewFile(cfg.Dir, stage) },
		}, nil
	case config.LeaseRedis:
		client, err := newRedisClient(cfg)
		if err != nil {
			return nil, err
		}
		ttl := time.Duration(cfg.TTLSeconds) * time.Second
		return &Provider{
			backend: config.LeaseRedis,
			forFn:   func(stage string) Lease { return NewRedis(client, cfg.KeyPrefix, stage, ttl) },
			closeFn: client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported lease backend %q", cfg.Backend)
	}
}

// For returns the lease guarding stage.
func (p *Provider) For(stage string) Lease {
	return p.forFn(stage)
}

// Backend reports the configured backend name.
func (p *Provider) Backend() string {
	return p.backend
}

// Close releases backend connections.
func (p *Provider) Close() error {
	if p == nil || p.closeFn == nil {
		return nil
	}
	return p.closeFn()
}

type none struct{ stage string }

func (none) Acquire(context.Context) (bool, error) { return true, nil }
func (none) Release(context.Context) error         { return nil }
func (n none) Name() string                        { return "none:" + n.stage }
