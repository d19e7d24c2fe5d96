package lease_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"postforge/internal/config"
	"postforge/internal/lease"
)

func TestFileLeaseExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first := lease.NewFile(dir, "goal")
	second := lease.NewFile(dir, "goal")
	other := lease.NewFile(dir, "posts")

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("re-acquire by holder = %v, %v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("second holder must be refused, got %v, %v", ok, err)
	}
	if ok, err := other.Acquire(ctx); err != nil || !ok {
		t.Fatalf("leases are per stage, got %v, %v", ok, err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("lease should be free after release, got %v, %v", ok, err)
	}
	_ = second.Release(ctx)
	_ = other.Release(ctx)
	if _, err := os.Stat(filepath.Join(dir, "goal.lock")); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}
}

func TestOpenBackends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Lease
		backend string
		wantErr bool
	}{
		{"none", config.Lease{Backend: "none"}, config.LeaseNone, false},
		{"empty", config.Lease{}, config.LeaseNone, false},
		{"file", config.Lease{Backend: "file", Dir: t.TempDir()}, config.LeaseFile, false},
		{"file without dir", config.Lease{Backend: "file"}, "", true},
		{"redis without addr", config.Lease{Backend: "redis"}, "", true},
		{"redis", config.Lease{Backend: "redis", RedisAddr: "127.0.0.1:1", KeyPrefix: "test"}, config.LeaseRedis, false},
		{"unknown", config.Lease{Backend: "etcd"}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := lease.Open(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer provider.Close()
			if provider.Backend() != tc.backend || provider.For("goal").Name() == "" {
				t.Fatalf("unexpected provider %q", provider.Backend())
			}
		})
	}

	provider, _ := lease.Open(config.Lease{Backend: "none"})
	if ok, err := provider.For("goal").Acquire(context.Background()); !ok || err != nil {
		t.Fatalf("none lease must always be granted, got %v, %v", ok, err)
	}
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return server, client
}

func TestRedisLease(t *testing.T) {
	server, client := newRedisClient(t)
	ctx := context.Background()

	first := lease.NewRedis(client, "pf:", "goal", 2*time.Second)
	second := lease.NewRedis(client, "pf", "goal", 2*time.Second)
	if first.Name() != "redis:pf:goal" || second.Name() != first.Name() {
		t.Fatalf("unexpected names %q %q", first.Name(), second.Name())
	}
	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	server.FastForward(1500 * time.Millisecond)
	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("renew = %v, %v", ok, err)
	}
	if ttl := server.TTL("pf:goal"); ttl != 2*time.Second {
		t.Fatalf("renew should restore the full TTL, got %s", ttl)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("second holder must be refused, got %v, %v", ok, err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("non-holder release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("non-holder release must not free the lease")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("lease should be free after release, got %v, %v", ok, err)
	}
}

func TestRedisLeaseLapsesWithoutRenewal(t *testing.T) {
	server, client := newRedisClient(t)
	ctx := context.Background()
	first := lease.NewRedis(client, "pf", "posts", time.Second)
	second := lease.NewRedis(client, "pf", "posts", time.Second)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	server.FastForward(2 * time.Second)
	if ok, err := second.Acquire(ctx); err != nil || !ok {
		t.Fatalf("expired lease should pass to the next scheduler, got %v, %v", ok, err)
	}
	if ok, err := first.Acquire(ctx); err != nil || ok {
		t.Fatalf("former holder must not reclaim a taken lease, got %v, %v", ok, err)
	}
}

func TestKeepRenewsRedisLeaseDuringPass(t *testing.T) {
	server, client := newRedisClient(t)
	ctx := context.Background()
	holder := lease.NewRedis(client, "pf", "posts", 300*time.Millisecond)
	if holder.RenewInterval() != 100*time.Millisecond {
		t.Fatalf("unexpected renew interval %s", holder.RenewInterval())
	}
	if ok, err := holder.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	held, stop := lease.Keep(ctx, holder)
	defer stop()
	for round := 0; round < 3; round++ {
		server.FastForward(250 * time.Millisecond)
		deadline := time.Now().Add(2 * time.Second)
		for server.TTL("pf:posts") <= 100*time.Millisecond {
			if time.Now().After(deadline) {
				t.Fatalf("round %d: lease was not renewed, ttl %s", round, server.TTL("pf:posts"))
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	if held.Err() != nil {
		t.Fatalf("pass context cancelled while the lease was renewed: %v", context.Cause(held))
	}

	stop()
	if !errors.Is(held.Err(), context.Canceled) || errors.Is(context.Cause(held), lease.ErrLost) {
		t.Fatalf("stop should cancel without a lost cause, got %v", context.Cause(held))
	}
}

func TestKeepCancelsPassWhenLeaseTaken(t *testing.T) {
	server, client := newRedisClient(t)
	ctx := context.Background()
	holder := lease.NewRedis(client, "pf", "posts", 300*time.Millisecond)
	if ok, err := holder.Acquire(ctx); err != nil || !ok {
		t.Fatalf("Acquire = %v, %v", ok, err)
	}

	held, stop := lease.Keep(ctx, holder)
	defer stop()
	if err := server.Set("pf:posts", "other-scheduler"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-held.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pass context survived a lost lease")
	}
	if !errors.Is(context.Cause(held), lease.ErrLost) {
		t.Fatalf("expected lost cause, got %v", context.Cause(held))
	}
	if err := holder.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if got, _ := server.Get("pf:posts"); got != "other-scheduler" {
		t.Fatalf("release must leave the new holder's key, got %q", got)
	}
}

func TestKeepWithoutRenewalOnlyStops(t *testing.T) {
	held, stop := lease.Keep(context.Background(), lease.NewFile(t.TempDir(), "goal"))
	if held.Err() != nil {
		t.Fatal("context cancelled before stop")
	}
	stop()
	stop()
	if held.Err() == nil || errors.Is(context.Cause(held), lease.ErrLost) {
		t.Fatalf("unexpected cause %v", context.Cause(held))
	}
}
