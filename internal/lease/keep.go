package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLost reports that a held lease expired or moved to another holder
// while a pass was running.
var ErrLost = errors.New("lease lost")

// Renewer is implemented by leases that lapse unless renewed while held.
type Renewer interface {
	RenewInterval() time.Duration
}

// Keep returns a context that stays live while l is held. Leases that
// implement Renewer are renewed every RenewInterval; the first failed or
// refused renewal cancels the context with a cause wrapping ErrLost.
//
// stop ends renewal, waits for the renewer to exit, and cancels the context.
// Call it before releasing l.
func Keep(ctx context.Context, l Lease) (held context.Context, stop func()) {
	heldCtx, cancel := context.WithCancelCause(ctx)
	r, ok := l.(Renewer)
	if !ok || r.RenewInterval() <= 0 {
		return heldCtx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(r.RenewInterval())
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-heldCtx.Done():
				return
			case <-ticker.C:
			}
			ok, err := l.Acquire(heldCtx)
			switch {
			case heldCtx.Err() != nil:
				return
			case err != nil:
				cancel(fmt.Errorf("%w: %s: %w", ErrLost, l.Name(), err))
				return
			case !ok:
				cancel(fmt.Errorf("%w: %s is held by another scheduler", ErrLost, l.Name()))
				return
			}
		}
	}()

	var once sync.Once
	return heldCtx, func() {
		once.Do(func() {
			close(done)
			<-exited
			cancel(nil)
		})
	}
}
