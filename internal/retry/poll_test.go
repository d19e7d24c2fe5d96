package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"postforge/internal/retry"
	"postforge/internal/services"
)

func TestPollMachineTransitions(t *testing.T) {
	m := retry.NewPollMachine(3)
	if m.State() != retry.PollSubmitted {
		t.Fatalf("initial state = %s", m.State())
	}
	if s := m.Observe(false, nil); s != retry.PollPolling {
		t.Fatalf("after first poll = %s", s)
	}
	if s := m.Observe(false, services.Wrap(services.ErrTransient, "", "", "blip", nil)); s != retry.PollPolling {
		t.Fatalf("transient check error should keep polling, got %s", s)
	}
	if s := m.Observe(false, nil); s != retry.PollTimedOut {
		t.Fatalf("budget exhausted should time out, got %s", s)
	}
	if s := m.Observe(true, nil); s != retry.PollTimedOut || m.Polls() != 3 {
		t.Fatalf("terminal state must not change, got %s polls=%d", s, m.Polls())
	}

	done := retry.NewPollMachine(5)
	done.Observe(false, nil)
	if s := done.Observe(true, nil); s != retry.PollDone {
		t.Fatalf("expected done, got %s", s)
	}

	failed := retry.NewPollMachine(5)
	if s := failed.Observe(false, errors.New("job faulted")); s != retry.PollFailed {
		t.Fatalf("expected failed, got %s", s)
	}

	ended := retry.NewPollMachine(5)
	endedErr := services.Wrap(services.ErrTransient, "", "check", "job faulted", retry.ErrJobEnded)
	if s := ended.Observe(false, endedErr); s != retry.PollFailed || ended.Polls() != 1 {
		t.Fatalf("an ended job must stop polling even when retryable, got %s polls=%d", s, ended.Polls())
	}
}

func TestPollerWaitDone(t *testing.T) {
	clock := retry.NewFakeClock(time.Unix(0, 0))
	checks := 0
	var states []retry.PollState
	poller := retry.Poller{
		Interval: 10 * time.Second,
		MaxPolls: 60,
		Clock:    clock,
		OnPoll:   func(s retry.PollState, _, _ int) { states = append(states, s) },
	}
	result, err := poller.Wait(context.Background(), func(context.Context) (bool, error) {
		checks++
		return checks == 4, nil
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result.State != retry.PollDone || result.Polls != 4 {
		t.Fatalf("result = %+v", result)
	}
	if elapsed := clock.Now().Sub(time.Unix(0, 0)); elapsed != 40*time.Second {
		t.Fatalf("elapsed = %v", elapsed)
	}
	if len(states) != 4 || states[3] != retry.PollDone {
		t.Fatalf("states = %v", states)
	}
}

func TestPollerWaitTimesOut(t *testing.T) {
	clock := retry.NewFakeClock(time.Unix(0, 0))
	poller := retry.Poller{Interval: 10 * time.Second, MaxPolls: 60, Clock: clock}
	result, err := poller.Wait(context.Background(), func(context.Context) (bool, error) { return false, nil })
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if result.State != retry.PollTimedOut || result.Polls != 60 {
		t.Fatalf("result = %+v", result)
	}
	if elapsed := clock.Now().Sub(time.Unix(0, 0)); elapsed != 600*time.Second {
		t.Fatalf("elapsed = %v", elapsed)
	}
}

func TestPollerWaitFailed(t *testing.T) {
	faulted := services.Wrap(services.ErrRejected, "posts", "check", "job faulted", nil)
	poller := retry.Poller{Interval: time.Second, MaxPolls: 5, Clock: retry.NewFakeClock(time.Unix(0, 0))}
	result, err := poller.Wait(context.Background(), func(context.Context) (bool, error) { return false, faulted })
	if !errors.Is(err, services.ErrRejected) || result.State != retry.PollFailed || result.Polls != 1 {
		t.Fatalf("result = %+v err = %v", result, err)
	}
}

func TestPollerWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	poller := retry.Poller{Interval: time.Second, MaxPolls: 5, Clock: retry.NewFakeClock(time.Unix(0, 0))}
	if _, err := poller.Wait(ctx, func(context.Context) (bool, error) { return true, nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
