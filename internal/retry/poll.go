package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postforge/internal/services"
)

// ErrJobEnded marks a check that found the remote job finished without a
// result. It ends polling even when the wrapping marker is retryable, so the
// caller can submit a fresh job instead of watching a dead one.
var ErrJobEnded = errors.New("job ended unsuccessfully")

// PollState is a step of the submit-then-poll lifecycle.
type PollState int

const (
	PollSubmitted PollState = iota
	PollPolling
	PollDone
	PollTimedOut
	PollFailed
)

func (s PollState) String() string {
	switch s {
	case PollSubmitted:
		return "submitted"
	case PollPolling:
		return "polling"
	case PollDone:
		return "done"
	case PollTimedOut:
		return "timed_out"
	case PollFailed:
		return "failed"
	default:
		return fmt.Sprintf("poll_state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s PollState) Terminal() bool {
	return s == PollDone || s == PollTimedOut || s == PollFailed
}

// PollMachine is Submitted -> Polling(n/max) -> Done | TimedOut | Failed.
type PollMachine struct {
	state PollState
	polls int
	max   int
}

// NewPollMachine starts in Submitted with a budget of maxPolls checks.
func NewPollMachine(maxPolls int) *PollMachine {
	if maxPolls < 1 {
		maxPolls = 1
	}
	return &PollMachine{state: PollSubmitted, max: maxPolls}
}

func (m *PollMachine) State() PollState { return m.state }

func (m *PollMachine) Polls() int { return m.polls }

func (m *PollMachine) Max() int { return m.max }

// Observe records one status check. A retryable check error counts as an
// unfinished poll; ErrJobEnded or any other error fails the job.
func (m *PollMachine) Observe(done bool, err error) PollState {
	if m.state.Terminal() {
		return m.state
	}
	m.polls++
	switch {
	case err != nil && (errors.Is(err, ErrJobEnded) || !services.IsRetryable(err)):
		m.state = PollFailed
	case err == nil && done:
		m.state = PollDone
	case m.polls >= m.max:
		m.state = PollTimedOut
	default:
		m.state = PollPolling
	}
	return m.state
}

// CheckFunc asks the remote service whether the job finished.
type CheckFunc func(ctx context.Context) (done bool, err error)

// Poller drives a PollMachine, waiting Interval before every check.
type Poller struct {
	Interval time.Duration
	MaxPolls int
	Clock    Clock
	// OnPoll, when set, observes every transition.
	OnPoll func(state PollState, polls, max int)
}

// PollResult summarizes a finished Wait.
type PollResult struct {
	State PollState
	Polls int
}

// Wait polls until the job is done, fails, or exhausts MaxPolls. A timeout
// is reported as services.ErrTimeout so the surrounding retry may resubmit.
func (p Poller) Wait(ctx context.Context, check CheckFunc) (PollResult, error) {
	clock := p.Clock
	if clock == nil {
		clock = System()
	}
	machine := NewPollMachine(p.MaxPolls)
	var lastErr error
	for !machine.State().Terminal() {
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return PollResult{State: machine.State(), Polls: machine.Polls()}, err
		}
		done, err := check(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return PollResult{State: machine.State(), Polls: machine.Polls()}, ctxErr
		}
		lastErr = err
		state := machine.Observe(done, err)
		if p.OnPoll != nil {
			p.OnPoll(state, machine.Polls(), machine.Max())
		}
	}

	result := PollResult{State: machine.State(), Polls: machine.Polls()}
	switch result.State {
	case PollDone:
		return result, nil
	case PollFailed:
		return result, lastErr
	default:
		return result, services.Wrap(services.ErrTimeout, "", "poll",
			fmt.Sprintf("job not finished after %d checks", result.Polls), lastErr)
	}
}
