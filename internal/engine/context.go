package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mindwolf80/nice/internal/runner"
)

// ErrCancelled is returned by checkpoints once a graceful or forceful
// cancellation has been requested.
var ErrCancelled = errors.New("run cancelled")

// RunState is the lifecycle state of one run.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused
	StateCancelRequested
	StateForceAborted
	StateCompleted
	StateCancelled
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCancelRequested:
		return "cancel requested"
	case StateForceAborted:
		return "aborted"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// runContext carries all mutable state of one run: the pause gate, the
// cancellation flags, the active-session registry, and the outcome counters.
// A fresh runContext is built per run and never reused, so no state can
// leak across runs.
type runContext struct {
	id uuid.UUID

	mu        sync.Mutex
	state     RunState
	gateCh    chan struct{} // closed while running, open (blocking) while paused
	sessions  map[string]runner.Session
	resultsCh chan runner.Result

	cancelled atomic.Bool
	abortCh   chan struct{}
	abortOnce sync.Once

	completed int
	failed    int
	skipped   int
}

func newRunContext() *runContext {
	gate := make(chan struct{})
	close(gate)
	return &runContext{
		id:       uuid.New(),
		state:    StateIdle,
		gateCh:   gate,
		sessions: make(map[string]runner.Session),
		abortCh:  make(chan struct{}),
	}
}

func (rc *runContext) setState(s RunState) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.state = s
}

func (rc *runContext) getState() RunState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// pause blocks new work at the next checkpoint without touching in-flight
// connections. It is a no-op unless the run is currently running.
func (rc *runContext) pause() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.state != StateRunning {
		return false
	}
	rc.state = StatePaused
	rc.gateCh = make(chan struct{})
	return true
}

// resume releases the pause gate.
func (rc *runContext) resume() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.state != StatePaused {
		return false
	}
	rc.state = StateRunning
	close(rc.gateCh)
	return true
}

func (rc *runContext) gate() <-chan struct{} {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.gateCh
}

// cancel requests a graceful stop: every task stops at its next checkpoint,
// in-flight commands still complete.
func (rc *runContext) cancel() {
	rc.cancelled.Store(true)
	rc.mu.Lock()
	if rc.state == StateRunning || rc.state == StatePaused {
		rc.state = StateCancelRequested
	}
	// A paused run must be able to observe the cancellation.
	select {
	case <-rc.gateCh:
	default:
		close(rc.gateCh)
	}
	rc.mu.Unlock()
}

// abort performs a forceful stop: the graceful flag is set and every session
// in the registry is closed synchronously. Sessions already closing are
// tolerated. Reachable from any state.
func (rc *runContext) abort() {
	rc.abortOnce.Do(func() {
		rc.cancel()
		rc.setState(StateForceAborted)
		close(rc.abortCh)
		rc.closeAllSessions()
	})
}

func (rc *runContext) aborted() bool {
	select {
	case <-rc.abortCh:
		return true
	default:
		return false
	}
}

// checkpoint is the cooperative suspension point: it observes graceful
// cancellation and blocks while the run is paused.
func (rc *runContext) checkpoint(ctx context.Context) error {
	if rc.cancelled.Load() {
		return ErrCancelled
	}
	select {
	case <-rc.gate():
	case <-ctx.Done():
		return ctx.Err()
	}
	if rc.cancelled.Load() {
		return ErrCancelled
	}
	return ctx.Err()
}

// register adds a live session to the run's registry so a forceful abort
// can reach it.
func (rc *runContext) register(key string, sess runner.Session) {
	rc.mu.Lock()
	rc.sessions[key] = sess
	rc.mu.Unlock()
}

// unregister removes and reports whether the session was still registered.
func (rc *runContext) unregister(key string) {
	rc.mu.Lock()
	delete(rc.sessions, key)
	rc.mu.Unlock()
}

// closeAllSessions force-closes every registered session. Close errors are
// ignored: sessions may already be closing on their owning task.
func (rc *runContext) closeAllSessions() {
	rc.mu.Lock()
	sessions := make([]runner.Session, 0, len(rc.sessions))
	for k, s := range rc.sessions {
		sessions = append(sessions, s)
		delete(rc.sessions, k)
	}
	rc.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

// activeSessions reports the registry size.
func (rc *runContext) activeSessions() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.sessions)
}

func (rc *runContext) addOutcome(outcome deviceOutcome) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	switch outcome {
	case deviceCompleted:
		rc.completed++
	case deviceFailed:
		rc.failed++
	case deviceSkipped:
		rc.skipped++
	}
}

func (rc *runContext) counts() (completed, failed, skipped int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.completed, rc.failed, rc.skipped
}

// deviceOutcome is the per-device contribution to the run summary.
type deviceOutcome int

const (
	deviceCompleted deviceOutcome = iota
	deviceFailed
	deviceSkipped
)
