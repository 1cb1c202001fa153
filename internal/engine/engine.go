// Package engine schedules command execution across many devices: it
// partitions the device set into fixed-size batches, drains each batch
// through a bounded worker pool, and exposes pause/resume plus two-tier
// cancellation over a live result stream. All run-scoped state lives on a
// per-run context, so the engine is safe to reuse across runs.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mindwolf80/nice/internal/device"
	"github.com/mindwolf80/nice/internal/runner"
)

// Gateway opens device sessions. The production implementation dials
// interactive SSH shells; tests substitute scripted gateways.
type Gateway interface {
	Connect(ctx context.Context, target device.Target) (runner.Session, error)
}

// PacingMode selects how devices are dispatched.
type PacingMode int

const (
	// PacingParallel drains each batch through the bounded worker pool.
	PacingParallel PacingMode = iota
	// PacingSerial runs devices one at a time with an optional fixed delay
	// or operator confirmation between them.
	PacingSerial
)

// Pacing configures serial-mode dispatch.
type Pacing struct {
	Mode  PacingMode
	Delay time.Duration
	// Confirm, when set in serial mode, gates each device on an operator
	// decision. Returning an error skips the remaining devices.
	Confirm func(ctx context.Context, next device.Target) error
}

// BatchOutcome reports per-batch progress.
type BatchOutcome struct {
	Batch     int // 1-based batch index
	Batches   int
	Completed int
	Failed    int
	Skipped   int
}

// Summary is the final accounting of one run.
type Summary struct {
	RunID     uuid.UUID
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int
	Cancelled bool
	Aborted   bool
	Duration  time.Duration
}

const (
	defaultMaxWorkers = 10
	defaultBatchSize  = 5
)

// Engine runs command plans against device sets.
type Engine struct {
	gateway     Gateway
	runner      *runner.Runner
	log         *zap.Logger
	maxWorkers  int
	batchSize   int
	retryBudget time.Duration
	retryWait   time.Duration
	pacing      Pacing
	onBatch     func(BatchOutcome)
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxWorkers caps the worker pool draining a batch.
func WithMaxWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithBatchSize sets how many devices form one batch.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRetryBudget sets the total connect-retry budget per device.
func WithRetryBudget(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBudget = d
		}
	}
}

// WithRetryWait overrides the fixed inter-attempt connect delay.
func WithRetryWait(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryWait = d
		}
	}
}

// WithPacing sets the dispatch pacing.
func WithPacing(p Pacing) Option {
	return func(e *Engine) { e.pacing = p }
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithBatchCallback registers a progress callback invoked after each batch.
func WithBatchCallback(fn func(BatchOutcome)) Option {
	return func(e *Engine) { e.onBatch = fn }
}

// New creates an Engine with the given gateway and options.
func New(gw Gateway, opts ...Option) *Engine {
	e := &Engine{
		gateway:     gw,
		log:         zap.NewNop(),
		maxWorkers:  defaultMaxWorkers,
		batchSize:   defaultBatchSize,
		retryBudget: 30 * time.Second,
		retryWait:   defaultRetryWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.runner = runner.New(e.log)
	return e
}

// Run is the handle to one in-flight run. Callers must drain Results until
// it closes; Wait returns the summary once the stream has ended.
type Run struct {
	ID      uuid.UUID
	rc      *runContext
	results chan runner.Result
	done    chan struct{}
	summary Summary
}

// Results is the live stream of per-command results. It is closed when the
// run ends.
func (r *Run) Results() <-chan runner.Result { return r.results }

// Pause blocks new work at the next suspension point without aborting
// in-flight connections.
func (r *Run) Pause() { r.rc.pause() }

// Resume releases the pause gate.
func (r *Run) Resume() { r.rc.resume() }

// Cancel requests a graceful stop; in-flight commands still complete.
func (r *Run) Cancel() { r.rc.cancel() }

// Abort forcefully stops the run, synchronously closing every open session
// in the run's registry.
func (r *Run) Abort() { r.rc.abort() }

// State reports the run's lifecycle state.
func (r *Run) State() RunState { return r.rc.getState() }

// Wait blocks until the run has ended and returns the final summary.
func (r *Run) Wait() Summary {
	<-r.done
	return r.summary
}

// ActiveSessions reports how many sessions are currently registered.
// After an abort this drops to zero.
func (r *Run) ActiveSessions() int { return r.rc.activeSessions() }

// Run validates the inputs and starts a run. The shared plan applies to
// every target that does not carry its own.
func (e *Engine) Run(ctx context.Context, targets []device.Target, plan *device.Plan) (*Run, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no devices to process")
	}
	for _, t := range targets {
		if t.Host == "" {
			return nil, fmt.Errorf("device with empty host")
		}
		if err := effectivePlan(t, plan).Validate(); err != nil {
			return nil, fmt.Errorf("device %s: %w", t.Key(), err)
		}
	}

	// The stream is buffered for the worst-case result count so a caller
	// that only waits for the summary can never wedge the workers.
	capacity := 0
	for _, t := range targets {
		capacity += len(effectivePlan(t, plan).Commands) + 1
	}

	rc := newRunContext()
	run := &Run{
		ID:      rc.id,
		rc:      rc,
		results: make(chan runner.Result, capacity),
		done:    make(chan struct{}),
	}

	go e.execute(ctx, run, targets, plan)
	return run, nil
}

func effectivePlan(t device.Target, shared *device.Plan) *device.Plan {
	if t.Plan != nil {
		return t.Plan
	}
	return shared
}

// emit delivers a result to the stream unless the run has been aborted, in
// which case remaining results are dropped so workers never block on a
// consumer that went away.
func (e *Engine) emit(rc *runContext, res runner.Result) {
	select {
	case <-rc.abortCh:
	default:
		select {
		case rc.resultsCh <- res:
		case <-rc.abortCh:
		}
	}
}

func (e *Engine) execute(ctx context.Context, run *Run, targets []device.Target, plan *device.Plan) {
	rc := run.rc
	rc.resultsCh = run.results
	rc.setState(StateRunning)
	start := time.Now()
	log := e.log.With(zap.String("run", rc.id.String()))

	batches := partition(targets, e.batchSize)
	log.Info("run started",
		zap.Int("devices", len(targets)),
		zap.Int("batches", len(batches)),
		zap.Int("max_workers", e.maxWorkers))

	for i, batch := range batches {
		if err := rc.checkpoint(ctx); err != nil {
			// Remaining devices are reported as skipped, never dropped.
			for _, b := range batches[i:] {
				for _, t := range b {
					e.emit(rc, runner.NewResult(t, runner.SkippedMarker, "", runner.Skipped, err))
					rc.addOutcome(deviceSkipped)
				}
			}
			break
		}

		prevCompleted, prevFailed, prevSkipped := rc.counts()
		if e.pacing.Mode == PacingSerial {
			e.runBatchSerial(ctx, rc, batch, plan)
		} else {
			e.runBatchParallel(ctx, rc, batch, plan)
		}
		completed, failed, skipped := rc.counts()

		outcome := BatchOutcome{
			Batch:     i + 1,
			Batches:   len(batches),
			Completed: completed - prevCompleted,
			Failed:    failed - prevFailed,
			Skipped:   skipped - prevSkipped,
		}
		log.Info("batch finished",
			zap.Int("batch", outcome.Batch),
			zap.Int("batches", outcome.Batches),
			zap.Int("completed", outcome.Completed),
			zap.Int("failed", outcome.Failed))
		if e.onBatch != nil {
			e.onBatch(outcome)
		}
	}

	completed, failed, skipped := rc.counts()
	run.summary = Summary{
		RunID:     rc.id,
		Attempted: len(targets),
		Succeeded: completed,
		Failed:    failed,
		Skipped:   skipped,
		Cancelled: rc.cancelled.Load(),
		Aborted:   rc.aborted(),
		Duration:  time.Since(start),
	}

	switch {
	case rc.aborted():
		// state already StateForceAborted
	case rc.cancelled.Load():
		rc.setState(StateCancelled)
	default:
		rc.setState(StateCompleted)
	}

	log.Info("run finished",
		zap.Int("succeeded", completed),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
		zap.Bool("cancelled", run.summary.Cancelled),
		zap.Duration("duration", run.summary.Duration))

	close(run.results)
	close(run.done)
}

// runBatchParallel drains one batch through the bounded worker pool and
// waits for the whole batch before returning.
func (e *Engine) runBatchParallel(ctx context.Context, rc *runContext, batch []device.Target, plan *device.Plan) {
	sem := semaphore.NewWeighted(int64(e.maxWorkers))
	var wg sync.WaitGroup

	for _, target := range batch {
		wg.Add(1)
		go func(t device.Target) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				e.emit(rc, runner.NewResult(t, runner.SkippedMarker, "", runner.Skipped, err))
				rc.addOutcome(deviceSkipped)
				return
			}
			defer sem.Release(1)
			e.runDevice(ctx, rc, t, effectivePlan(t, plan))
		}(target)
	}
	wg.Wait()
}

// runBatchSerial runs the batch one device at a time, honoring the
// configured inter-device delay or operator gate.
func (e *Engine) runBatchSerial(ctx context.Context, rc *runContext, batch []device.Target, plan *device.Plan) {
	for i, target := range batch {
		if i > 0 {
			if e.pacing.Delay > 0 {
				select {
				case <-time.After(e.pacing.Delay):
				case <-ctx.Done():
				case <-rc.abortCh:
				}
			}
			if e.pacing.Confirm != nil {
				if err := e.pacing.Confirm(ctx, target); err != nil {
					e.log.Info("operator declined next device", zap.String("host", target.Host))
					rc.cancel()
				}
			}
		}
		e.runDevice(ctx, rc, target, effectivePlan(target, plan))
	}
}

// partition slices targets into fixed-size batches, preserving order.
func partition(targets []device.Target, size int) [][]device.Target {
	if size <= 0 {
		size = defaultBatchSize
	}
	var batches [][]device.Target
	for start := 0; start < len(targets); start += size {
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		batches = append(batches, targets[start:end])
	}
	return batches
}
