package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mindwolf80/nice/internal/device"
	"github.com/mindwolf80/nice/internal/runner"
	"github.com/mindwolf80/nice/internal/shell"
)

// defaultRetryWait is the fixed delay between connect attempts. The
// configured retry budget divided by this wait yields the attempt count.
const defaultRetryWait = 15 * time.Second

// connectAttempts derives the attempt count from the retry budget,
// guaranteeing at least one attempt.
func connectAttempts(budget, wait time.Duration) int {
	if wait <= 0 {
		wait = defaultRetryWait
	}
	attempts := int(budget / wait)
	if attempts < 1 {
		attempts = 1
	}
	return attempts
}

// runDevice executes the full per-device lifecycle: checkpoint, connect
// with retry, dispatch to the normal or config-mode runner, and guaranteed
// session release. Failures never escape the task; they become a failed
// outcome contribution.
func (e *Engine) runDevice(ctx context.Context, rc *runContext, target device.Target, plan *device.Plan) {
	log := e.log.With(zap.String("host", target.Host), zap.String("run", rc.id.String()))

	if err := rc.checkpoint(ctx); err != nil {
		log.Info("device skipped", zap.Error(err))
		e.emit(rc, runner.NewResult(target, runner.SkippedMarker, "", runner.Skipped, err))
		rc.addOutcome(deviceSkipped)
		return
	}

	sess, err := e.connectWithRetry(ctx, rc, target, log)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			e.emit(rc, runner.NewResult(target, runner.SkippedMarker, "", runner.Skipped, err))
			rc.addOutcome(deviceSkipped)
			return
		}
		log.Warn("device unreachable", zap.Error(err))
		e.emit(rc, runner.NewResult(target, runner.ConnectMarker, "", runner.TransportError, err))
		rc.addOutcome(deviceFailed)
		return
	}

	key := target.Key()
	rc.register(key, sess)
	defer func() {
		rc.unregister(key)
		_ = sess.Close()
	}()

	if plan.ConfigMode {
		res := e.runner.RunConfig(ctx, sess, target, plan.EffectiveCommands())
		e.emit(rc, res)
		if res.Status == runner.TransportError {
			rc.addOutcome(deviceFailed)
			return
		}
		rc.addOutcome(deviceCompleted)
		return
	}

	commands := plan.EffectiveCommands()
	results := e.runner.Run(ctx, sess, target, commands, rc.checkpoint)
	for _, res := range results {
		e.emit(rc, res)
	}
	if len(results) < len(commands) {
		// Stopped early at a checkpoint. The device still gets a result so
		// it is never silently dropped from the stream.
		e.emit(rc, runner.NewResult(target, runner.SkippedMarker, "", runner.Skipped, ErrCancelled))
		rc.addOutcome(deviceSkipped)
		return
	}
	rc.addOutcome(deviceCompleted)
}

// connectWithRetry dials the target under the run's retry policy: a
// constant inter-attempt delay, an attempt count derived from the retry
// budget, and no retries for authentication failures or unreachable ports.
func (e *Engine) connectWithRetry(ctx context.Context, rc *runContext, target device.Target, log *zap.Logger) (runner.Session, error) {
	attempts := connectAttempts(e.retryBudget, e.retryWait)

	var sess runner.Session
	attempt := 0
	operation := func() error {
		attempt++
		if err := rc.checkpoint(ctx); err != nil {
			return backoff.Permanent(err)
		}
		log.Debug("connecting", zap.Int("attempt", attempt), zap.Int("max", attempts))

		s, err := e.gateway.Connect(ctx, target)
		if err != nil {
			var ce *shell.ConnectError
			if errors.As(err, &ce) && !ce.Kind.Retryable() {
				return backoff.Permanent(err)
			}
			log.Debug("connect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		sess = s
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryWait), uint64(attempts-1))
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	log.Info("connected", zap.Int("attempt", attempt))
	return sess, nil
}
