// Package runner executes ordered command lists on one open device session
// and classifies the output. Commands on a single session always run
// sequentially: device CLIs are stateful, so concurrency exists across
// devices, never within one device's command stream.
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mindwolf80/nice/internal/device"
)

// Session is one live interactive connection to a device. shell.Client is
// the production implementation; tests substitute scripted fakes.
type Session interface {
	Host() string
	Send(ctx context.Context, command string) (string, error)
	SendBatch(ctx context.Context, commands []string) (string, error)
	InConfigMode(ctx context.Context) (bool, error)
	EnterConfigMode(ctx context.Context) error
	ExitConfigMode(ctx context.Context) error
	Close() error
}

// Checkpoint is called before each command. It blocks while the run is
// paused and returns a non-nil error once the run is cancelled, at which
// point execution stops immediately.
type Checkpoint func(ctx context.Context) error

// ConfigError marks a failure to enter, submit, or exit configuration mode.
// It is fatal for the device's batch.
type ConfigError struct {
	Host string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: configuration mode: %v", e.Host, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Runner drives command execution on open sessions.
type Runner struct {
	log *zap.Logger
}

// New creates a Runner. A nil logger is replaced with a no-op logger.
func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{log: log}
}

// Run executes commands sequentially on the session. Each command is
// independent: a device-rejected command or a transport failure on one
// command is recorded and the next command still runs. Only cancellation
// (reported by checkpoint) stops the sequence early.
func (r *Runner) Run(ctx context.Context, sess Session, target device.Target, commands []string, checkpoint Checkpoint) []Result {
	results := make([]Result, 0, len(commands))
	log := r.log.With(zap.String("host", target.Host))

	for i, cmd := range commands {
		if checkpoint != nil {
			if err := checkpoint(ctx); err != nil {
				log.Info("command execution stopped",
					zap.Int("completed", i), zap.Int("total", len(commands)))
				return results
			}
		}

		out, err := sess.Send(ctx, cmd)
		if err != nil {
			log.Warn("command failed", zap.String("command", cmd), zap.Error(err))
			results = append(results, NewResult(target, cmd, out, TransportError, err))
			if ctx.Err() != nil {
				return results
			}
			continue
		}

		out = StripPrompts(out)
		status := Success
		if IsDeviceError(out) {
			status = DeviceError
			log.Warn("device rejected command", zap.String("command", cmd))
		}
		results = append(results, NewResult(target, cmd, out, status, nil))
		log.Debug("command completed",
			zap.String("command", cmd), zap.Int("index", i+1), zap.Int("total", len(commands)))
	}

	log.Debug("all commands completed", zap.Int("count", len(commands)))
	return results
}

// RunConfig executes the commands as one transactional configuration batch
// and returns a single aggregate result. Configuration mode is verified
// before submitting, and exiting is always attempted afterwards even when
// the submission failed; a failure to exit is logged but not propagated.
func (r *Runner) RunConfig(ctx context.Context, sess Session, target device.Target, commands []string) Result {
	log := r.log.With(zap.String("host", target.Host))

	inConfig, err := sess.InConfigMode(ctx)
	if err != nil {
		return NewResult(target, ConfigModeMarker, "", TransportError,
			&ConfigError{Host: target.Host, Err: fmt.Errorf("check config mode: %w", err)})
	}
	if !inConfig {
		if err := sess.EnterConfigMode(ctx); err != nil {
			return NewResult(target, ConfigModeMarker, "", TransportError,
				&ConfigError{Host: target.Host, Err: fmt.Errorf("enter config mode: %w", err)})
		}
		inConfig, err = sess.InConfigMode(ctx)
		if err != nil || !inConfig {
			if err == nil {
				err = fmt.Errorf("device does not report configuration mode")
			}
			return NewResult(target, ConfigModeMarker, "", TransportError,
				&ConfigError{Host: target.Host, Err: err})
		}
	}

	out, submitErr := sess.SendBatch(ctx, commands)

	// Leave config mode regardless of the submission outcome so the session
	// is not abandoned mid-transaction.
	if in, checkErr := sess.InConfigMode(ctx); checkErr == nil && in {
		if exitErr := sess.ExitConfigMode(ctx); exitErr != nil {
			log.Warn("failed to exit config mode", zap.Error(exitErr))
		}
	}

	out = StripPrompts(out)
	if submitErr != nil {
		return NewResult(target, ConfigModeMarker, out, TransportError,
			&ConfigError{Host: target.Host, Err: submitErr})
	}
	if IsDeviceError(out) {
		log.Warn("configuration batch rejected", zap.Int("commands", len(commands)))
		return NewResult(target, ConfigModeMarker, out, DeviceError, nil)
	}
	log.Info("configuration batch applied", zap.Int("commands", len(commands)))
	return NewResult(target, ConfigModeMarker, out, Success, nil)
}
