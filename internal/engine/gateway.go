package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/mindwolf80/nice/internal/device"
	"github.com/mindwolf80/nice/internal/runner"
	"github.com/mindwolf80/nice/internal/shell"
)

// ShellGateway opens interactive SSH sessions via the shell package.
type ShellGateway struct {
	Timeouts shell.Timeouts
	Log      *zap.Logger
}

// Connect implements Gateway.
func (g *ShellGateway) Connect(ctx context.Context, target device.Target) (runner.Session, error) {
	return shell.Dial(ctx, target, g.Timeouts, g.Log)
}
