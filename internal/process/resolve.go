package process

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/deck/internal/launch"
)

// PIDResolver recovers the PID of the process a plan actually started when
// the spawn call only saw a launcher.
type PIDResolver interface {
	ResolveRealPID(ctx context.Context, plan *launch.Plan, fallback int) int
}

// ProbeResolver waits plan.Probe.Delay and then picks the newest process with
// the probe's image name started within plan.Probe.Window. It falls back to
// the spawn-reported PID when the probe finds nothing.
type ProbeResolver struct {
	table  *Table
	logger *zap.Logger
}

func NewProbeResolver(table *Table, logger *zap.Logger) *ProbeResolver {
	return &ProbeResolver{table: table, logger: logger}
}

func (r *ProbeResolver) ResolveRealPID(ctx context.Context, plan *launch.Plan, fallback int) int {
	probe := plan.Probe
	if probe == nil || probe.ImageName == "" {
		return fallback
	}

	select {
	case <-ctx.Done():
		return fallback
	case <-time.After(probe.Delay):
	}

	since := time.Now().Add(-probe.Window)
	pid, err := r.table.FindNewest(ctx, probe.ImageName, since)
	if err != nil {
		r.logger.Warn("pid probe failed", zap.String("image", probe.ImageName), zap.Error(err))
		return fallback
	}
	if pid == 0 {
		r.logger.Debug("pid probe found nothing", zap.String("image", probe.ImageName), zap.Int("fallback", fallback))
		return fallback
	}
	if pid != fallback {
		r.logger.Info("resolved real pid", zap.String("image", probe.ImageName), zap.Int("launcher_pid", fallback), zap.Int("pid", pid))
	}
	return pid
}
