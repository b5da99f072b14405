package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/thinkscotty/dispatch/internal/mission"
)

// Mission is one end-to-end run.
type Mission interface {
	Run(ctx context.Context) (mission.Report, error)
}

type Scheduler struct {
	mission  Mission
	interval time.Duration
}

func New(m Mission, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{mission: m, interval: interval}
}

// Run executes a mission immediately and then once per interval until ctx is
// cancelled. Missions run on this goroutine, so a slow one delays the next
// tick rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("Scheduler started", "interval", s.interval)

	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce is a no-op once ctx is cancelled.
func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := s.safeRun(ctx)
	if err != nil {
		slog.Error("Mission failed", "run_id", report.RunID, "status", report.Status, "error", err)
		return
	}
	slog.Info("Mission finished", "run_id", report.RunID, "status", report.Status, "target", report.Publish.Target)
}

func (s *Scheduler) safeRun(ctx context.Context) (report mission.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in mission", "panic", r, "stack", string(debug.Stack()))
			report.Status = mission.StatusFailed
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.mission.Run(ctx)
}
