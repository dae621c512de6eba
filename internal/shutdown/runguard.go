// Package shutdown coordinates graceful process exit around scheduled runs.
package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RunGuard tracks whether a scan or weekly orchestrator run is currently in
// flight so the main process can wait for it to finish, bounded by a grace
// period, before exiting on SIGINT/SIGTERM. Same atomic-counter-plus-signal
// shape as a scale-to-zero idle monitor, turned to the opposite purpose:
// here the guard blocks shutdown while work is active instead of triggering
// shutdown while it's absent.
type RunGuard struct {
	gracePeriod time.Duration
	logger      *slog.Logger

	activeRuns   int64
	mu           sync.RWMutex
	lastFinished time.Time

	shuttingDown atomic.Bool
	drainedChan  chan struct{}
	drainedOnce  sync.Once
}

func NewRunGuard(gracePeriod time.Duration, logger *slog.Logger) *RunGuard {
	return &RunGuard{
		gracePeriod: gracePeriod,
		logger:      logger,
		drainedChan: make(chan struct{}),
	}
}

// Enter marks the start of a run and returns a function to call when it
// finishes. Entering after shutdown has begun still proceeds — the run
// already has a context deadline of its own — but is logged.
func (g *RunGuard) Enter(kind string) func() {
	n := atomic.AddInt64(&g.activeRuns, 1)
	if g.shuttingDown.Load() {
		g.logger.Warn("run started during shutdown drain", "kind", kind, "active_runs", n)
	} else {
		g.logger.Debug("run entered", "kind", kind, "active_runs", n)
	}
	return func() {
		remaining := atomic.AddInt64(&g.activeRuns, -1)
		g.mu.Lock()
		g.lastFinished = time.Now()
		g.mu.Unlock()
		g.logger.Debug("run finished", "kind", kind, "active_runs", remaining)
		if remaining == 0 && g.shuttingDown.Load() {
			g.drainedOnce.Do(func() { close(g.drainedChan) })
		}
	}
}

// ActiveRuns reports the number of in-flight scan/weekly runs, for the
// readiness and liveness endpoints.
func (g *RunGuard) ActiveRuns() int64 {
	return atomic.LoadInt64(&g.activeRuns)
}

// WaitForDrain blocks until no run is in flight or the grace period
// elapses, whichever comes first. Call this from the SIGINT/SIGTERM
// handler before the HTTP server and scheduler are torn down.
func (g *RunGuard) WaitForDrain(ctx context.Context) {
	g.shuttingDown.Store(true)

	if atomic.LoadInt64(&g.activeRuns) == 0 {
		return
	}

	g.logger.Info("waiting for in-flight run to finish", "grace_period", g.gracePeriod)

	deadline, cancel := context.WithTimeout(ctx, g.gracePeriod)
	defer cancel()

	select {
	case <-g.drainedChan:
		g.logger.Info("in-flight run drained cleanly")
	case <-deadline.Done():
		g.logger.Warn("grace period exceeded with a run still in flight, exiting anyway",
			"active_runs", atomic.LoadInt64(&g.activeRuns))
	}
}
