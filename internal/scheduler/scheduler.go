// Package scheduler fires the scan and weekly orchestrators on their fixed
// weekly cadence. It runs entirely in-process: a goroutine wakes once a
// minute, checks whether the current UTC time matches a slot in either of
// the two configured slot lists, and fires at most once per slot occurrence.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/sitewatch/internal/service"
	"github.com/jmylchreest/sitewatch/internal/shutdown"
)

// Slot is one weekly firing time, expressed in UTC day-of-week and
// hour:minute. Monday is 1, Sunday is 0, matching time.Weekday.
type Slot struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// matches reports whether t falls within this slot's minute.
func (s Slot) matches(t time.Time) bool {
	return t.Weekday() == s.Weekday && t.Hour() == s.Hour && t.Minute() == s.Minute
}

// ScanSlots is Monday, Wednesday, Friday at 14:00 UTC.
var ScanSlots = []Slot{
	{Weekday: time.Monday, Hour: 14, Minute: 0},
	{Weekday: time.Wednesday, Hour: 14, Minute: 0},
	{Weekday: time.Friday, Hour: 14, Minute: 0},
}

// WeeklySlots is Sunday at 14:00 UTC.
var WeeklySlots = []Slot{
	{Weekday: time.Sunday, Hour: 14, Minute: 0},
}

// Scheduler polls a one-minute ticker and fires the scan or weekly
// orchestrator when the clock crosses one of their configured slots. It
// tracks the last minute it fired each kind in so a slow tick (GC pause,
// system suspend) can't fire the same slot twice.
type Scheduler struct {
	scan   *service.ScanOrchestrator
	weekly *service.WeeklyOrchestrator
	guard  *shutdown.RunGuard
	logger *slog.Logger

	mu           sync.Mutex
	lastScanFire time.Time
	lastWeekFire time.Time
}

func New(scan *service.ScanOrchestrator, weekly *service.WeeklyOrchestrator, guard *shutdown.RunGuard, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scan:   scan,
		weekly: weekly,
		guard:  guard,
		logger: logger.With("component", "scheduler"),
	}
}

// Run blocks, ticking every minute, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "scan_slots", ScanSlots, "weekly_slots", WeeklySlots)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case tick := <-ticker.C:
			s.checkAndFire(ctx, tick.UTC())
		}
	}
}

func (s *Scheduler) checkAndFire(ctx context.Context, now time.Time) {
	s.mu.Lock()
	dueScan := fires(ScanSlots, now, s.lastScanFire)
	dueWeekly := fires(WeeklySlots, now, s.lastWeekFire)
	if dueScan {
		s.lastScanFire = now
	}
	if dueWeekly {
		s.lastWeekFire = now
	}
	s.mu.Unlock()

	if dueScan {
		go s.runScan(ctx)
	}
	if dueWeekly {
		go s.runWeekly(ctx)
	}
}

func fires(slots []Slot, now, last time.Time) bool {
	if now.Sub(last) < time.Minute {
		return false
	}
	for _, slot := range slots {
		if slot.matches(now) {
			return true
		}
	}
	return false
}

func (s *Scheduler) runScan(ctx context.Context) {
	done := s.guard.Enter("scan")
	defer done()
	s.logger.Info("scheduled scan starting")
	report := s.scan.Run(ctx)
	s.logger.Info("scheduled scan finished",
		"pages_scored", report.PagesScored, "flagged", report.FlaggedCount,
		"critical", report.CriticalCount, "step_errors", len(report.StepErrors),
	)
}

func (s *Scheduler) runWeekly(ctx context.Context) {
	done := s.guard.Enter("weekly")
	defer done()
	s.logger.Info("scheduled weekly run starting")
	report := s.weekly.Run(ctx)
	s.logger.Info("scheduled weekly run finished",
		"links_checked", report.LinksChecked, "newly_resolved", report.NewlyResolved,
		"step_errors", len(report.StepErrors),
	)
}
