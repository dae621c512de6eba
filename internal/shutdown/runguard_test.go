package shutdown

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunGuard_EnterAndActiveRuns(t *testing.T) {
	g := NewRunGuard(time.Second, testLogger())

	if g.ActiveRuns() != 0 {
		t.Fatalf("ActiveRuns() = %d, want 0", g.ActiveRuns())
	}

	done := g.Enter("scan")
	if g.ActiveRuns() != 1 {
		t.Fatalf("ActiveRuns() = %d, want 1", g.ActiveRuns())
	}

	done()
	if g.ActiveRuns() != 0 {
		t.Fatalf("ActiveRuns() = %d, want 0 after done", g.ActiveRuns())
	}
}

func TestRunGuard_WaitForDrainReturnsImmediatelyWhenIdle(t *testing.T) {
	g := NewRunGuard(time.Second, testLogger())

	start := time.Now()
	g.WaitForDrain(context.Background())
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("WaitForDrain took %v, want near-instant when idle", elapsed)
	}
}

func TestRunGuard_WaitForDrainBlocksUntilRunFinishes(t *testing.T) {
	g := NewRunGuard(time.Second, testLogger())
	done := g.Enter("weekly")

	drained := make(chan struct{})
	go func() {
		g.WaitForDrain(context.Background())
		close(drained)
	}()

	// The run hasn't finished yet, so drain must still be blocking.
	select {
	case <-drained:
		t.Fatal("WaitForDrain returned before the in-flight run finished")
	case <-time.After(20 * time.Millisecond):
	}

	done()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain did not return after the run finished")
	}
}

func TestRunGuard_WaitForDrainRespectsGracePeriod(t *testing.T) {
	g := NewRunGuard(20*time.Millisecond, testLogger())
	done := g.Enter("scan")
	defer done()

	start := time.Now()
	g.WaitForDrain(context.Background())
	elapsed := time.Since(start)

	if elapsed < 20*time.Millisecond {
		t.Fatalf("WaitForDrain returned after %v, want at least the grace period", elapsed)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("WaitForDrain took %v, want close to the grace period", elapsed)
	}
}
