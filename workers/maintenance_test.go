package workers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/services"
)

type fakePruner struct {
	before time.Time
	calls  int
}

func (p *fakePruner) PruneLogs(_ context.Context, before time.Time) (int64, error) {
	p.calls++
	p.before = before
	return 3, nil
}

type fakeHealth struct {
	report *services.HealthReport
	err    error
}

func (h fakeHealth) Report(context.Context, time.Duration) (*services.HealthReport, error) {
	return h.report, h.err
}

type logged struct {
	level    models.LogLevel
	sourceID int64
	msg      string
}

func TestRunOncePrunesAndWarns(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	last := now.Add(-72 * time.Hour)
	report := &services.HealthReport{
		Active:         3,
		Failing:        []models.Source{{ID: 1, Name: "Tower"}},
		NeedsAttention: []models.Source{{ID: 2, Name: "Lofts", ConsecutiveZeroCount: 7}},
		Stale:          []models.Source{{ID: 3, Name: "Quiet", LastRunAt: &last}},
	}

	pruner := &fakePruner{}
	w := NewMaintenanceWorker(pruner, fakeHealth{report: report}, 7*24*time.Hour, 48*time.Hour)
	w.now = func() time.Time { return now }

	var lines []logged
	w.SetLogger(func(level models.LogLevel, sourceID *int64, msg string) {
		lines = append(lines, logged{level, *sourceID, msg})
	})

	w.RunOnce(context.Background())

	if pruner.calls != 1 || !pruner.before.Equal(now.Add(-7*24*time.Hour)) {
		t.Fatalf("unexpected prune: calls=%d before=%v", pruner.calls, pruner.before)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %+v", len(lines), lines)
	}
	for i, want := range []int64{1, 2, 3} {
		if lines[i].sourceID != want || lines[i].level != models.LogLevelWarn {
			t.Fatalf("line %d: %+v", i, lines[i])
		}
	}
	if !strings.Contains(lines[1].msg, "7 consecutive") {
		t.Fatalf("unexpected attention line %q", lines[1].msg)
	}
}

func TestRunOnceHealthError(t *testing.T) {
	w := NewMaintenanceWorker(nil, fakeHealth{err: errors.New("db down")}, 0, time.Hour)
	called := false
	w.SetLogger(func(models.LogLevel, *int64, string) { called = true })

	w.RunOnce(context.Background())
	if called {
		t.Fatal("no source lines expected when the report fails")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	pruner := &fakePruner{}
	w := NewMaintenanceWorker(pruner, fakeHealth{report: &services.HealthReport{}}, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx, time.Hour)
		close(done)
	}()

	w.Trigger()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
