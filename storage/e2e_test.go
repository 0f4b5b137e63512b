package storage_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/config"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/normalizer"
	"github.com/roxie-moxie/moxie-buildings-sub000/scraper"
	"github.com/roxie-moxie/moxie-buildings-sub000/services"
	"github.com/roxie-moxie/moxie-buildings-sub000/storage"
)

type stubStrategy struct {
	units []models.RawUnit
	err   error
}

func (s *stubStrategy) ID() string { return scraper.StrategyFunnel }

func (s *stubStrategy) Scrape(context.Context, models.Source) ([]models.RawUnit, error) {
	return s.units, s.err
}

type harness struct {
	store *storage.SQLiteStore
	stub  *stubStrategy
	orch  *scraper.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	_, err = store.SyncSources(context.Background(), []models.SourceRecord{
		{Name: "The Astor", URL: "https://astor.example.com", StrategyID: scraper.StrategyFunnel},
	})
	if err != nil {
		t.Fatalf("SyncSources: %v", err)
	}

	cfg := &config.Config{
		Scraper:  config.ScraperConfig{Timeout: 5 * time.Second, RetentionDays: 30, ZeroThreshold: 5},
		Families: map[string]config.Family{scraper.StrategyFunnel: {Concurrency: 2}},
	}
	stub := &stubStrategy{}
	writer := services.NewResultWriter(store, cfg.Scraper.ZeroThreshold, scraper.ErrorDetail)
	orch := scraper.NewOrchestrator(cfg, store, scraper.NewRegistry(stub), writer)
	return &harness{store: store, stub: stub, orch: orch}
}

func raw(n int, prefix string) []models.RawUnit {
	out := make([]models.RawUnit, n)
	for i := range out {
		out[i] = models.RawUnit{
			UnitLabel:        fmt.Sprintf("%s%02d", prefix, i+1),
			BedType:          "1 bed",
			Rent:             "$2,100/mo",
			AvailabilityDate: "Available Now",
		}
	}
	return out
}

func (h *harness) labels(t *testing.T) []string {
	t.Helper()
	units, err := h.store.QueryUnits(context.Background(), models.UnitFilter{IncludeNonCanonical: true})
	if err != nil {
		t.Fatalf("QueryUnits: %v", err)
	}
	var out []string
	for _, u := range units {
		out = append(out, u.UnitLabel)
	}
	return out
}

func TestFailureRetainsUnits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.stub.units = raw(3, "A")
	if _, err := h.orch.RunSource(ctx, 1); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	h.stub.units, h.stub.err = nil, errors.New("connection refused")
	out, err := h.orch.RunSource(ctx, 1)
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if out.Status != models.RunStatusFailed {
		t.Fatalf("outcome = %+v", out)
	}

	if got := h.labels(t); len(got) != 3 {
		t.Fatalf("units after failure = %v, want 3", got)
	}
	src, _ := h.store.GetSource(ctx, 1)
	if src.LastRunStatus != models.RunStatusFailed {
		t.Fatalf("status = %s", src.LastRunStatus)
	}
	runs, _ := h.store.ListRuns(ctx, 1, 10)
	if len(runs) != 2 || runs[0].Status != models.RunStatusFailed {
		t.Fatalf("runs = %+v", runs)
	}
	if runs[0].ErrorMessage == "" {
		t.Fatal("failed run has no error detail")
	}
}

func TestSuccessReplacesUnits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.stub.units = raw(3, "A")
	h.orch.RunSource(ctx, 1)

	h.stub.units = raw(5, "B")
	out, err := h.orch.RunSource(ctx, 1)
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if out.Status != models.RunStatusSuccess || out.UnitCount != 5 {
		t.Fatalf("outcome = %+v", out)
	}

	got := h.labels(t)
	if len(got) != 5 {
		t.Fatalf("units = %v, want 5", got)
	}
	for _, l := range got {
		if l[0] != 'B' {
			t.Fatalf("old unit %s still present", l)
		}
	}
	runs, _ := h.store.ListRuns(ctx, 1, 1)
	if runs[0].Status != models.RunStatusSuccess || runs[0].UnitCount != 5 {
		t.Fatalf("latest run = %+v", runs[0])
	}
}

func TestZeroStreakAndAttention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.stub.units = raw(2, "A")
	h.orch.RunSource(ctx, 1)

	h.stub.units = nil
	for i := 1; i <= 7; i++ {
		h.orch.RunSource(ctx, 1)
		src, _ := h.store.GetSource(ctx, 1)
		if src.ConsecutiveZeroCount != i {
			t.Fatalf("zero run %d: counter = %d", i, src.ConsecutiveZeroCount)
		}
		if want := i >= 5; src.NeedsAttention != want {
			t.Fatalf("zero run %d: needs_attention = %v", i, src.NeedsAttention)
		}
		if i == 1 && len(h.labels(t)) != 0 {
			t.Fatal("zero result did not clear units")
		}
	}

	h.stub.err = errors.New("timeout")
	h.orch.RunSource(ctx, 1)
	src, _ := h.store.GetSource(ctx, 1)
	if src.ConsecutiveZeroCount != 7 || !src.NeedsAttention {
		t.Fatalf("failure changed zero state: %+v", src)
	}
}

func TestAvailabilityCutoff(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	today := time.Now()
	h.stub.units = []models.RawUnit{
		{UnitLabel: "now", BedType: "Studio", Rent: 1800, AvailabilityDate: "Available Now"},
		{UnitLabel: "later", BedType: "Studio", Rent: 1900, AvailabilityDate: today.AddDate(0, 0, 10).Format(normalizer.DateLayout)},
	}
	if _, err := h.orch.RunSource(ctx, 1); err != nil {
		t.Fatalf("RunSource: %v", err)
	}

	svc := services.NewUnitService(h.store)
	units, err := svc.Search(ctx, services.SearchParams{AvailableBefore: today.AddDate(0, 0, 7).Format(normalizer.DateLayout)})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(units) != 1 || units[0].UnitLabel != "now" {
		t.Fatalf("units = %+v", units)
	}
	if units[0].AvailabilityDate != today.Format(normalizer.DateLayout) {
		t.Fatalf("available now stored as %q", units[0].AvailabilityDate)
	}
}

func TestBatchPrunesAndCounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.stub.units = raw(4, "A")
	summary, err := h.orch.RunBatch(ctx, scraper.BatchOptions{})
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if summary.Successes != 1 || summary.TotalUnits != 4 {
		t.Fatalf("summary = %+v", summary)
	}
}
