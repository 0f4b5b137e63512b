package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/services"
)

// LogFunc persists a worker log line to the scrape_logs table.
type LogFunc func(level models.LogLevel, sourceID *int64, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(models.LogLevel, *int64, string) {}

type LogPruner interface {
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
}

type HealthReporter interface {
	Report(ctx context.Context, staleAfter time.Duration) (*services.HealthReport, error)
}

// MaintenanceWorker trims the persisted log and reports sources an operator
// should look at: failing, flagged, or not scraped within StaleAfter.
type MaintenanceWorker struct {
	logs       LogPruner
	health     HealthReporter
	retention  time.Duration
	staleAfter time.Duration
	triggerCh  chan struct{}
	logFunc    LogFunc
	now        func() time.Time
}

func NewMaintenanceWorker(logs LogPruner, health HealthReporter, retention, staleAfter time.Duration) *MaintenanceWorker {
	return &MaintenanceWorker{
		logs:       logs,
		health:     health,
		retention:  retention,
		staleAfter: staleAfter,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
		now:        time.Now,
	}
}

func (w *MaintenanceWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *MaintenanceWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *MaintenanceWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Maintenance worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-w.triggerCh:
			log.Println("Maintenance worker triggered manually")
			w.RunOnce(ctx)
		}
	}
}

// RunOnce prunes old log lines and logs one line per unhealthy source.
func (w *MaintenanceWorker) RunOnce(ctx context.Context) {
	if w.logs != nil && w.retention > 0 {
		n, err := w.logs.PruneLogs(ctx, w.now().Add(-w.retention))
		if err != nil {
			log.Printf("Maintenance: prune logs: %v", err)
		} else if n > 0 {
			log.Printf("Maintenance: pruned %d log lines", n)
		}
	}

	if w.health == nil {
		return
	}
	report, err := w.health.Report(ctx, w.staleAfter)
	if err != nil {
		log.Printf("Maintenance: health report: %v", err)
		return
	}

	for _, src := range report.Failing {
		w.warn(src, fmt.Sprintf("HEALTH %s: last run failed", src.Name))
	}
	for _, src := range report.NeedsAttention {
		w.warn(src, fmt.Sprintf("HEALTH %s: %d consecutive zero-unit runs", src.Name, src.ConsecutiveZeroCount))
	}
	for _, src := range report.Stale {
		w.warn(src, fmt.Sprintf("HEALTH %s: not scraped since %s", src.Name, src.LastRunAt.Local().Format("2006-01-02 15:04")))
	}
	log.Printf("Maintenance: %d active, %d never run, %d failing, %d flagged, %d stale",
		report.Active, len(report.NeverRun), len(report.Failing), len(report.NeedsAttention), len(report.Stale))
}

func (w *MaintenanceWorker) warn(src models.Source, msg string) {
	log.Println(msg)
	id := src.ID
	w.logFunc(models.LogLevelWarn, &id, msg)
}
