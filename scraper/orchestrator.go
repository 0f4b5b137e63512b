package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/config"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/normalizer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// SourceStore is the part of the domain store the orchestrator needs.
type SourceStore interface {
	SyncSources(ctx context.Context, records []models.SourceRecord) (models.SyncStats, error)
	AssignStrategy(ctx context.Context, sourceID int64, strategyID string) (bool, error)
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	GetSource(ctx context.Context, id int64) (*models.Source, error)
	PruneRuns(ctx context.Context, before time.Time) (int64, error)
}

// ResultWriter records the outcome of one strategy invocation. It is the
// only path that changes unit rows or source status.
type ResultWriter interface {
	Write(ctx context.Context, src models.Source, strategyID string, raw []models.RawUnit, runErr error, elapsed time.Duration) (models.RunOutcome, error)
}

// SourceProvider loads the external building list.
type SourceProvider interface {
	Load(ctx context.Context) ([]models.SourceRecord, error)
}

// StatusPublisher receives the summary of each finished batch.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, summary *models.BatchSummary) error
}

// LogFunc persists an orchestrator log line.
type LogFunc func(level models.LogLevel, sourceID *int64, message string)

var errAbandoned = errors.New("abandoned: batch cancelled")

const defaultTimeout = 3 * time.Minute

type BatchOptions struct {
	DryRun      bool
	SkipRefresh bool
}

type Orchestrator struct {
	cfg       *config.Config
	store     SourceStore
	registry  *Registry
	writer    ResultWriter
	provider  SourceProvider
	publisher StatusPublisher
	logf      LogFunc
	now       func() time.Time

	mu       sync.Mutex
	families map[string]*familySlot
	paused   bool
}

type familySlot struct {
	sem   *semaphore.Weighted
	delay time.Duration
}

func NewOrchestrator(cfg *config.Config, store SourceStore, registry *Registry, writer ResultWriter) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		writer:   writer,
		now:      time.Now,
		families: make(map[string]*familySlot),
	}
}

// SetProvider sets where RefreshSources reads the building list from.
func (o *Orchestrator) SetProvider(p SourceProvider) { o.provider = p }

func (o *Orchestrator) SetPublisher(p StatusPublisher) { o.publisher = p }

func (o *Orchestrator) SetLogFunc(f LogFunc) { o.logf = f }

// RefreshSources syncs the stored source list with the external list and
// fills in strategies for sources that have none. An empty list is an error
// and leaves the stored list untouched.
func (o *Orchestrator) RefreshSources(ctx context.Context) (models.SyncStats, error) {
	if o.provider == nil {
		return models.SyncStats{}, fmt.Errorf("%w: no source list configured", ErrConfig)
	}

	records, err := o.provider.Load(ctx)
	if err != nil {
		return models.SyncStats{}, fmt.Errorf("load source list: %w", err)
	}
	if len(records) == 0 {
		return models.SyncStats{}, errors.New("source list is empty, keeping stored sources")
	}

	stats, err := o.store.SyncSources(ctx, records)
	if err != nil {
		return stats, fmt.Errorf("sync sources: %w", err)
	}

	sources, err := o.store.ListActiveSources(ctx)
	if err != nil {
		return stats, err
	}
	for _, src := range sources {
		strategyID, needed := AssignStrategy(src.StrategyID, src.URL)
		if !needed {
			continue
		}
		changed, err := o.store.AssignStrategy(ctx, src.ID, strategyID)
		if err != nil {
			return stats, fmt.Errorf("assign strategy for source %d: %w", src.ID, err)
		}
		if changed {
			stats.Assigned++
		}
	}

	o.log(models.LogLevelInfo, nil, fmt.Sprintf("Sources synced: %d added, %d updated, %d deactivated, %d strategies assigned",
		stats.Added, stats.Updated, stats.Deactivated, stats.Assigned))
	return stats, nil
}

// RunBatch runs every active source once. Sources run concurrently, bounded
// per strategy family. Cancelling ctx abandons sources that have not
// finished; finished sources keep their written state.
func (o *Orchestrator) RunBatch(ctx context.Context, opts BatchOptions) (*models.BatchSummary, error) {
	summary := &models.BatchSummary{StartedAt: o.now()}

	if o.IsPaused() && !opts.DryRun {
		log.Println("Scraper is paused, skipping batch")
		return summary, nil
	}

	if o.provider != nil && !opts.SkipRefresh {
		stats, err := o.RefreshSources(ctx)
		if err != nil {
			o.log(models.LogLevelError, nil, fmt.Sprintf("Source refresh failed, using stored list: %v", err))
		} else {
			summary.Sync = &stats
		}
	}

	sources, err := o.store.ListActiveSources(ctx)
	if err != nil {
		return summary, fmt.Errorf("list sources: %w", err)
	}

	var batch []models.Source
	for _, src := range sources {
		if IsSkipped(src.StrategyID) {
			continue
		}
		batch = append(batch, src)
	}
	summary.Sources = len(batch)

	if opts.DryRun {
		for _, src := range batch {
			log.Printf("DRY %-12s %-6d %s (%s)", o.familyOf(src.StrategyID), src.ID, src.Name, src.URL)
		}
		summary.FinishedAt = o.now()
		return summary, nil
	}

	o.log(models.LogLevelInfo, nil, fmt.Sprintf("Batch starting: %d sources", len(batch)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, src := range batch {
		g.Go(func() error {
			outcome, err := o.runSlot(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, errAbandoned) {
				summary.Abandoned++
				return nil
			}
			if err != nil {
				o.log(models.LogLevelError, &src.ID, fmt.Sprintf("Write failed for %s: %v", src.Name, err))
				summary.Failures++
				return nil
			}
			summary.Results = append(summary.Results, outcome)
			switch {
			case outcome.Status == models.RunStatusFailed:
				summary.Failures++
			case outcome.UnitCount == 0:
				summary.ZeroResults++
			default:
				summary.Successes++
			}
			summary.TotalUnits += outcome.UnitCount
			return nil
		})
	}
	g.Wait()
	summary.FinishedAt = o.now()

	if ctx.Err() != nil {
		o.log(models.LogLevelWarn, nil, fmt.Sprintf("Batch interrupted: %d sources abandoned", summary.Abandoned))
		return summary, ctx.Err()
	}

	cutoff := o.now().AddDate(0, 0, -o.cfg.Scraper.RetentionDays)
	pruned, err := o.store.PruneRuns(ctx, cutoff)
	if err != nil {
		o.log(models.LogLevelError, nil, fmt.Sprintf("Prune runs failed: %v", err))
	}
	summary.Pruned = pruned

	o.log(models.LogLevelInfo, nil, fmt.Sprintf("Batch complete: %d ok, %d zero, %d failed, %d units, %d runs pruned in %s",
		summary.Successes, summary.ZeroResults, summary.Failures, summary.TotalUnits, summary.Pruned,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second)))

	if o.publisher != nil {
		if err := o.publisher.PublishStatus(ctx, summary); err != nil {
			log.Printf("Warning: failed to publish batch status: %v", err)
		}
	}
	return summary, nil
}

// RunSource runs one source through the same dispatch and write path as a
// batch.
func (o *Orchestrator) RunSource(ctx context.Context, sourceID int64) (models.RunOutcome, error) {
	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return models.RunOutcome{}, err
	}
	if !src.Active {
		return models.RunOutcome{}, fmt.Errorf("source %d is inactive", sourceID)
	}
	return o.runSlot(ctx, *src)
}

// Preview runs one source and normalizes its records without writing
// anything. Records that fail normalization are returned as errors.
func (o *Orchestrator) Preview(ctx context.Context, sourceID int64) ([]models.Unit, []error, error) {
	src, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, nil, err
	}
	strategy, err := o.registry.Resolve(*src)
	if err != nil {
		return nil, nil, err
	}
	raw, err := o.invoke(ctx, strategy, *src)
	if err != nil {
		return nil, nil, err
	}

	var (
		units []models.Unit
		bad   []error
	)
	for _, r := range raw {
		u, err := normalizer.Normalize(r, src.ID)
		if err != nil {
			bad = append(bad, fmt.Errorf("unit %q: %w", r.UnitLabel, err))
			continue
		}
		units = append(units, u)
	}
	return units, bad, nil
}

// runSlot waits for a slot in the source's family, runs it and holds the
// slot through the politeness delay.
func (o *Orchestrator) runSlot(ctx context.Context, src models.Source) (models.RunOutcome, error) {
	slot := o.slot(src.StrategyID)
	if err := slot.sem.Acquire(ctx, 1); err != nil {
		return models.RunOutcome{}, errAbandoned
	}
	defer slot.sem.Release(1)

	outcome, err := o.execute(ctx, src)

	if slot.delay > 0 {
		t := time.NewTimer(slot.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	return outcome, err
}

func (o *Orchestrator) execute(ctx context.Context, src models.Source) (models.RunOutcome, error) {
	start := o.now()

	var raw []models.RawUnit
	strategy, err := o.registry.Resolve(src)
	if err == nil {
		raw, err = o.invoke(ctx, strategy, src)
	}
	if ctx.Err() != nil {
		log.Printf("ABANDONED %s", src.Name)
		return models.RunOutcome{}, errAbandoned
	}

	outcome, werr := o.writer.Write(ctx, src, src.StrategyID, raw, err, o.now().Sub(start))
	if werr != nil {
		return outcome, werr
	}

	switch {
	case outcome.Status == models.RunStatusFailed:
		o.log(models.LogLevelError, &src.ID, fmt.Sprintf("FAIL %s: %s", src.Name, outcome.Error))
	case outcome.UnitCount == 0:
		msg := fmt.Sprintf("ZERO %s (%s)", src.Name, outcome.Duration.Round(time.Millisecond))
		if outcome.NeedsAttention {
			msg += " needs attention"
		}
		o.log(models.LogLevelWarn, &src.ID, msg)
	default:
		o.log(models.LogLevelInfo, &src.ID, fmt.Sprintf("OK %s: %d units (%s)", src.Name, outcome.UnitCount, outcome.Duration.Round(time.Millisecond)))
	}
	return outcome, nil
}

// invoke runs the strategy under the per-invocation timeout. A strategy that
// ignores its context is abandoned when the deadline passes; a panic becomes
// an error.
func (o *Orchestrator) invoke(ctx context.Context, strategy Strategy, src models.Source) ([]models.RawUnit, error) {
	timeout := o.cfg.Scraper.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		units []models.RawUnit
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("strategy %s panicked: %v", strategy.ID(), r)}
			}
		}()
		units, err := strategy.Scrape(runCtx, src)
		done <- result{units: units, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, r.err)
		}
		return r.units, r.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func (o *Orchestrator) familyOf(strategyID string) string {
	if target, ok := aliases[strategyID]; ok {
		return target
	}
	if strategyID == "" {
		return "unassigned"
	}
	return strategyID
}

func (o *Orchestrator) slot(strategyID string) *familySlot {
	family := o.familyOf(strategyID)

	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.families[family]; ok {
		return s
	}
	limits := o.cfg.Family(family)
	if limits.Concurrency < 1 {
		limits.Concurrency = 1
	}
	s := &familySlot{
		sem:   semaphore.NewWeighted(int64(limits.Concurrency)),
		delay: limits.Delay,
	}
	o.families[family] = s
	return s
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	var params models.CommandParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return fmt.Errorf("command %d: bad params: %w", cmd.ID, err)
		}
	}

	switch cmd.Command {
	case models.CmdScrapeNow:
		_, err := o.RunBatch(ctx, BatchOptions{})
		return err
	case models.CmdScrapeSource:
		if params.SourceID == 0 {
			return fmt.Errorf("command %d: scrape_source needs source_id", cmd.ID)
		}
		_, err := o.RunSource(ctx, params.SourceID)
		return err
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Scraper paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Scraper resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	o.paused = p
	o.mu.Unlock()
}

func (o *Orchestrator) log(level models.LogLevel, sourceID *int64, message string) {
	log.Printf("[%s] %s", level, message)
	if o.logf != nil {
		o.logf(level, sourceID, message)
	}
}
