package services

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/normalizer"
)

const (
	DefaultZeroThreshold = 5
	maxErrorLen          = 1000
)

// RunStore applies a run atomically: unit replacement (on success only),
// the source state transition and the run log row.
type RunStore interface {
	CommitRun(ctx context.Context, commit models.RunCommit, next models.TransitionFunc) (models.SourceState, error)
}

// ResultWriter is the single place where a strategy outcome turns into
// stored state. Every entry point (batch, run-now, commands) goes through
// Write.
type ResultWriter struct {
	store         RunStore
	zeroThreshold int
	detail        func(error) string
	onAttention   func(src models.Source, zeroRuns int)
	now           func() time.Time
}

// NewResultWriter returns a writer that flags a source for attention when
// its consecutive zero-result runs reach zeroThreshold. detail formats run
// errors for the run log; nil uses err.Error().
func NewResultWriter(store RunStore, zeroThreshold int, detail func(error) string) *ResultWriter {
	if zeroThreshold <= 0 {
		zeroThreshold = DefaultZeroThreshold
	}
	if detail == nil {
		detail = func(err error) string { return err.Error() }
	}
	return &ResultWriter{
		store:         store,
		zeroThreshold: zeroThreshold,
		detail:        detail,
		now:           time.Now,
	}
}

// OnAttention registers a hook called once when a source crosses the
// zero-result threshold.
func (w *ResultWriter) OnAttention(fn func(src models.Source, zeroRuns int)) {
	w.onAttention = fn
}

// Write records one strategy invocation for src. A non-nil runErr retains
// the source's units; otherwise the normalized records replace them, even
// when there are none.
func (w *ResultWriter) Write(ctx context.Context, src models.Source, strategyID string, raw []models.RawUnit, runErr error, elapsed time.Duration) (models.RunOutcome, error) {
	now := w.now()
	outcome := models.RunOutcome{
		SourceID:   src.ID,
		SourceName: src.Name,
		StrategyID: strategyID,
		Duration:   elapsed,
	}

	commit := models.RunCommit{
		SourceID:   src.ID,
		StrategyID: strategyID,
		RunAt:      now,
		Succeeded:  runErr == nil,
		Duration:   elapsed,
	}

	if runErr != nil {
		commit.ErrorMessage = truncate(w.detail(runErr), maxErrorLen)
		outcome.Status = models.RunStatusFailed
		outcome.Error = commit.ErrorMessage
	} else {
		units, skipped := w.normalize(src, raw, now)
		commit.Units = units
		outcome.Status = models.RunStatusSuccess
		outcome.UnitCount = len(units)
		outcome.Skipped = skipped
	}

	var crossed bool
	state, err := w.store.CommitRun(ctx, commit, func(prev models.SourceState) models.SourceState {
		next := Transition(prev, commit.Succeeded, len(commit.Units), w.zeroThreshold, now)
		crossed = !prev.NeedsAttention && next.NeedsAttention
		return next
	})
	if err != nil {
		return outcome, fmt.Errorf("commit run for source %d: %w", src.ID, err)
	}
	outcome.NeedsAttention = state.NeedsAttention

	if crossed {
		log.Printf("ATTENTION %s: %d consecutive runs with no units", src.Name, state.ConsecutiveZeroCount)
		if w.onAttention != nil {
			w.onAttention(src, state.ConsecutiveZeroCount)
		}
	}
	return outcome, nil
}

// normalize converts raw records, skipping any that fail and any repeated
// unit label after the first.
func (w *ResultWriter) normalize(src models.Source, raw []models.RawUnit, now time.Time) ([]models.Unit, int) {
	units := make([]models.Unit, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	skipped := 0

	for _, r := range raw {
		u, err := normalizer.NormalizeAt(r, src.ID, now)
		if err != nil {
			log.Printf("Skipping record from %s: %v", src.Name, err)
			skipped++
			continue
		}
		if seen[u.UnitLabel] {
			skipped++
			continue
		}
		seen[u.UnitLabel] = true
		units = append(units, u)
	}
	if skipped > 0 {
		log.Printf("%s: %d of %d records skipped", src.Name, skipped, len(raw))
	}
	return units, skipped
}

// Transition computes a source's state after a run.
//
//	success, n > 0   -> zero streak reset, attention cleared
//	success, n == 0  -> zero streak + 1, flagged once it reaches threshold
//	failure          -> zero streak and attention unchanged
func Transition(prev models.SourceState, succeeded bool, n, threshold int, now time.Time) models.SourceState {
	next := prev
	at := now
	next.LastRunAt = &at

	if !succeeded {
		next.LastRunStatus = models.RunStatusFailed
		return next
	}

	next.LastRunStatus = models.RunStatusSuccess
	if n > 0 {
		next.ConsecutiveZeroCount = 0
		next.NeedsAttention = false
		next.AttentionSince = nil
		return next
	}

	next.ConsecutiveZeroCount = prev.ConsecutiveZeroCount + 1
	if next.ConsecutiveZeroCount >= threshold && !prev.NeedsAttention {
		next.NeedsAttention = true
		next.AttentionSince = &at
	}
	return next
}

// truncate cuts s to at most n bytes on a rune boundary; Postgres rejects
// invalid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
