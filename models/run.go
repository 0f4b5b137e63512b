package models

import "time"

// ScrapeRun is one append-only run log row.
type ScrapeRun struct {
	ID           int64         `json:"id" db:"id"`
	SourceID     int64         `json:"source_id" db:"source_id"`
	StrategyID   string        `json:"strategy_id" db:"strategy_id"`
	RunAt        time.Time     `json:"run_at" db:"run_at"`
	Status       RunStatus     `json:"status" db:"status"`
	UnitCount    int           `json:"unit_count" db:"unit_count"`
	ErrorMessage string        `json:"error,omitempty" db:"error_message"`
	Duration     time.Duration `json:"duration" db:"duration_ms"`
}

// RunCommit is everything the store applies in one transaction for a single
// strategy invocation. Units are only touched when Succeeded is true.
type RunCommit struct {
	SourceID     int64
	StrategyID   string
	RunAt        time.Time
	Succeeded    bool
	Units        []Unit
	ErrorMessage string
	Duration     time.Duration
}

// TransitionFunc computes the next source state from the state stored at the
// time the run is committed.
type TransitionFunc func(prev SourceState) SourceState

// RunOutcome is what a single-source run reports back to its caller.
type RunOutcome struct {
	SourceID       int64         `json:"source_id"`
	SourceName     string        `json:"source_name"`
	StrategyID     string        `json:"strategy_id"`
	Status         RunStatus     `json:"status"`
	UnitCount      int           `json:"unit_count"`
	Skipped        int           `json:"skipped"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	NeedsAttention bool          `json:"needs_attention"`
}

// BatchSummary aggregates one batch cycle.
type BatchSummary struct {
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Sources     int          `json:"sources"`
	Successes   int          `json:"successes"`
	Failures    int          `json:"failures"`
	ZeroResults int          `json:"zero_results"`
	Abandoned   int          `json:"abandoned"`
	TotalUnits  int          `json:"total_units"`
	Pruned      int64        `json:"pruned_runs"`
	Sync        *SyncStats   `json:"sync,omitempty"`
	Results     []RunOutcome `json:"results"`
}
