package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeNow    CommandType = "scrape_now"
	CmdScrapeSource CommandType = "scrape_source"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	SourceID int64 `json:"source_id,omitempty"`
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobSuccess JobStatus = "success"
	JobFailed  JobStatus = "failed"
)

// Job tracks a manual single-source run. Jobs live in process memory only.
type Job struct {
	ID        string        `json:"job_id"`
	SourceID  int64         `json:"source_id"`
	Status    JobStatus     `json:"status"`
	UnitCount *int          `json:"unit_count"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}
