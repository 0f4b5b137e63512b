package models

import "time"

type RunStatus string

const (
	RunStatusNever   RunStatus = "never"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Source is one building whose availability is tracked. Name, URL,
// neighborhood, management company and credentials come from the external
// building list and are never rewritten by the scraper.
type Source struct {
	ID                   int64      `json:"id" db:"id"`
	Name                 string     `json:"name" db:"name"`
	URL                  string     `json:"url" db:"url"`
	Neighborhood         string     `json:"neighborhood,omitempty" db:"neighborhood"`
	ManagementCompany    string     `json:"management_company,omitempty" db:"management_company"`
	StrategyID           string     `json:"strategy_id,omitempty" db:"strategy_id"`
	RentCafePropertyCode string     `json:"-" db:"rentcafe_property_id"`
	RentCafeAPIToken     string     `json:"-" db:"rentcafe_api_token"`
	Active               bool       `json:"active" db:"active"`
	LastRunStatus        RunStatus  `json:"last_run_status" db:"last_run_status"`
	LastRunAt            *time.Time `json:"last_run_at" db:"last_run_at"`
	ConsecutiveZeroCount int        `json:"consecutive_zero_count" db:"consecutive_zero_count"`
	NeedsAttention       bool       `json:"needs_attention" db:"needs_attention"`
	AttentionSince       *time.Time `json:"attention_since,omitempty" db:"attention_since"`
}

// State returns the mutable status portion of the source.
func (s *Source) State() SourceState {
	return SourceState{
		LastRunStatus:        s.LastRunStatus,
		LastRunAt:            s.LastRunAt,
		ConsecutiveZeroCount: s.ConsecutiveZeroCount,
		NeedsAttention:       s.NeedsAttention,
		AttentionSince:       s.AttentionSince,
	}
}

// SourceState is the part of a source that only the result writer mutates.
type SourceState struct {
	LastRunStatus        RunStatus
	LastRunAt            *time.Time
	ConsecutiveZeroCount int
	NeedsAttention       bool
	AttentionSince       *time.Time
}

// SourceRecord is one row of the external building list.
type SourceRecord struct {
	Name                 string `yaml:"name" json:"name"`
	URL                  string `yaml:"url" json:"url"`
	Neighborhood         string `yaml:"neighborhood" json:"neighborhood"`
	ManagementCompany    string `yaml:"management_company" json:"management_company"`
	StrategyID           string `yaml:"platform" json:"platform"`
	RentCafePropertyCode string `yaml:"rentcafe_property_id" json:"rentcafe_property_id"`
	RentCafeAPIToken     string `yaml:"rentcafe_api_token" json:"rentcafe_api_token"`
}

type SyncStats struct {
	Added       int `json:"added"`
	Updated     int `json:"updated"`
	Deactivated int `json:"deactivated"`
	Assigned    int `json:"assigned"`
}
