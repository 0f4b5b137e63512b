package services

import (
	"context"
	"sort"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

type SourceLister interface {
	ListActiveSources(ctx context.Context) ([]models.Source, error)
}

// HealthService summarizes which sources an operator should look at.
type HealthService struct {
	store SourceLister
	now   func() time.Time
}

func NewHealthService(store SourceLister) *HealthService {
	return &HealthService{store: store, now: time.Now}
}

type HealthReport struct {
	Active         int             `json:"active"`
	NeverRun       []models.Source `json:"never_run"`
	Failing        []models.Source `json:"failing"`
	NeedsAttention []models.Source `json:"needs_attention"`
	Stale          []models.Source `json:"stale"`
}

// Report lists failing and flagged sources, plus sources whose last run is
// older than staleAfter.
func (s *HealthService) Report(ctx context.Context, staleAfter time.Duration) (*HealthReport, error) {
	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return nil, err
	}

	report := &HealthReport{Active: len(sources)}
	cutoff := s.now().Add(-staleAfter)
	for _, src := range sources {
		switch {
		case src.LastRunStatus == models.RunStatusNever || src.LastRunAt == nil:
			report.NeverRun = append(report.NeverRun, src)
			continue
		case src.LastRunStatus == models.RunStatusFailed:
			report.Failing = append(report.Failing, src)
		}
		if src.NeedsAttention {
			report.NeedsAttention = append(report.NeedsAttention, src)
		}
		if src.LastRunAt.Before(cutoff) {
			report.Stale = append(report.Stale, src)
		}
	}

	sort.Slice(report.NeedsAttention, func(a, b int) bool {
		return report.NeedsAttention[a].ConsecutiveZeroCount > report.NeedsAttention[b].ConsecutiveZeroCount
	})
	return report, nil
}
