package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

var ErrNotFound = errors.New("not found")

const defaultRunLimit = 100

// placeholder renders the n-th (1-based) bind parameter for a dialect.
type placeholder func(n int) string

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

const unitColumns = `u.id, u.source_id, u.unit_label, u.bed_type, u.non_canonical, u.rent_cents,
	u.availability_date, u.floor_plan_name, u.floor_plan_url, u.baths, u.sqft, u.captured_at,
	s.name, s.url, COALESCE(s.neighborhood, ''), s.last_run_status, s.last_run_at`

// unitQuery builds the read-path query. The availability cutoff is a plain
// string comparison on the stored YYYY-MM-DD date.
func unitQuery(f models.UnitFilter, ph placeholder) (string, []any) {
	var (
		where []string
		args  []any
	)
	bind := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	where = append(where, "s.active")
	if !f.IncludeNonCanonical {
		where = append(where, "NOT u.non_canonical")
	}
	if len(f.BedTypes) > 0 {
		where = append(where, "u.bed_type IN ("+bindAll(f.BedTypes, bind)+")")
	}
	if f.RentMinCents != nil {
		where = append(where, "u.rent_cents >= "+bind(*f.RentMinCents))
	}
	if f.RentMaxCents != nil {
		where = append(where, "u.rent_cents <= "+bind(*f.RentMaxCents))
	}
	if f.AvailableBefore != "" {
		where = append(where, "u.availability_date <= "+bind(f.AvailableBefore))
	}
	if len(f.Neighborhoods) > 0 {
		where = append(where, "s.neighborhood IN ("+bindAll(f.Neighborhoods, bind)+")")
	}

	query := `SELECT ` + unitColumns + `
		FROM units u
		JOIN sources s ON s.id = u.source_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY u.rent_cents, s.name, u.unit_label`
	return query, args
}

func bindAll(values []string, bind func(any) string) string {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = bind(v)
	}
	return strings.Join(marks, ", ")
}

// syncPlan splits the incoming building list against what is stored.
type syncPlan struct {
	records    []models.SourceRecord
	deactivate []int64
	skipped    int
}

// planSync drops records without a name or URL, keeps the first record per
// URL and lists active stored sources missing from the incoming list.
func planSync(records []models.SourceRecord, active map[string]int64) syncPlan {
	var plan syncPlan
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		r.Name = strings.TrimSpace(r.Name)
		r.URL = strings.TrimSpace(r.URL)
		r.StrategyID = strings.TrimSpace(r.StrategyID)
		if r.Name == "" || r.URL == "" || seen[r.URL] {
			plan.skipped++
			continue
		}
		seen[r.URL] = true
		plan.records = append(plan.records, r)
	}
	for url, id := range active {
		if !seen[url] {
			plan.deactivate = append(plan.deactivate, id)
		}
	}
	return plan
}

func durationMillis(d time.Duration) int64 {
	return d.Milliseconds()
}

func runStatus(succeeded bool) models.RunStatus {
	if succeeded {
		return models.RunStatusSuccess
	}
	return models.RunStatusFailed
}

func unitCount(c models.RunCommit) int {
	if !c.Succeeded {
		return 0
	}
	return len(c.Units)
}
