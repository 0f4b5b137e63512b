package models

import "time"

// RawUnit is a record as produced by a strategy, before normalization.
// Rent and SqFt accept strings or numbers.
type RawUnit struct {
	UnitLabel        string `json:"unit_number"`
	BedType          string `json:"bed_type"`
	Rent             any    `json:"rent"`
	AvailabilityDate string `json:"availability_date"`
	FloorPlanName    string `json:"floor_plan_name,omitempty"`
	FloorPlanURL     string `json:"floor_plan_url,omitempty"`
	Baths            string `json:"baths,omitempty"`
	SqFt             any    `json:"sqft,omitempty"`
}

// Unit is a canonical, stored availability row.
type Unit struct {
	ID               int64     `json:"id" db:"id"`
	SourceID         int64     `json:"source_id" db:"source_id"`
	UnitLabel        string    `json:"unit_number" db:"unit_label"`
	BedType          string    `json:"bed_type" db:"bed_type"`
	NonCanonical     bool      `json:"non_canonical" db:"non_canonical"`
	RentCents        int64     `json:"rent_cents" db:"rent_cents"`
	AvailabilityDate string    `json:"availability_date" db:"availability_date"`
	FloorPlanName    *string   `json:"floor_plan_name" db:"floor_plan_name"`
	FloorPlanURL     *string   `json:"floor_plan_url" db:"floor_plan_url"`
	Baths            *string   `json:"baths" db:"baths"`
	SqFt             *int      `json:"sqft" db:"sqft"`
	CapturedAt       time.Time `json:"captured_at" db:"captured_at"`
}

// UnitView is a unit joined to its source for the read path.
type UnitView struct {
	Unit
	SourceName    string     `json:"building_name"`
	SourceURL     string     `json:"building_url"`
	Neighborhood  string     `json:"neighborhood,omitempty"`
	LastRunStatus RunStatus  `json:"last_run_status"`
	LastRunAt     *time.Time `json:"last_scraped"`
}

// UnitFilter narrows the read path. Zero values mean "no filter".
// AvailableBefore is an inclusive YYYY-MM-DD cutoff.
type UnitFilter struct {
	BedTypes            []string
	RentMinCents        *int64
	RentMaxCents        *int64
	AvailableBefore     string
	Neighborhoods       []string
	IncludeNonCanonical bool
}
