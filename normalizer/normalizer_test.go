package normalizer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

var fixedNow = time.Date(2026, 3, 10, 15, 4, 5, 0, time.UTC)

func validRaw() models.RawUnit {
	return models.RawUnit{
		UnitLabel:        "1204",
		BedType:          "1br",
		Rent:             "$2,500.00",
		AvailabilityDate: "04/01/2026",
	}
}

func TestNormalize_Basic(t *testing.T) {
	unit, err := NormalizeAt(validRaw(), 7, fixedNow)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if unit.SourceID != 7 {
		t.Fatalf("expected source 7, got %d", unit.SourceID)
	}
	if unit.UnitLabel != "1204" {
		t.Fatalf("unexpected label %q", unit.UnitLabel)
	}
	if unit.BedType != OneBR || unit.NonCanonical {
		t.Fatalf("expected canonical 1BR, got %q non_canonical=%v", unit.BedType, unit.NonCanonical)
	}
	if unit.RentCents != 250000 {
		t.Fatalf("expected 250000 cents, got %d", unit.RentCents)
	}
	if unit.AvailabilityDate != "2026-04-01" {
		t.Fatalf("unexpected date %q", unit.AvailabilityDate)
	}
	if unit.FloorPlanName != nil || unit.Baths != nil || unit.SqFt != nil {
		t.Fatalf("expected optional fields to be nil")
	}
	if !unit.CapturedAt.Equal(fixedNow) {
		t.Fatalf("unexpected captured_at %v", unit.CapturedAt)
	}
}

func TestNormalize_RentStringAndIntegerAgree(t *testing.T) {
	fromString, err := RentCents("$2,500.00")
	if err != nil {
		t.Fatalf("string rent: %v", err)
	}
	fromInt, err := RentCents(2500)
	if err != nil {
		t.Fatalf("int rent: %v", err)
	}
	if fromString != 250000 || fromInt != 250000 {
		t.Fatalf("expected 250000 for both, got %d and %d", fromString, fromInt)
	}
}

func TestRentCents_Formats(t *testing.T) {
	tests := []struct {
		in   any
		want int64
	}{
		{"$1,500", 150000},
		{"1500", 150000},
		{"$1,800/mo", 180000},
		{"Starting at $2,211", 221100},
		{"$2,200 – $2,800", 220000},
		{"$2211-$2799", 221100},
		{"$1,999.99", 199999},
		{2500.0, 250000},
		{int64(1200), 120000},
		{json.Number("1750"), 175000},
	}
	for _, tt := range tests {
		got, err := RentCents(tt.in)
		if err != nil {
			t.Fatalf("RentCents(%v) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("RentCents(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRentCents_Unparseable(t *testing.T) {
	for _, in := range []any{"N/A", "Call for pricing", nil} {
		if _, err := RentCents(in); !errors.Is(err, ErrBadRent) {
			t.Fatalf("RentCents(%v): expected ErrBadRent, got %v", in, err)
		}
	}
}

func TestNormalize_AvailableNowEqualsToday(t *testing.T) {
	empty := validRaw()
	empty.AvailabilityDate = ""
	base, err := NormalizeAt(empty, 1, fixedNow)
	if err != nil {
		t.Fatalf("normalize empty date: %v", err)
	}
	if base.AvailabilityDate != "2026-03-10" {
		t.Fatalf("expected today for empty date, got %q", base.AvailabilityDate)
	}

	for _, phrase := range []string{"Available Now", "available now", "NOW", "Immediate", "immediately", "Available", "  now  "} {
		raw := validRaw()
		raw.AvailabilityDate = phrase
		unit, err := NormalizeAt(raw, 1, fixedNow)
		if err != nil {
			t.Fatalf("normalize %q: %v", phrase, err)
		}
		if unit.AvailabilityDate != base.AvailabilityDate {
			t.Fatalf("%q normalized to %q, want %q", phrase, unit.AvailabilityDate, base.AvailabilityDate)
		}
	}
}

func TestAvailabilityDate_Formats(t *testing.T) {
	tests := map[string]string{
		"3/25/2026":            "2026-03-25",
		"Available 03/25/2026": "2026-03-25",
		"March 1, 2026":        "2026-03-01",
		"2026-04-01":           "2026-04-01",
		"Apr 15, 2026":         "2026-04-15",
	}
	for in, want := range tests {
		got, err := AvailabilityDate(in, fixedNow)
		if err != nil {
			t.Fatalf("AvailabilityDate(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("AvailabilityDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAvailabilityDate_NoYear(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	tests := map[string]string{
		"3/1":    "2027-03-01",
		"Mar 1":  "2027-03-01",
		"Nov 15": "2026-11-15",
		"10/1":   "2026-10-01",
	}
	for in, want := range tests {
		got, err := AvailabilityDate(in, now)
		if err != nil {
			t.Fatalf("AvailabilityDate(%q) failed: %v", in, err)
		}
		if got != want {
			t.Fatalf("AvailabilityDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_BadDateIsError(t *testing.T) {
	raw := validRaw()
	raw.AvailabilityDate = "sometime soon-ish"
	if _, err := NormalizeAt(raw, 1, fixedNow); !errors.Is(err, ErrBadDate) {
		t.Fatalf("expected ErrBadDate, got %v", err)
	}
}

func TestNormalize_UnknownBedTypePreserved(t *testing.T) {
	raw := validRaw()
	raw.BedType = "PentHouse Loft"
	unit, err := NormalizeAt(raw, 1, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if unit.BedType != "PentHouse Loft" {
		t.Fatalf("expected original casing preserved, got %q", unit.BedType)
	}
	if !unit.NonCanonical {
		t.Fatalf("expected non_canonical=true")
	}
}

func TestBedType_AliasesAnyCasing(t *testing.T) {
	tests := map[string]string{
		"STUDIO":           Studio,
		"0BR":              Studio,
		"Jr 1BR":           Convertible,
		"Alcove":           Convertible,
		"1 Bed":            OneBR,
		"1+Den":            OneBRDen,
		"Two Bedroom":      TwoBR,
		"4BR":              ThreeBRPlus,
		"4bd":              ThreeBRPlus,
		"3":                ThreeBRPlus,
		" 2br ":            TwoBR,
		"Convertible":      Convertible,
		"Loft Studio":      Studio,
		"1BR+Den":          OneBRDen,
		"3 Bedroom/2 Bath": ThreeBRPlus,
	}
	for in, want := range tests {
		got, ok := BedType(in)
		if !ok || got != want {
			t.Fatalf("BedType(%q) = %q,%v want %q,true", in, got, ok, want)
		}
	}
}

func TestNormalize_MissingRequiredFields(t *testing.T) {
	cases := map[string]func(*models.RawUnit){
		"label": func(r *models.RawUnit) { r.UnitLabel = " " },
		"bed":   func(r *models.RawUnit) { r.BedType = "" },
		"rent":  func(r *models.RawUnit) { r.Rent = nil },
	}
	for name, mutate := range cases {
		raw := validRaw()
		mutate(&raw)
		if _, err := NormalizeAt(raw, 1, fixedNow); !errors.Is(err, ErrMissingField) {
			t.Fatalf("%s: expected ErrMissingField, got %v", name, err)
		}
	}
}

func TestNormalize_OptionalFields(t *testing.T) {
	raw := validRaw()
	raw.FloorPlanName = "A2"
	raw.FloorPlanURL = "https://example.com/fp/a2"
	raw.Baths = "1.5"
	raw.SqFt = "1,050 sq ft"
	unit, err := NormalizeAt(raw, 1, fixedNow)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if unit.FloorPlanName == nil || *unit.FloorPlanName != "A2" {
		t.Fatalf("unexpected floor plan name %v", unit.FloorPlanName)
	}
	if unit.FloorPlanURL == nil || *unit.FloorPlanURL != "https://example.com/fp/a2" {
		t.Fatalf("unexpected floor plan url %v", unit.FloorPlanURL)
	}
	if unit.Baths == nil || *unit.Baths != "1.5" {
		t.Fatalf("unexpected baths %v", unit.Baths)
	}
	if unit.SqFt == nil || *unit.SqFt != 1050 {
		t.Fatalf("unexpected sqft %v", unit.SqFt)
	}
}
