// Package normalizer converts raw strategy output into canonical unit rows.
// It performs no I/O and knows nothing about sources.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const DateLayout = "2006-01-02"

var (
	ErrMissingField = errors.New("missing required field")
	ErrBadRent      = errors.New("unparseable rent")
	ErrBadDate      = errors.New("unparseable availability date")
)

// Canonical bed types.
const (
	Studio      = "Studio"
	Convertible = "Convertible"
	OneBR       = "1BR"
	OneBRDen    = "1BR+Den"
	TwoBR       = "2BR"
	ThreeBRPlus = "3BR+"
)

var canonicalBedTypes = map[string]bool{
	Studio:      true,
	Convertible: true,
	OneBR:       true,
	OneBRDen:    true,
	TwoBR:       true,
	ThreeBRPlus: true,
}

// bedTypeAliases is keyed by the lowercased, trimmed raw value. Duplex,
// Penthouse, Loft and similar are deliberately absent.
var bedTypeAliases = map[string]string{
	"0":             Studio,
	"0br":           Studio,
	"studio":        Studio,
	"studio/1 bath": Studio,
	"studio/1bath":  Studio,
	"loft studio":   Studio,

	"convertible":               Convertible,
	"alcove":                    Convertible,
	"jr 1br":                    Convertible,
	"jr one bedroom/1 bath":     Convertible,
	"junior one bedroom/1 bath": Convertible,
	"convertible/1 bath":        Convertible,
	"convertible/1bath":         Convertible,
	"convertible deluxe":        Convertible,

	"1":                OneBR,
	"1br":              OneBR,
	"1 bed":            OneBR,
	"1 bedroom":        OneBR,
	"one bedroom":      OneBR,
	"1 bedroom/1bath":  OneBR,
	"1 bedroom/1 bath": OneBR,

	"1br+den":   OneBRDen,
	"1 bed den": OneBRDen,
	"1+den":     OneBRDen,

	"2":                TwoBR,
	"2br":              TwoBR,
	"2 bed":            TwoBR,
	"2 beds":           TwoBR,
	"2 bedroom":        TwoBR,
	"two bedroom":      TwoBR,
	"2 bedroom/1 bath": TwoBR,
	"2 bedroom/1bath":  TwoBR,
	"2 bedroom/2 bath": TwoBR,
	"2 bedroom/2bath":  TwoBR,

	"3":                ThreeBRPlus,
	"3br":              ThreeBRPlus,
	"3 bed":            ThreeBRPlus,
	"3 beds":           ThreeBRPlus,
	"3 bedroom":        ThreeBRPlus,
	"3+":               ThreeBRPlus,
	"4":                ThreeBRPlus,
	"4br":              ThreeBRPlus,
	"4bd":              ThreeBRPlus,
	"4 bed":            ThreeBRPlus,
	"4 beds":           ThreeBRPlus,
	"3 bedroom/3 bath": ThreeBRPlus,
	"3 bedroom/2 bath": ThreeBRPlus,
	"3 bedroom/3bath":  ThreeBRPlus,
}

var availableNow = map[string]bool{
	"available now": true,
	"available":     true,
	"now":           true,
	"immediate":     true,
	"immediately":   true,
	"":              true,
}

// IsCanonical reports whether bedType is one of the canonical bed types.
func IsCanonical(bedType string) bool {
	return canonicalBedTypes[bedType]
}

// CanonicalBedTypes returns the canonical set in display order.
func CanonicalBedTypes() []string {
	return []string{Studio, Convertible, OneBR, OneBRDen, TwoBR, ThreeBRPlus}
}

// Normalize converts raw into a canonical unit for sourceID using the
// current time for "available now" dates and the capture timestamp.
func Normalize(raw models.RawUnit, sourceID int64) (models.Unit, error) {
	return NormalizeAt(raw, sourceID, time.Now())
}

// NormalizeAt is Normalize with an explicit clock.
func NormalizeAt(raw models.RawUnit, sourceID int64, now time.Time) (models.Unit, error) {
	label := strings.TrimSpace(raw.UnitLabel)
	if label == "" {
		return models.Unit{}, fmt.Errorf("%w: unit label", ErrMissingField)
	}
	if strings.TrimSpace(raw.BedType) == "" {
		return models.Unit{}, fmt.Errorf("%w: bed type", ErrMissingField)
	}
	if isBlank(raw.Rent) {
		return models.Unit{}, fmt.Errorf("%w: rent", ErrMissingField)
	}

	bedType, canonical := BedType(raw.BedType)

	rent, err := RentCents(raw.Rent)
	if err != nil {
		return models.Unit{}, err
	}

	date, err := AvailabilityDate(raw.AvailabilityDate, now)
	if err != nil {
		return models.Unit{}, err
	}

	unit := models.Unit{
		SourceID:         sourceID,
		UnitLabel:        label,
		BedType:          bedType,
		NonCanonical:     !canonical,
		RentCents:        rent,
		AvailabilityDate: date,
		FloorPlanName:    optString(raw.FloorPlanName),
		FloorPlanURL:     optString(raw.FloorPlanURL),
		Baths:            optString(raw.Baths),
		SqFt:             sqft(raw.SqFt),
		CapturedAt:       now.UTC(),
	}
	return unit, nil
}

// BedType maps a raw bed type to its canonical form. Unknown values are
// returned trimmed but otherwise verbatim, with canonical=false.
func BedType(raw string) (string, bool) {
	stripped := strings.TrimSpace(raw)
	if alias, ok := bedTypeAliases[strings.ToLower(stripped)]; ok {
		return alias, true
	}
	if canonicalBedTypes[stripped] {
		return stripped, true
	}
	return stripped, false
}

// RentCents parses a rent value into integer cents. Strings may carry a
// currency symbol, thousands separators, a "Starting at" prefix, a period
// suffix and a range (lower bound wins). Numbers are whole currency units.
func RentCents(v any) (int64, error) {
	switch r := v.(type) {
	case int:
		return int64(r) * 100, nil
	case int64:
		return r * 100, nil
	case int32:
		return int64(r) * 100, nil
	case float64:
		return int64(math.Round(r * 100)), nil
	case float32:
		return int64(math.Round(float64(r) * 100)), nil
	case json.Number:
		return RentCents(r.String())
	case string:
		return parseRentString(r)
	case nil:
		return 0, fmt.Errorf("%w: empty", ErrBadRent)
	default:
		return parseRentString(fmt.Sprint(r))
	}
}

var rentSuffixes = []string{"/mo", "/month", "per month", "/ month", "mo."}

var rangeSeparators = []string{" – ", " — ", " - ", "–", "—", "-", " to "}

func parseRentString(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "starting at") {
		s = strings.TrimSpace(s[len("starting at"):])
	} else if strings.HasPrefix(lower, "from ") {
		s = strings.TrimSpace(s[len("from "):])
	}

	for _, sep := range rangeSeparators {
		if idx := strings.Index(s, sep); idx > 0 {
			s = s[:idx]
			break
		}
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	lower = strings.ToLower(s)
	for _, suffix := range rentSuffixes {
		if idx := strings.Index(lower, suffix); idx >= 0 {
			s = s[:idx]
			lower = lower[:idx]
		}
	}
	s = strings.TrimSpace(s)

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadRent, raw)
	}
	return int64(math.Round(f * 100)), nil
}

// AvailabilityDate returns raw as a YYYY-MM-DD string. Every "available now"
// phrasing, including an empty value, becomes the calendar date of now.
func AvailabilityDate(raw string, now time.Time) (string, error) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if availableNow[lower] {
		return now.Format(DateLayout), nil
	}
	if strings.HasPrefix(lower, "available ") {
		s = strings.TrimSpace(s[len("available "):])
		if availableNow[strings.ToLower(s)] {
			return now.Format(DateLayout), nil
		}
	}

	t, err := dateparse.ParseIn(s, now.Location())
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrBadDate, raw)
	}
	if t.Year() == 0 {
		t = withYear(t, now)
	}
	return t.Format(DateLayout), nil
}

// staleAfter is how far a year-less date may sit behind now before it is
// read as next year's.
const staleAfter = 90 * 24 * time.Hour

// withYear places a month/day with no year ("3/1", "Mar 1") in now's year,
// or the following one when that lands well in the past.
func withYear(t, now time.Time) time.Time {
	d := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())
	if now.Sub(d) > staleAfter {
		d = d.AddDate(1, 0, 0)
	}
	return d
}

func isBlank(v any) bool {
	switch r := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(r) == ""
	}
	return false
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// sqft tolerates strings like "1,050 sq ft"; anything unparseable is dropped
// since area is optional.
func sqft(v any) *int {
	var n int
	switch r := v.(type) {
	case nil:
		return nil
	case int:
		n = r
	case int64:
		n = int(r)
	case float64:
		n = int(math.Round(r))
	case json.Number:
		f, err := r.Float64()
		if err != nil {
			return nil
		}
		n = int(math.Round(f))
	case string:
		digits := strings.Builder{}
		for _, c := range r {
			if c >= '0' && c <= '9' {
				digits.WriteRune(c)
			} else if c == '.' {
				break
			}
		}
		if digits.Len() == 0 {
			return nil
		}
		parsed, err := strconv.Atoi(digits.String())
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	if n <= 0 {
		return nil
	}
	return &n
}
