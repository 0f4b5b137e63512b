package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/normalizer"
)

var ErrInvalidFilter = errors.New("invalid filter")

// maxRent is the largest whole-currency bound that still fits in cents.
const maxRent = math.MaxInt64 / 100

type UnitStore interface {
	QueryUnits(ctx context.Context, filter models.UnitFilter) ([]models.UnitView, error)
}

// SearchParams is the user-facing filter. Rents are whole currency units.
type SearchParams struct {
	BedTypes            []string
	RentMin             *int64
	RentMax             *int64
	AvailableBefore     string
	Neighborhoods       []string
	IncludeNonCanonical bool
}

type UnitService struct {
	store UnitStore
}

func NewUnitService(store UnitStore) *UnitService {
	return &UnitService{store: store}
}

// Search validates p and returns matching units joined to their source.
// The availability cutoff is inclusive and compares stored dates only.
func (s *UnitService) Search(ctx context.Context, p SearchParams) ([]models.UnitView, error) {
	filter, err := p.Filter()
	if err != nil {
		return nil, err
	}
	return s.store.QueryUnits(ctx, filter)
}

// Filter converts p to a store filter.
func (p SearchParams) Filter() (models.UnitFilter, error) {
	f := models.UnitFilter{
		BedTypes:            p.BedTypes,
		Neighborhoods:       p.Neighborhoods,
		IncludeNonCanonical: p.IncludeNonCanonical,
	}

	if p.RentMin != nil {
		if *p.RentMin < 0 {
			return f, fmt.Errorf("%w: rent_min must not be negative", ErrInvalidFilter)
		}
		if *p.RentMin > maxRent {
			return f, fmt.Errorf("%w: rent_min is too large", ErrInvalidFilter)
		}
		cents := *p.RentMin * 100
		f.RentMinCents = &cents
	}
	if p.RentMax != nil {
		if *p.RentMax < 0 {
			return f, fmt.Errorf("%w: rent_max must not be negative", ErrInvalidFilter)
		}
		if *p.RentMax > maxRent {
			return f, fmt.Errorf("%w: rent_max is too large", ErrInvalidFilter)
		}
		if p.RentMin != nil && *p.RentMax < *p.RentMin {
			return f, fmt.Errorf("%w: rent_max must be >= rent_min", ErrInvalidFilter)
		}
		cents := *p.RentMax * 100
		f.RentMaxCents = &cents
	}

	if p.AvailableBefore != "" {
		if _, err := time.Parse(normalizer.DateLayout, p.AvailableBefore); err != nil {
			return f, fmt.Errorf("%w: available_before must be YYYY-MM-DD", ErrInvalidFilter)
		}
		f.AvailableBefore = p.AvailableBefore
	}
	return f, nil
}
