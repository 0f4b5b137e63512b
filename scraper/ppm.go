package scraper

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/roxie-moxie/moxie-buildings-sub000/identity"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
)

const (
	defaultPPMPage = "https://ppmapartments.com/availability/"
	ppmCacheTTL    = 30 * time.Minute
)

// PPM scrapes the single availability page shared by every PPM building.
// The page is rendered once and reused for all buildings in a batch.
type PPM struct {
	renderer render.Renderer
	page     string
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cached    []ppmUnit
	fetchedAt time.Time
}

type ppmUnit struct {
	building string
	unit     models.RawUnit
}

func NewPPM(renderer render.Renderer, page string) *PPM {
	if page == "" {
		page = defaultPPMPage
	}
	return &PPM{renderer: renderer, page: page, ttl: ppmCacheTTL, now: time.Now}
}

func (s *PPM) ID() string { return StrategyPPM }

func (s *PPM) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	units := []models.RawUnit{}
	for _, u := range all {
		if identity.SameBuilding(u.building, src.Name) {
			units = append(units, u.unit)
		}
	}
	return units, nil
}

// load holds the lock across the render so concurrent PPM sources wait for
// one page load instead of each rendering it.
func (s *PPM) load(ctx context.Context) ([]ppmUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	html, err := s.renderer.Render(ctx, s.page)
	if err != nil {
		return nil, fmt.Errorf("ppm render: %w", err)
	}
	units, err := parsePPM(html)
	if err != nil {
		return nil, err
	}
	log.Printf("PPM: %d units on shared availability page", len(units))

	s.cached = units
	s.fetchedAt = s.now()
	return units, nil
}

// Reset drops the cached page so the next call renders it again.
func (s *PPM) Reset() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func parsePPM(html string) ([]ppmUnit, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	cards := doc.Find("div.unit")
	if cards.Length() == 0 {
		return nil, fmt.Errorf("ppm: %w", ErrNoMatch)
	}

	var units []ppmUnit
	cards.Each(func(_ int, card *goquery.Selection) {
		building := cleanText(card.Find("div.spec-building").First().Text())
		if building == "" {
			return
		}
		building = strings.TrimSpace(strings.TrimPrefix(building, "Building:"))

		unitType := ppmSpec(card, "Unit Type:")
		if unitType == "" {
			return
		}
		avail := ppmSpec(card, "Availability:")
		if avail == "" {
			avail = "Available Now"
		}

		var plan string
		card.Find("div.spec").EachWithBreak(func(_ int, spec *goquery.Selection) bool {
			if strings.Contains(spec.Text(), "Floorplan") {
				plan = cleanText(spec.Find("a").First().Text())
				return false
			}
			return true
		})

		units = append(units, ppmUnit{
			building: building,
			unit: models.RawUnit{
				UnitLabel:        ppmSpec(card, "Unit:"),
				BedType:          unitType,
				Rent:             ppmSpec(card, "Price:"),
				AvailabilityDate: avail,
				FloorPlanName:    plan,
			},
		})
	})
	return units, nil
}

// ppmSpec returns the value of the div.spec whose text starts with label.
func ppmSpec(card *goquery.Selection, label string) string {
	var value string
	card.Find("div.spec").EachWithBreak(func(_ int, spec *goquery.Selection) bool {
		text := cleanText(spec.Text())
		if strings.HasPrefix(text, label) {
			value = strings.TrimSpace(strings.TrimPrefix(text, label))
			return false
		}
		return true
	})
	return value
}
