package scraper

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/PuerkitoBio/goquery"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
)

// CardFamily scrapes listing pages that show one card or row per unit. Pages
// are either fetched directly or rendered in a browser.
type CardFamily struct {
	id       string
	client   *http.Client
	renderer render.Renderer
	sets     []selectorSet
}

func (s *CardFamily) ID() string { return s.id }

func (s *CardFamily) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	var (
		doc *goquery.Document
		err error
	)
	if s.renderer != nil {
		var html string
		html, err = s.renderer.Render(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("%s render: %w", s.id, err)
		}
		doc, err = parseDocument(html)
	} else {
		doc, err = getDocument(ctx, s.client, src.URL)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.id, err)
	}

	units, layout, err := extractCards(doc, s.sets)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", s.id, src.URL, err)
	}
	log.Printf("%s: layout %s, %d units", s.id, layout, len(units))
	return units, nil
}

func NewFunnel(client *http.Client) *CardFamily {
	return &CardFamily{
		id:     StrategyFunnel,
		client: client,
		sets: []selectorSet{
			{
				Name:  "unit-listing",
				Card:  "[class*='unit-listing'], [class*='unit-row'], [class*='floorplan-row']",
				Bed:   "[class*='bed'], [class*='bedroom']",
				Rent:  "[class*='price'], [class*='rent']",
				Avail: "[class*='avail'], [class*='available']",
				Label: "[class*='unit-number'], [class*='number']",
			},
		},
	}
}

func NewAppFolio(client *http.Client) *CardFamily {
	return &CardFamily{
		id:     StrategyAppFolio,
		client: client,
		sets: []selectorSet{
			{
				Name:      "listing-item",
				Card:      "[class*='listing-item'], [class*='unit-card'], [class*='available-unit']",
				Bed:       "[class*='bedroom'], [class*='bed-count'], [data-bedrooms]",
				Rent:      "[class*='price'], [class*='rent'], [class*='rate']",
				Avail:     "[class*='avail'], [class*='move-in'], [class*='available']",
				Label:     "[class*='unit-number'], [class*='unit-name'], [class*='number']",
				LabelAttr: "data-unit",
			},
		},
	}
}

// Bozzuto has moved its markup several times; each card class is its own
// layout.
func NewBozzuto(client *http.Client) *CardFamily {
	fields := selectorSet{
		Bed:   "[class*='bedroom'], [class*='bed'], [data-beds]",
		Rent:  "[class*='rent'], [class*='price'], [data-price]",
		Avail: "[class*='avail'], [class*='available'], [class*='move-in']",
		Label: "[class*='unit-number'], [class*='unit-name'], [class*='fp-unit']",
	}
	var sets []selectorSet
	for _, card := range []string{
		"[class*='available-apartment']",
		"[class*='fp-apartment']",
		"[class*='unit-card']",
		"[class*='apartment-item']",
	} {
		set := fields
		set.Name = card
		set.Card = card
		sets = append(sets, set)
	}
	return &CardFamily{id: StrategyBozzuto, client: client, sets: sets}
}

func NewRealPage(renderer render.Renderer) *CardFamily {
	return &CardFamily{
		id:       StrategyRealPage,
		renderer: renderer,
		sets: []selectorSet{
			{
				Name:      "available-unit",
				Card:      "[class*='available-unit'], [class*='floorplan-item'], [class*='unit-row']",
				Bed:       "[class*='bed'], [data-beds], [class*='bedroom']",
				Rent:      "[class*='price'], [class*='rent'], [data-price]",
				Avail:     "[class*='avail'], [class*='available'], [data-available]",
				Label:     "[class*='unit-number'], [data-unit], [class*='number']",
				LabelAttr: "data-unit",
			},
		},
	}
}
