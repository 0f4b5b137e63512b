package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const defaultSightMapBase = "https://sightmap.com"

var (
	sightMapEmbedRegex = regexp.MustCompile(`(?i)sightmap\.com/embed/([a-z0-9]+)`)
	sightMapSubpages   = []string{"/floorplans", "/floorplans/", "/floor-plans", "/availability", "/sightmap"}
)

// SightMap finds the SightMap widget embedded on a building's site and reads
// units from the widget's JSON API.
type SightMap struct {
	client *http.Client
	base   string
}

func NewSightMap(client *http.Client, base string) *SightMap {
	if base == "" {
		base = defaultSightMapBase
	}
	return &SightMap{client: client, base: strings.TrimRight(base, "/")}
}

func (s *SightMap) ID() string { return StrategySightMap }

func (s *SightMap) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	embedID, err := s.findEmbed(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	apiURL, err := s.resolveAPI(ctx, embedID)
	if err != nil {
		return nil, err
	}

	var payload sightMapPayload
	if err := getJSON(ctx, s.client, apiURL, &payload); err != nil {
		return nil, fmt.Errorf("sightmap api: %w", err)
	}
	return payload.units()
}

func (s *SightMap) findEmbed(ctx context.Context, pageURL string) (string, error) {
	candidates := []string{pageURL}
	if u, err := url.Parse(strings.TrimRight(pageURL, "/")); err == nil && u.Host != "" {
		base := u.Scheme + "://" + u.Host
		for _, p := range sightMapSubpages {
			c := base + p
			if c != pageURL {
				candidates = append(candidates, c)
			}
		}
	}

	for _, c := range candidates {
		body, err := get(ctx, s.client, c, nil)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if id := sightMapEmbedID(string(body)); id != "" {
			log.Printf("SightMap: embed %s found on %s", id, c)
			return id, nil
		}
	}
	return "", fmt.Errorf("sightmap: no embed on %s (checked %d pages): %w", pageURL, len(candidates), ErrNoMatch)
}

// sightMapEmbedID returns the first embed id in html, ignoring the widget's
// own script URLs (embed/api, embed/api.js).
func sightMapEmbedID(html string) string {
	for _, m := range sightMapEmbedRegex.FindAllStringSubmatch(html, -1) {
		if strings.HasPrefix(strings.ToLower(m[1]), "api") {
			continue
		}
		return m[1]
	}
	return ""
}

func (s *SightMap) resolveAPI(ctx context.Context, embedID string) (string, error) {
	body, err := get(ctx, s.client, s.base+"/embed/"+embedID, nil)
	if err != nil {
		return "", fmt.Errorf("sightmap embed %s: %w", embedID, err)
	}
	return sightMapAPIURL(string(body))
}

// sightMapAPIURL reads window.__APP_CONFIG__ = {...} and returns the first
// sightmap href.
func sightMapAPIURL(page string) (string, error) {
	idx := strings.Index(page, "__APP_CONFIG__")
	if idx < 0 {
		return "", fmt.Errorf("%w: no __APP_CONFIG__ in embed page", ErrUpstream)
	}
	rest := page[idx:]
	eq := strings.Index(rest, "=")
	if eq < 0 {
		return "", fmt.Errorf("%w: malformed __APP_CONFIG__", ErrUpstream)
	}
	rest = rest[eq+1:]
	start := strings.Index(rest, "{")
	if start < 0 {
		return "", fmt.Errorf("%w: malformed __APP_CONFIG__", ErrUpstream)
	}

	var cfg struct {
		Sightmaps []struct {
			Href string `json:"href"`
		} `json:"sightmaps"`
	}
	// Decode stops after the first complete value, so trailing script is ignored.
	if err := json.NewDecoder(strings.NewReader(rest[start:])).Decode(&cfg); err != nil {
		return "", fmt.Errorf("%w: decode __APP_CONFIG__: %v", ErrUpstream, err)
	}
	if len(cfg.Sightmaps) == 0 || cfg.Sightmaps[0].Href == "" {
		return "", fmt.Errorf("%w: __APP_CONFIG__ has no sightmaps", ErrUpstream)
	}
	return cfg.Sightmaps[0].Href, nil
}

type sightMapPayload struct {
	Data *struct {
		Units *[]struct {
			UnitNumber         string   `json:"unit_number"`
			FloorPlanID        any      `json:"floor_plan_id"`
			Area               *float64 `json:"area"`
			Price              any      `json:"price"`
			DisplayAvailableOn string   `json:"display_available_on"`
		} `json:"units"`
		FloorPlans []struct {
			ID            any    `json:"id"`
			Name          string `json:"name"`
			BedroomLabel  string `json:"bedroom_label"`
			BathroomLabel string `json:"bathroom_label"`
		} `json:"floor_plans"`
	} `json:"data"`
}

// units fails when the body lacks data.units; the API answers some errors
// with HTTP 200 and an {"error": ...} object.
func (p sightMapPayload) units() ([]models.RawUnit, error) {
	if p.Data == nil || p.Data.Units == nil {
		return nil, fmt.Errorf("%w: sightmap api response has no data.units", ErrUpstream)
	}
	type plan struct{ name, beds, baths string }
	plans := make(map[string]plan, len(p.Data.FloorPlans))
	for _, fp := range p.Data.FloorPlans {
		plans[fmt.Sprint(fp.ID)] = plan{fp.Name, fp.BedroomLabel, fp.BathroomLabel}
	}

	units := []models.RawUnit{}
	for _, u := range *p.Data.Units {
		// Placeholder units (parking, storage) carry area 0 or 1.
		if u.Area != nil && *u.Area <= 1 {
			continue
		}
		fp := plans[fmt.Sprint(u.FloorPlanID)]

		raw := models.RawUnit{
			UnitLabel:        u.UnitNumber,
			BedType:          fp.beds,
			FloorPlanName:    fp.name,
			Baths:            fp.baths,
			AvailabilityDate: u.DisplayAvailableOn,
		}
		if u.Area != nil {
			raw.SqFt = *u.Area
		}
		if u.Price != nil && u.Price != "" && u.Price != float64(0) {
			raw.Rent = u.Price
		}
		if raw.AvailabilityDate == "" {
			raw.AvailabilityDate = "Available Now"
		}
		units = append(units, raw)
	}
	return units, nil
}
