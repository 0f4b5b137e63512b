package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return data
}

// fakeRenderer serves fixed HTML per URL.
type fakeRenderer struct {
	pages map[string]string
	calls map[string]int
}

func newFakeRenderer(pages map[string]string) *fakeRenderer {
	return &fakeRenderer{pages: pages, calls: make(map[string]int)}
}

func (r *fakeRenderer) Render(_ context.Context, url string) (string, error) {
	r.calls[url]++
	html, ok := r.pages[url]
	if !ok {
		return "", fmt.Errorf("no page for %s", url)
	}
	return html, nil
}

func (r *fakeRenderer) Close() error { return nil }

func TestRentCafe_Scrape(t *testing.T) {
	body := loadFixture(t, "rentcafe_units.json")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("requestType") != "apartmentavailability" || q.Get("showallunit") != "1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("VoyagerPropertyCode") != "p0123" || q.Get("apiToken") != "abc+def" {
			t.Errorf("credentials not passed: %s", r.URL.RawQuery)
		}
		w.Write(body)
	}))
	defer srv.Close()

	s := NewRentCafe(srv.Client(), srv.URL+"/rentcafeapi.aspx")
	units, err := s.Scrape(t.Context(), models.Source{ID: 1, RentCafePropertyCode: "p0123", RentCafeAPIToken: "abc%2Bdef"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units with an availability date, got %d", len(units))
	}

	if units[0].UnitLabel != "1204" || units[0].BedType != "1" || units[0].Rent != "2450.00" {
		t.Fatalf("unexpected first unit %+v", units[0])
	}
	if units[0].FloorPlanName != "A2" || units[0].SqFt != "712" || units[0].Baths != "1.00" {
		t.Fatalf("optional fields not mapped: %+v", units[0])
	}
	if units[1].BedType != "0" || units[1].Rent != "1875" || units[1].Baths != "1" {
		t.Fatalf("expected max rent fallback and numeric beds, got %+v", units[1])
	}
	if units[2].BedType != "3" {
		t.Fatalf("4 beds should map to the top bucket, got %q", units[2].BedType)
	}
}

func TestRentCafe_BodyLevelError(t *testing.T) {
	body := loadFixture(t, "rentcafe_error.json")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	s := NewRentCafe(srv.Client(), srv.URL)
	_, err := s.Scrape(t.Context(), models.Source{RentCafePropertyCode: "p1", RentCafeAPIToken: "t"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if !strings.Contains(err.Error(), "1020") {
		t.Fatalf("error code missing from %v", err)
	}
}

func TestRentCafe_MissingCredentials(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	s := NewRentCafe(srv.Client(), srv.URL)
	_, err := s.Scrape(t.Context(), models.Source{ID: 9, RentCafePropertyCode: "p1"})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
	if hit {
		t.Fatalf("request sent without credentials")
	}
}

func TestRentCafe_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewRentCafe(srv.Client(), srv.URL)
	_, err := s.Scrape(t.Context(), models.Source{RentCafePropertyCode: "p1", RentCafeAPIToken: "t"})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
}

func TestPPM_FiltersByBuildingAndCaches(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		defaultPPMPage: string(loadFixture(t, "ppm_availability.html")),
	})
	s := NewPPM(r, "")

	units, err := s.Scrape(t.Context(), models.Source{Name: "The Ardus"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 Ardus units, got %d: %+v", len(units), units)
	}
	if units[0].UnitLabel != "301" || units[0].BedType != "1 Bed" || units[0].Rent != "$1,950" {
		t.Fatalf("unexpected first unit %+v", units[0])
	}
	if units[0].AvailabilityDate != "04/01/2026" || units[0].FloorPlanName != "A1" {
		t.Fatalf("unexpected date/plan %+v", units[0])
	}
	if units[1].AvailabilityDate != "Available Now" {
		t.Fatalf("blank availability should default to now, got %q", units[1].AvailabilityDate)
	}

	lsd, err := s.Scrape(t.Context(), models.Source{Name: "1350 North Lake Shore Drive"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(lsd) != 1 || lsd[0].UnitLabel != "12B" {
		t.Fatalf("expected unit 12B, got %+v", lsd)
	}

	none, err := s.Scrape(t.Context(), models.Source{Name: "Belmont Court"})
	if err != nil || len(none) != 0 {
		t.Fatalf("Belmont Court card has no unit type: %+v, %v", none, err)
	}

	if r.calls[defaultPPMPage] != 1 {
		t.Fatalf("shared page rendered %d times, want 1", r.calls[defaultPPMPage])
	}
}

func TestSightMap_Scrape(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/floorplans":
			w.Write(loadFixture(t, "sightmap_site.html"))
		case "/embed/x3k9p2lwq1":
			page := strings.ReplaceAll(string(loadFixture(t, "sightmap_embed.html")), "{{API}}", srv.URL)
			w.Write([]byte(page))
		case "/app/api/v1/x3k9p2lwq1/sightmaps/4411":
			w.Write(loadFixture(t, "sightmap_units.json"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewSightMap(srv.Client(), srv.URL)
	units, err := s.Scrape(t.Context(), models.Source{URL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units (placeholder skipped), got %d: %+v", len(units), units)
	}
	if units[0].UnitLabel != "0412" || units[0].BedType != "Studio" || units[0].FloorPlanName != "A1" {
		t.Fatalf("unexpected first unit %+v", units[0])
	}
	if units[0].Rent != float64(1795) || units[0].SqFt != float64(510) {
		t.Fatalf("unexpected rent/area %+v", units[0])
	}
	if units[1].BedType != "2 Bed" || units[1].AvailabilityDate != "04/15/2026" {
		t.Fatalf("unexpected second unit %+v", units[1])
	}
	if units[2].Rent != nil {
		t.Fatalf("unit without price should carry no rent, got %v", units[2].Rent)
	}
}

func TestSightMap_NoEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><script src="https://sightmap.com/embed/api.js"></script></html>`))
	}))
	defer srv.Close()

	s := NewSightMap(srv.Client(), srv.URL)
	_, err := s.Scrape(t.Context(), models.Source{URL: srv.URL})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestSightMap_ErrorBodyIsUpstreamFailure(t *testing.T) {
	for name, body := range map[string]string{
		"error object": `{"error":{"code":401,"message":"embed disabled"}}`,
		"null data":    `{"data":null}`,
		"no units":     `{"data":{"floor_plans":[]}}`,
	} {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/floorplans":
				w.Write(loadFixture(t, "sightmap_site.html"))
			case "/embed/x3k9p2lwq1":
				page := strings.ReplaceAll(string(loadFixture(t, "sightmap_embed.html")), "{{API}}", srv.URL)
				w.Write([]byte(page))
			case "/app/api/v1/x3k9p2lwq1/sightmaps/4411":
				w.Write([]byte(body))
			default:
				http.NotFound(w, r)
			}
		}))

		units, err := NewSightMap(srv.Client(), srv.URL).Scrape(t.Context(), models.Source{URL: srv.URL + "/"})
		srv.Close()
		if !errors.Is(err, ErrUpstream) {
			t.Fatalf("%s: err = %v (units=%v), want ErrUpstream", name, err, units)
		}
		if units != nil {
			t.Fatalf("%s: failure must not carry units", name)
		}
	}
}

func TestSightMapEmbedID(t *testing.T) {
	tests := map[string]string{
		`<script src="https://sightmap.com/embed/api.js"></script><iframe src="https://sightmap.com/embed/abc123">`: "abc123",
		`<iframe src="//SIGHTMAP.COM/embed/XyZ9"></iframe>`:                                                         "XyZ9",
		`<script src="https://sightmap.com/embed/api"></script>`:                                                    "",
		`no widget here`: "",
	}
	for html, want := range tests {
		if got := sightMapEmbedID(html); got != want {
			t.Fatalf("sightMapEmbedID(%q) = %q, want %q", html, got, want)
		}
	}
}

func serveHTML(t *testing.T, fixture string) *httptest.Server {
	t.Helper()
	body := loadFixture(t, fixture)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFunnel_Scrape(t *testing.T) {
	srv := serveHTML(t, "funnel_listing.html")

	units, err := NewFunnel(srv.Client()).Scrape(t.Context(), models.Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 complete rows, got %d", len(units))
	}
	if units[0].UnitLabel != "#502" || units[0].BedType != "1 Bed" || units[0].Rent != "$2,100/mo" {
		t.Fatalf("unexpected first unit %+v", units[0])
	}
	if units[0].AvailabilityDate != "Available 03/20/2026" {
		t.Fatalf("unexpected date %q", units[0].AvailabilityDate)
	}
	if units[1].AvailabilityDate != "Available Now" {
		t.Fatalf("missing date should default to now, got %q", units[1].AvailabilityDate)
	}
}

func TestFunnel_EmptyPageIsNotAnError(t *testing.T) {
	srv := serveHTML(t, "funnel_empty.html")

	units, err := NewFunnel(srv.Client()).Scrape(t.Context(), models.Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("empty page should succeed, got %v", err)
	}
	if units == nil || len(units) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", units)
	}
}

func TestCardFamily_UnknownLayoutIsFailure(t *testing.T) {
	srv := serveHTML(t, "redesigned.html")

	for _, s := range []*CardFamily{NewFunnel(srv.Client()), NewAppFolio(srv.Client()), NewBozzuto(srv.Client())} {
		_, err := s.Scrape(t.Context(), models.Source{URL: srv.URL})
		if !errors.Is(err, ErrNoMatch) {
			t.Fatalf("%s: err = %v, want ErrNoMatch", s.ID(), err)
		}
	}
}

func TestFunnel_CardsWithoutFieldsAreNoMatch(t *testing.T) {
	srv := serveHTML(t, "funnel_partial_redesign.html")

	units, err := NewFunnel(srv.Client()).Scrape(t.Context(), models.Source{URL: srv.URL})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v (units=%d), want ErrNoMatch", err, len(units))
	}
}

func TestBozzuto_SkipsSetWithEmptyCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>` +
			`<div class="available-apartment"><span class="title">Featured</span></div>` +
			`<div class="fp-apartment"><span class="unit-number">Apt 905</span>` +
			`<span class="bedroom">1 Bedroom</span><span class="price">$2,640</span></div>` +
			`</body></html>`))
	}))
	defer srv.Close()

	units, err := NewBozzuto(srv.Client()).Scrape(t.Context(), models.Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 1 || units[0].UnitLabel != "Apt 905" || units[0].Rent != "$2,640" {
		t.Fatalf("unexpected units %+v", units)
	}
}

func TestBozzuto_LaterSelectorSet(t *testing.T) {
	srv := serveHTML(t, "bozzuto_fp.html")

	units, err := NewBozzuto(srv.Client()).Scrape(t.Context(), models.Source{URL: srv.URL})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if units[0].UnitLabel != "Apt 1402" || units[0].BedType != "2 Bedroom" || units[0].Rent != "Starting at $3,450" {
		t.Fatalf("unexpected first unit %+v", units[0])
	}
	if units[1].Rent != "$2,380 - $2,520" || units[1].AvailabilityDate != "Available Now" {
		t.Fatalf("unexpected second unit %+v", units[1])
	}
}

func TestBozzuto_BlockedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewBozzuto(srv.Client()).Scrape(t.Context(), models.Source{URL: srv.URL})
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("err = %v, want ErrBlocked", err)
	}
}

func TestRealPage_UsesRenderer(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		"https://example-realpage.com": `<div class="available-unit"><span data-unit="B7" class="unit-number">Unit B7</span>` +
			`<span class="beds">Studio</span><span class="price">$1,600</span></div>`,
	})

	units, err := NewRealPage(r).Scrape(t.Context(), models.Source{URL: "https://example-realpage.com"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 1 || units[0].UnitLabel != "B7" || units[0].BedType != "Studio" {
		t.Fatalf("unexpected units %+v", units)
	}
}

func TestGroupFox_Scrape(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		"https://example-groupfox.com/floorplans":           string(loadFixture(t, "groupfox_index.html")),
		"https://example-groupfox.com/floorplans/the-astor": string(loadFixture(t, "groupfox_astor.html")),
		"https://example-groupfox.com/floorplans/the-clark": string(loadFixture(t, "groupfox_clark.html")),
	})

	units, err := NewGroupFox(r).Scrape(t.Context(), models.Source{URL: "https://example-groupfox.com/"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d: %+v", len(units), units)
	}
	if units[0].UnitLabel != "4414307" || units[0].Rent != "$2,195" || units[0].AvailabilityDate != "3/28/2026" {
		t.Fatalf("unexpected first unit %+v", units[0])
	}
	if units[0].BedType != "1 Bed" || units[0].Baths != "1 Bath" || units[0].FloorPlanName != "The Astor" {
		t.Fatalf("plan fields not carried: %+v", units[0])
	}
	if units[2].BedType != "Studio" || units[2].UnitLabel != "210" {
		t.Fatalf("unexpected studio unit %+v", units[2])
	}
	for url := range r.calls {
		if strings.Contains(url, "contact") || strings.Contains(url, "belden") {
			t.Fatalf("contact-only plan was followed: %s", url)
		}
	}
}

func TestGroupFox_PartialPlanFailureKeepsUnits(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		"https://example-groupfox.com/floorplans":           string(loadFixture(t, "groupfox_index.html")),
		"https://example-groupfox.com/floorplans/the-astor": string(loadFixture(t, "groupfox_astor.html")),
	})

	units, err := NewGroupFox(r).Scrape(t.Context(), models.Source{URL: "https://example-groupfox.com/"})
	if err != nil {
		t.Fatalf("one rendered plan should succeed, got %v", err)
	}
	if len(units) != 2 || units[0].FloorPlanName != "The Astor" {
		t.Fatalf("expected the Astor units only, got %+v", units)
	}
}

func TestGroupFox_AllPlansFailedIsFailure(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		"https://example-groupfox.com/floorplans": string(loadFixture(t, "groupfox_index.html")),
	})

	units, err := NewGroupFox(r).Scrape(t.Context(), models.Source{URL: "https://example-groupfox.com/"})
	if err == nil {
		t.Fatalf("expected an error when no plan page renders, got %d units", len(units))
	}
	if units != nil {
		t.Fatalf("failure must not carry units, got %+v", units)
	}
	if !strings.Contains(err.Error(), "plan pages failed") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSecureCafe_Scrape(t *testing.T) {
	portal := "https://8easthuron.securecafe.com/onlineleasing/8-east-huron"
	r := newFakeRenderer(map[string]string{
		"https://www.8easthuron.com":       string(loadFixture(t, "securecafe_marketing.html")),
		portal + "/availableunits.aspx": string(loadFixture(t, "securecafe_units.html")),
	})

	units, err := NewSecureCafe(r).Scrape(t.Context(), models.Source{URL: "https://www.8easthuron.com"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d: %+v", len(units), units)
	}

	first := units[0]
	if first.UnitLabel != "1203" || first.BedType != "1BR" || first.Baths != "1" || first.FloorPlanName != "1 Bed / 1 Bath" {
		t.Fatalf("unexpected first unit %+v", first)
	}
	if first.Rent != "$2,310" || first.SqFt != "745" || first.AvailabilityDate != "3/30/2026" {
		t.Fatalf("unexpected row fields %+v", first)
	}
	if units[1].AvailabilityDate != "Available Now" {
		t.Fatalf("expected available now, got %q", units[1].AvailabilityDate)
	}
	if units[2].BedType != "Studio" || units[2].UnitLabel != "704" {
		t.Fatalf("unexpected studio unit %+v", units[2])
	}
}

func TestSecureCafe_NoPortal(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		"https://www.nowhere.com": "<html><body>Call us</body></html>",
	})
	_, err := NewSecureCafe(r).Scrape(t.Context(), models.Source{URL: "https://www.nowhere.com"})
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

type fakeExtractor struct {
	byURL map[string][]models.RawUnit
	seen  []string
}

func (e *fakeExtractor) Extract(_ context.Context, pageURL, content string) ([]models.RawUnit, error) {
	e.seen = append(e.seen, pageURL)
	if strings.Contains(content, "<script") {
		return nil, fmt.Errorf("uncleaned content sent")
	}
	return e.byURL[pageURL], nil
}

func TestLLM_TriesSubpagesWhenPrimaryEmpty(t *testing.T) {
	r := newFakeRenderer(map[string]string{
		"https://www.tower.com":              "<html><body><script>x()</script><h1>Welcome home</h1></body></html>",
		"https://www.tower.com/floorplans":   "<html><body><p>Floor plans coming soon</p></body></html>",
		"https://www.tower.com/floor-plans":  "<html><body><p>Unit 5A - 1BR - $2,000</p></body></html>",
		"https://www.tower.com/availability": "<html><body><p>Unit 6A - 2BR - $3,000</p></body></html>",
	})
	e := &fakeExtractor{byURL: map[string][]models.RawUnit{
		"https://www.tower.com/floor-plans": {{UnitLabel: "5A", BedType: "1BR", Rent: "$2,000"}},
	}}

	units, err := NewLLM(r, e, 0).Scrape(t.Context(), models.Source{URL: "https://www.tower.com"})
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	if len(units) != 1 || units[0].UnitLabel != "5A" {
		t.Fatalf("unexpected units %+v", units)
	}
	if len(e.seen) != 3 {
		t.Fatalf("expected probing to stop at the first page with units, saw %v", e.seen)
	}
}

func TestLLM_NoExtractorIsConfigError(t *testing.T) {
	_, err := NewLLM(newFakeRenderer(nil), nil, 0).Scrape(t.Context(), models.Source{URL: "https://x.com"})
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("err = %v, want ErrConfig", err)
	}
}
