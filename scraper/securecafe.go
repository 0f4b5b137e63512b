package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
	"golang.org/x/net/html"
)

const secureCafeSectionMarker = "Apartment Details and Selection for Floor Plan:"

var (
	secureCafeURLRegex  = regexp.MustCompile(`(?i)https?://[a-z0-9.-]+\.securecafe\.com/onlineleasing/[^/"'\s?#]+`)
	secureCafePlanRegex = regexp.MustCompile(`Floor Plan:\s*(.+?)(?:\s+-\s+|\s*$)`)
	secureCafeBedRegex  = regexp.MustCompile(`(\d+)\s*Bed`)
	secureCafeBathRegex = regexp.MustCompile(`([\d.]+)\s*Bath`)
	secureCafeAptRegex  = regexp.MustCompile(`#(\w+)`)
	secureCafeSqftRegex = regexp.MustCompile(`^\d{3,5}$`)
	secureCafeDateRegex = regexp.MustCompile(`\d+/\d+/\d+`)
)

// SecureCafe finds the building's SecureCafe leasing portal from its
// marketing site and parses the portal's available units page.
type SecureCafe struct {
	renderer render.Renderer
}

func NewSecureCafe(renderer render.Renderer) *SecureCafe {
	return &SecureCafe{renderer: renderer}
}

func (s *SecureCafe) ID() string { return StrategySecureCafe }

func (s *SecureCafe) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	portal := secureCafePortal(src.URL)
	if portal == "" {
		marketing, err := s.renderer.Render(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("securecafe render %s: %w", src.URL, err)
		}
		portal = secureCafePortal(marketing)
	}
	if portal == "" {
		return nil, fmt.Errorf("securecafe: no portal link on %s: %w", src.URL, ErrNoMatch)
	}

	availURL := portal + "/availableunits.aspx"
	page, err := s.renderer.Render(ctx, availURL)
	if err != nil {
		return nil, fmt.Errorf("securecafe render %s: %w", availURL, err)
	}
	return parseSecureCafe(page)
}

// secureCafePortal returns the portal base, e.g.
// https://x.securecafe.com/onlineleasing/8-east-huron.
func secureCafePortal(text string) string {
	return secureCafeURLRegex.FindString(text)
}

func parseSecureCafe(page string) ([]models.RawUnit, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}
	container := doc.Find("div.availableunits").First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("securecafe available units: %w", ErrNoMatch)
	}

	units := []models.RawUnit{}
	seenRows := make(map[*html.Node]bool)

	container.Find("*").Each(func(_ int, el *goquery.Selection) {
		header := ownText(el)
		if !strings.Contains(header, secureCafeSectionMarker) {
			return
		}

		var plan, beds, baths string
		if m := secureCafePlanRegex.FindStringSubmatch(header); m != nil {
			plan = strings.TrimSpace(m[1])
		}
		switch {
		case strings.Contains(strings.ToLower(header), "studio"):
			beds = "Studio"
		default:
			if m := secureCafeBedRegex.FindStringSubmatch(header); m != nil {
				beds = m[1] + "BR"
			}
		}
		if m := secureCafeBathRegex.FindStringSubmatch(header); m != nil {
			baths = m[1]
		}

		section := el.Closest("div, section, fieldset")
		if section.Length() == 0 {
			return
		}

		section.Find("*").Each(func(_ int, cell *goquery.Selection) {
			m := secureCafeAptRegex.FindStringSubmatch(ownText(cell))
			if m == nil {
				return
			}
			row := cell.Closest("tr, li, div")
			if row.Length() == 0 || seenRows[row.Get(0)] {
				return
			}
			seenRows[row.Get(0)] = true

			unit := models.RawUnit{
				UnitLabel:        m[1],
				BedType:          beds,
				FloorPlanName:    plan,
				Baths:            baths,
				AvailabilityDate: "Available Now",
			}
			for _, part := range textParts(row.Get(0)) {
				switch {
				case strings.HasPrefix(part, "#"):
				case strings.Contains(part, "$"):
					unit.Rent = part
				case secureCafeSqftRegex.MatchString(part):
					unit.SqFt = part
				case secureCafeDateRegex.MatchString(part):
					unit.AvailabilityDate = part
				}
			}
			units = append(units, unit)
		})
	})
	return units, nil
}

// ownText joins the element's direct text children.
func ownText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// textParts returns every non-empty text node under n in document order.
func textParts(n *html.Node) []string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := cleanText(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return parts
}
