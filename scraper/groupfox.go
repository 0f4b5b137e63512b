package scraper

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
)

var groupFoxUnitRegex = regexp.MustCompile(`#(\S+)`)

// GroupFox walks a Groupfox site's floor plan index and then each plan's
// page for unit rows. Groupfox answers 403 to plain HTTP clients, so both
// steps are rendered.
type GroupFox struct {
	renderer render.Renderer
}

func NewGroupFox(renderer render.Renderer) *GroupFox {
	return &GroupFox{renderer: renderer}
}

func (s *GroupFox) ID() string { return StrategyGroupFox }

type groupFoxPlan struct {
	name  string
	beds  string
	baths string
	href  string
}

func (s *GroupFox) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	base, err := url.Parse(strings.TrimRight(src.URL, "/"))
	if err != nil || base.Host == "" {
		return nil, configErr("bad groupfox url %q", src.URL)
	}
	indexURL := groupFoxIndexURL(base)

	html, err := s.renderer.Render(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("groupfox render %s: %w", indexURL, err)
	}
	plans, err := parseGroupFoxIndex(html)
	if err != nil {
		return nil, err
	}

	units := []models.RawUnit{}
	rendered := 0
	var lastErr error
	for _, p := range plans {
		ref, err := url.Parse(p.href)
		if err != nil {
			continue
		}
		planURL := base.ResolveReference(ref).String()

		page, err := s.renderer.Render(ctx, planURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("Groupfox: skipping plan %s: %v", p.name, err)
			lastErr = fmt.Errorf("groupfox render %s: %w", planURL, err)
			continue
		}
		rendered++
		rows, err := parseGroupFoxUnits(page, p)
		if err != nil {
			return nil, err
		}
		units = append(units, rows...)
	}
	// A page where every plan failed is a failed scrape, not an empty one.
	if rendered == 0 && lastErr != nil {
		return nil, fmt.Errorf("groupfox: all %d plan pages failed: %w", len(plans), lastErr)
	}
	return units, nil
}

func groupFoxIndexURL(u *url.URL) string {
	path := strings.TrimRight(u.Path, "/")
	if strings.HasSuffix(path, "/floorplans") || strings.Contains(path, "/floorplans/") {
		return u.String()
	}
	return u.Scheme + "://" + u.Host + "/floorplans"
}

// parseGroupFoxIndex returns floor plans that link to availability. Plans
// whose button says "Contact Us" have nothing available.
func parseGroupFoxIndex(html string) ([]groupFoxPlan, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}
	cards := doc.Find("div.card.text-center")
	if cards.Length() == 0 {
		return nil, fmt.Errorf("groupfox floor plan index: %w", ErrNoMatch)
	}

	var plans []groupFoxPlan
	cards.Each(func(_ int, card *goquery.Selection) {
		name := cleanText(card.Find("h2.card-title").First().Text())
		if name == "" {
			return
		}

		var beds, baths string
		card.Find("ul.list-inline li.list-inline-item").Each(func(_ int, li *goquery.Selection) {
			text := cleanText(li.Text())
			switch {
			case strings.Contains(text, "Bed") || strings.Contains(text, "Studio"):
				beds = text
			case strings.Contains(text, "Bath"):
				baths = text
			}
		})

		btn := card.Find("a.floorplan-action-button").First()
		if btn.Length() == 0 || strings.Contains(btn.Text(), "Contact") {
			return
		}
		href, _ := btn.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		plans = append(plans, groupFoxPlan{name: name, beds: beds, baths: baths, href: href})
	})
	return plans, nil
}

func parseGroupFoxUnits(html string, plan groupFoxPlan) ([]models.RawUnit, error) {
	doc, err := parseDocument(html)
	if err != nil {
		return nil, err
	}

	var units []models.RawUnit
	doc.Find("tr.unit-container").Each(func(_ int, row *goquery.Selection) {
		label := cleanText(row.Find("td.td-card-name").First().Text())
		if m := groupFoxUnitRegex.FindStringSubmatch(label); m != nil {
			label = m[1]
		} else {
			label = strings.TrimSpace(strings.TrimPrefix(label, "Apartment:"))
		}

		rent := cleanText(row.Find("td.td-card-rent").First().Text())
		rent = strings.TrimSpace(strings.TrimPrefix(rent, "Rent:"))

		avail := cleanText(row.Find("td.td-card-available").First().Text())
		avail = strings.TrimSpace(strings.TrimPrefix(avail, "Date:"))
		if avail == "" {
			avail = "Available Now"
		}

		units = append(units, models.RawUnit{
			UnitLabel:        label,
			BedType:          plan.beds,
			Rent:             rent,
			AvailabilityDate: avail,
			FloorPlanName:    plan.name,
			Baths:            plan.baths,
		})
	})
	return units, nil
}
