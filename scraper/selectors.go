package scraper

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

// selectorSet describes one known layout of a page family. Sets are tried
// in order and the first that yields at least one unit is used.
type selectorSet struct {
	Name  string
	Card  string
	Bed   string
	Rent  string
	Avail string
	Label string
	// LabelAttr is read from the Label element before falling back to text.
	LabelAttr string
}

// emptyMarkers are page elements that mean "no availability" rather than
// "unknown layout".
const emptyMarkers = "[class*='no-availability'], [class*='no-units'], [class*='no-results'], [class*='noavailability']"

// extractCards applies sets to doc. It returns ErrNoMatch when no set yields
// a unit and the page does not say it is empty. Cards that match but carry
// no bed or rent (a partial redesign) do not count as a match.
func extractCards(doc *goquery.Document, sets []selectorSet) ([]models.RawUnit, string, error) {
	for _, set := range sets {
		cards := doc.Find(set.Card)
		if cards.Length() == 0 {
			continue
		}

		var units []models.RawUnit
		cards.Each(func(i int, card *goquery.Selection) {
			bed := cleanText(card.Find(set.Bed).First().Text())
			rent := cleanText(card.Find(set.Rent).First().Text())
			if bed == "" || rent == "" {
				return
			}

			label := ""
			if el := card.Find(set.Label).First(); el.Length() > 0 {
				if set.LabelAttr != "" {
					label, _ = el.Attr(set.LabelAttr)
				}
				if label == "" {
					label = cleanText(el.Text())
				}
			}
			if label == "" {
				label = fmt.Sprintf("row-%d", i+1)
			}

			avail := cleanText(card.Find(set.Avail).First().Text())
			if avail == "" {
				avail = "Available Now"
			}

			units = append(units, models.RawUnit{
				UnitLabel:        label,
				BedType:          bed,
				Rent:             rent,
				AvailabilityDate: avail,
			})
		})
		if len(units) == 0 {
			continue
		}
		return units, set.Name, nil
	}

	if doc.Find(emptyMarkers).Length() > 0 {
		return []models.RawUnit{}, "empty", nil
	}
	return nil, "", ErrNoMatch
}
