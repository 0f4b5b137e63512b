package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const defaultRentCafeAPI = "https://api.rentcafe.com/rentcafeapi.aspx"

// RentCafe reads the RentCafe availability API. Each source carries its own
// VoyagerPropertyCode and apiToken.
type RentCafe struct {
	client   *http.Client
	endpoint string
}

func NewRentCafe(client *http.Client, endpoint string) *RentCafe {
	if endpoint == "" {
		endpoint = defaultRentCafeAPI
	}
	return &RentCafe{client: client, endpoint: endpoint}
}

func (s *RentCafe) ID() string { return StrategyRentCafe }

type rentCafeUnit struct {
	ApartmentName flexString `json:"ApartmentName"`
	Beds          flexString `json:"Beds"`
	Baths         flexString `json:"Baths"`
	SQFT          flexString `json:"SQFT"`
	MinimumRent   flexString `json:"MinimumRent"`
	MaximumRent   flexString `json:"MaximumRent"`
	AvailableDate flexString `json:"AvailableDate"`
	FloorplanName flexString `json:"FloorplanName"`
	Error         flexString `json:"Error"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(v))
		return nil
	}
	*f = flexString(s)
	return nil
}

func (s *RentCafe) Scrape(ctx context.Context, src models.Source) ([]models.RawUnit, error) {
	if src.RentCafePropertyCode == "" || src.RentCafeAPIToken == "" {
		return nil, configErr("rentcafe credentials missing for source %d", src.ID)
	}

	// Tokens are sometimes stored URL-encoded.
	token, err := url.QueryUnescape(src.RentCafeAPIToken)
	if err != nil {
		token = src.RentCafeAPIToken
	}

	q := url.Values{}
	q.Set("requestType", "apartmentavailability")
	q.Set("VoyagerPropertyCode", src.RentCafePropertyCode)
	q.Set("apiToken", token)
	q.Set("showallunit", "1")

	body, err := get(ctx, s.client, s.endpoint+"?"+q.Encode(), map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, err
	}
	return parseRentCafe(body)
}

func parseRentCafe(body []byte) ([]models.RawUnit, error) {
	var rows []rentCafeUnit
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("%w: rentcafe response: %v", ErrUpstream, err)
	}

	// The API answers 200 with [{"Error":"1020"}] on bad credentials.
	if len(rows) > 0 && rows[0].Error != "" {
		return nil, fmt.Errorf("%w: rentcafe api error %s", ErrUpstream, rows[0].Error)
	}

	units := make([]models.RawUnit, 0, len(rows))
	for _, r := range rows {
		if r.AvailableDate == "" {
			continue
		}
		rent := string(r.MinimumRent)
		if rent == "" || rent == "0" {
			rent = string(r.MaximumRent)
		}
		units = append(units, models.RawUnit{
			UnitLabel:        string(r.ApartmentName),
			BedType:          rentCafeBeds(string(r.Beds)),
			Rent:             rent,
			AvailabilityDate: string(r.AvailableDate),
			FloorPlanName:    string(r.FloorplanName),
			Baths:            string(r.Baths),
			SqFt:             string(r.SQFT),
		})
	}
	return units, nil
}

// rentCafeBeds maps the numeric bedroom count; 3 and above share a bucket.
func rentCafeBeds(s string) string {
	beds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if beds >= 3 {
		return "3"
	}
	return strconv.Itoa(int(beds))
}
