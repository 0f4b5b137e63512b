package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const extractionInstruction = "Extract all apartment units currently available for rent from this page. " +
	"For each available unit, extract: " +
	"unit_number (the unit identifier, e.g. '101', 'A3', 'Studio-2'), " +
	"bed_type (e.g. 'Studio', '1 Bedroom', '2BR', 'Convertible'), " +
	"rent (monthly price as a string, e.g. '$1,800/mo', '2500'), " +
	"availability_date (move-in date as a string, e.g. 'Available Now', 'March 1, 2026', '2026-04-01'), " +
	"floor_plan_name (name of the floor plan if shown, otherwise null), " +
	"baths (number of bathrooms as a string if shown, otherwise null), " +
	"sqft (square footage as a string if shown, otherwise null). " +
	"Only include units available for immediate rent (not waitlisted, leased, or 'coming soon'). " +
	"Return an empty list if no available units are found."

// extraction is the tool input the model must produce. Item fields are all
// optional and nullable so incomplete items can be dropped one by one
// instead of failing the whole response.
type extraction struct {
	Units []extractedUnit `json:"units" jsonschema:"available units found on the page"`
}

type extractedUnit struct {
	UnitNumber       *string `json:"unit_number,omitempty"`
	BedType          *string `json:"bed_type,omitempty"`
	Rent             *string `json:"rent,omitempty"`
	AvailabilityDate *string `json:"availability_date,omitempty"`
	FloorPlanName    *string `json:"floor_plan_name,omitempty"`
	Baths            *string `json:"baths,omitempty"`
	SqFt             *string `json:"sqft,omitempty"`
}

// outputSchema is the generated schema for extraction, both as sent to the
// model and resolved for validating replies.
type outputSchema struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

func newOutputSchema() (*outputSchema, error) {
	schema, err := jsonschema.For[extraction](nil)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return &outputSchema{raw: raw, resolved: resolved}, nil
}

// decode validates a tool input against the schema and returns the usable
// records. ok is false when the input does not match the schema.
func (s *outputSchema) decode(input json.RawMessage) (units []models.RawUnit, ok bool) {
	var instance any
	if err := json.Unmarshal(input, &instance); err != nil {
		return nil, false
	}
	if err := s.resolved.Validate(instance); err != nil {
		return nil, false
	}

	var out extraction
	if err := json.Unmarshal(input, &out); err != nil {
		return nil, false
	}

	units = []models.RawUnit{}
	for _, u := range out.Units {
		label, bed, rent := deref(u.UnitNumber), deref(u.BedType), deref(u.Rent)
		if label == "" || bed == "" || rent == "" {
			continue
		}
		raw := models.RawUnit{
			UnitLabel:        label,
			BedType:          bed,
			Rent:             rent,
			AvailabilityDate: deref(u.AvailabilityDate),
			FloorPlanName:    deref(u.FloorPlanName),
			Baths:            deref(u.Baths),
		}
		if sq := deref(u.SqFt); sq != "" {
			raw.SqFt = sq
		}
		units = append(units, raw)
	}
	return units, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
