package sources

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

// CSV reads a sheet export with a header row. Columns are matched by name,
// case-insensitively; blank and unknown headers are ignored.
type CSV struct {
	open opener
}

func NewCSVFile(path string) *CSV {
	return &CSV{open: local(path)}
}

var csvColumns = map[string]func(r *models.SourceRecord, v string){
	"name":                 func(r *models.SourceRecord, v string) { r.Name = v },
	"url":                  func(r *models.SourceRecord, v string) { r.URL = v },
	"neighborhood":         func(r *models.SourceRecord, v string) { r.Neighborhood = v },
	"management_company":   func(r *models.SourceRecord, v string) { r.ManagementCompany = v },
	"platform":             func(r *models.SourceRecord, v string) { r.StrategyID = v },
	"rentcafe_property_id": func(r *models.SourceRecord, v string) { r.RentCafePropertyCode = v },
	"rentcafe_api_token":   func(r *models.SourceRecord, v string) { r.RentCafeAPIToken = v },
}

func (c *CSV) Load(ctx context.Context) ([]models.SourceRecord, error) {
	rc, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return parseCSV(rc)
}

func parseCSV(in io.Reader) ([]models.SourceRecord, error) {
	br := bufio.NewReader(in)
	// skip BOM if present
	if first3, _ := br.Peek(3); len(first3) == 3 && first3[0] == 0xEF && first3[1] == 0xBB && first3[2] == 0xBF {
		br.Discard(3)
	}

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	setters := make([]func(*models.SourceRecord, string), len(header))
	var hasURL bool
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		setters[i] = csvColumns[key]
		if key == "url" {
			hasURL = true
		}
	}
	if !hasURL {
		return nil, errors.New("source list has no url column")
	}

	var records []models.SourceRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		var rec models.SourceRecord
		for i, v := range row {
			if i < len(setters) && setters[i] != nil {
				setters[i](&rec, strings.TrimSpace(v))
			}
		}
		if rec.Name == "" && rec.URL == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
