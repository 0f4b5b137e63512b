package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/normalizer"
)

type unitsMsg struct {
	units []models.UnitView
	err   error
}

type unitsView struct {
	store         Store
	width, height int
	units         []models.UnitView
	err           error
	bedFilter     int // 0 = all, else index+1 into CanonicalBedTypes
	scroll        int
}

func newUnitsView(store Store) unitsView {
	return unitsView{store: store}
}

func (v unitsView) bedType() string {
	types := normalizer.CanonicalBedTypes()
	if v.bedFilter <= 0 || v.bedFilter > len(types) {
		return ""
	}
	return types[v.bedFilter-1]
}

func (v unitsView) filter() models.UnitFilter {
	var f models.UnitFilter
	if bed := v.bedType(); bed != "" {
		f.BedTypes = []string{bed}
	}
	return f
}

func (v unitsView) refresh() tea.Cmd {
	store, f := v.store, v.filter()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		units, err := store.QueryUnits(ctx, f)
		return unitsMsg{units: units, err: err}
	}
}

func (v unitsView) update(msg tea.Msg) (unitsView, tea.Cmd) {
	switch msg := msg.(type) {
	case unitsMsg:
		v.err = msg.err
		if msg.err == nil {
			v.units = msg.units
		}
		if v.scroll >= len(v.units) {
			v.scroll = 0
		}
	case tea.KeyMsg:
		switch msg.String() {
		case "b":
			v.bedFilter = (v.bedFilter + 1) % (len(normalizer.CanonicalBedTypes()) + 1)
			v.scroll = 0
			return v, v.refresh()
		case "up", "k":
			v.scroll = max(v.scroll-1, 0)
		case "down", "j":
			v.scroll = min(v.scroll+1, max(len(v.units)-1, 0))
		case "pgup":
			v.scroll = max(v.scroll-10, 0)
		case "pgdown":
			v.scroll = min(v.scroll+10, max(len(v.units)-1, 0))
		}
	}
	return v, nil
}

func (v unitsView) view() string {
	bed := v.bedType()
	if bed == "" {
		bed = "all"
	}
	title := styleTitle.Render("Available Units") + styleMuted.Render(fmt.Sprintf("  bed: %s (b to cycle)  %d units", bed, len(v.units)))
	if v.err != nil {
		return title + "\n" + styleFail.Render("Error: "+v.err.Error())
	}
	if len(v.units) == 0 {
		return title + "\n" + styleMuted.Render("No units")
	}

	rows := v.height - 4
	if rows < 5 {
		rows = 5
	}
	end := min(v.scroll+rows, len(v.units))

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-28s %-8s %-9s %10s %-11s %-16s %-14s", "Building", "Unit", "Bed", "Rent", "Available", "Neighborhood", "Scraped")))
	b.WriteString("\n")
	for _, u := range v.units[v.scroll:end] {
		scraped := "-"
		if u.LastRunAt != nil {
			scraped = humanize.Time(*u.LastRunAt)
		}
		b.WriteString(fmt.Sprintf("%-28s %-8s %-9s %10s %-11s %-16s %-14s\n",
			truncate(u.SourceName, 28),
			truncate(u.UnitLabel, 8),
			truncate(u.BedType, 9),
			formatRent(u.RentCents),
			u.AvailabilityDate,
			truncate(u.Neighborhood, 16),
			truncate(scraped, 14),
		))
	}
	return b.String()
}

func formatRent(cents int64) string {
	s := "$" + humanize.Comma(cents/100)
	if c := cents % 100; c != 0 {
		s += fmt.Sprintf(".%02d", c)
	}
	return s
}
