package tui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const (
	recentRuns  = 10
	logBuffer   = 200
	logViewport = 12
)

type dashboardMsg struct {
	sources []models.Source
	runs    []models.ScrapeRun
	units   int
	err     error
}

type logTailMsg struct {
	lines   []string
	modTime time.Time
}

type dashboard struct {
	store         Store
	logPath       string
	width, height int

	sources  []models.Source
	names    map[int64]string
	runs     []models.ScrapeRun
	units    int
	err      error
	selected int

	logLines   []string
	logModTime time.Time
	logScroll  int // 0 = newest
}

func newDashboard(store Store, logPath string) dashboard {
	return dashboard{store: store, logPath: logPath}
}

func (d dashboard) refresh() tea.Cmd {
	store := d.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sources, err := store.ListSources(ctx)
		if err != nil {
			return dashboardMsg{err: err}
		}
		runs, err := store.ListRuns(ctx, 0, recentRuns)
		if err != nil {
			return dashboardMsg{err: err}
		}
		units, err := store.QueryUnits(ctx, models.UnitFilter{IncludeNonCanonical: true})
		if err != nil {
			return dashboardMsg{err: err}
		}
		return dashboardMsg{sources: sources, runs: runs, units: len(units)}
	}
}

func (d dashboard) tail() tea.Cmd {
	path := d.logPath
	return func() tea.Msg {
		lines, modTime := readLastLines(path, logBuffer)
		return logTailMsg{lines: lines, modTime: modTime}
	}
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	if len(lines) == 0 {
		return []string{"(empty log)"}, info.ModTime()
	}
	return lines, info.ModTime()
}

func (d dashboard) selectedSource() (models.Source, bool) {
	if d.selected < 0 || d.selected >= len(d.sources) {
		return models.Source{}, false
	}
	return d.sources[d.selected], true
}

func (d dashboard) update(msg tea.Msg) dashboard {
	switch msg := msg.(type) {
	case dashboardMsg:
		d.err = msg.err
		if msg.err != nil {
			return d
		}
		d.sources = msg.sources
		d.runs = msg.runs
		d.units = msg.units
		d.names = make(map[int64]string, len(msg.sources))
		for _, s := range msg.sources {
			d.names[s.ID] = s.Name
		}
		if d.selected >= len(d.sources) {
			d.selected = 0
		}
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			if d.selected > 0 {
				d.selected--
			}
		case "down", "j":
			if d.selected < len(d.sources)-1 {
				d.selected++
			}
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d
}

func (d dashboard) view() string {
	if d.err != nil {
		return styleFail.Render("Error: " + d.err.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		d.renderStatCards(),
		"",
		styleTitle.Render("Sources"),
		d.renderSources(),
		"",
		styleTitle.Render("Recent Runs"),
		d.renderRuns(),
		"",
		d.renderLogTail(),
	)
}

func (d dashboard) renderStatCards() string {
	var active, failing, attention int
	for _, s := range d.sources {
		if !s.Active {
			continue
		}
		active++
		if s.LastRunStatus == models.RunStatusFailed {
			failing++
		}
		if s.NeedsAttention {
			attention++
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		statCard("Sources", humanize.Comma(int64(len(d.sources)))),
		statCard("Active", humanize.Comma(int64(active))),
		statCard("Units", humanize.Comma(int64(d.units))),
		statCard("Failing", humanize.Comma(int64(failing))),
		statCard("Attention", humanize.Comma(int64(attention))),
	)
}

func statCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styleStatValue.Render(value),
		styleStatLabel.Render(label),
	)
	return styleCard.Width(14).Render(content)
}

func (d dashboard) sourceRows() int {
	rows := d.height/3 - 2
	if rows < 5 {
		rows = 5
	}
	return rows
}

func (d dashboard) renderSources() string {
	if len(d.sources) == 0 {
		return styleMuted.Render("No sources synced yet")
	}

	rows := d.sourceRows()
	offset := max(d.selected-rows+1, 0)
	end := min(offset+rows, len(d.sources))

	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-5s %-30s %-12s %-10s %-16s %5s", "ID", "Name", "Strategy", "Status", "Last run", "Zero")))
	b.WriteString("\n")
	for i := offset; i < end; i++ {
		s := d.sources[i]
		lastRun := "never"
		if s.LastRunAt != nil {
			lastRun = humanize.Time(*s.LastRunAt)
		}
		strategy := s.StrategyID
		if strategy == "" {
			strategy = "-"
		}
		line := fmt.Sprintf("%-5d %-30s %-12s %s %-16s %5d",
			s.ID,
			truncate(s.Name, 30),
			truncate(strategy, 12),
			statusStyle(s).Render(fmt.Sprintf("%-10s", statusLabel(s))),
			truncate(lastRun, 16),
			s.ConsecutiveZeroCount,
		)
		if i == d.selected {
			line = styleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func statusLabel(s models.Source) string {
	switch {
	case !s.Active:
		return "inactive"
	case s.NeedsAttention:
		return "attention"
	default:
		return string(s.LastRunStatus)
	}
}

func statusStyle(s models.Source) lipgloss.Style {
	switch {
	case !s.Active:
		return styleMuted
	case s.NeedsAttention:
		return styleWarn
	case s.LastRunStatus == models.RunStatusFailed:
		return styleFail
	case s.LastRunStatus == models.RunStatusSuccess:
		return styleOK
	default:
		return styleMuted
	}
}

func (d dashboard) renderRuns() string {
	if len(d.runs) == 0 {
		return styleMuted.Render("No runs yet")
	}

	var b strings.Builder
	b.WriteString(styleHeader.Render(fmt.Sprintf("%-24s %-12s %-8s %-10s %6s %8s", "Source", "Strategy", "Status", "At", "Units", "Took")))
	b.WriteString("\n")
	for _, r := range d.runs {
		name := d.names[r.SourceID]
		if name == "" {
			name = fmt.Sprintf("#%d", r.SourceID)
		}
		st := styleOK
		if r.Status == models.RunStatusFailed {
			st = styleFail
		} else if r.UnitCount == 0 {
			st = styleWarn
		}
		b.WriteString(fmt.Sprintf("%-24s %-12s %s %-10s %6d %8s\n",
			truncate(name, 24),
			truncate(r.StrategyID, 12),
			st.Render(fmt.Sprintf("%-8s", r.Status)),
			r.RunAt.Local().Format("Jan 02 15:04"),
			r.UnitCount,
			r.Duration.Round(100*time.Millisecond),
		))
	}
	return b.String()
}

func (d dashboard) renderLogTail() string {
	width := d.width - 4
	if width < 20 {
		width = 20
	}
	if len(d.logLines) == 0 {
		return styleLogBox.Width(width).Render(styleMuted.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	end := total - d.logScroll
	start := max(end-logViewport, 0)

	var lines []string
	for _, line := range d.logLines[start:end] {
		lines = append(lines, styleLogLine(truncate(line, width-4)))
	}

	live := styleOK.Render(" ● LIVE ")
	if d.logScroll > 0 {
		live = styleWarn.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	} else if !d.logModTime.IsZero() && time.Since(d.logModTime) > 10*time.Minute {
		live = styleMuted.Render(" ○ idle " + humanize.Time(d.logModTime) + " ")
	}
	header := styleTitle.Render("Log") + live + styleMuted.Render(fmt.Sprintf("[%d-%d/%d]", start+1, end, total))
	return styleLogBox.Width(width).Render(header + "\n" + strings.Join(lines, "\n"))
}

// styleLogLine colours a daemon log line by the markers the orchestrator
// prefixes per-source lines with.
func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, "FAIL") || strings.Contains(line, "ERROR"):
		return styleFail.Render(line)
	case strings.Contains(line, "ZERO") || strings.Contains(line, "ATTENTION") || strings.Contains(line, "WARN"):
		return styleWarn.Render(line)
	case strings.Contains(line, " OK "):
		return styleOK.Render(line)
	}
	return line
}
