// Package tui is a terminal dashboard over the domain and operational stores.
// It never scrapes itself: run requests are queued in the commands table for
// the daemon to pick up.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

// Store is the read side of the domain store.
type Store interface {
	ListSources(ctx context.Context) ([]models.Source, error)
	ListRuns(ctx context.Context, sourceID int64, limit int) ([]models.ScrapeRun, error)
	QueryUnits(ctx context.Context, f models.UnitFilter) ([]models.UnitView, error)
}

// Ops is the operational store: command queue and persisted log lines.
type Ops interface {
	EnqueueCommand(ctx context.Context, cmd models.CommandType, params models.CommandParams) (int64, error)
	RecentLogs(ctx context.Context, limit int) ([]models.ScrapeLog, error)
}

type tab int

const (
	tabDashboard tab = iota
	tabUnits
	tabLogs
	tabCount
)

var tabNames = []string{"Dashboard", "Units", "Logs"}

const (
	refreshInterval = 30 * time.Second
	tailInterval    = 2 * time.Second
	notifyFor       = 2 * time.Second
)

type tickMsg time.Time
type tailTickMsg time.Time

type notifyMsg struct {
	text string
	err  error
}

type model struct {
	ops           Ops
	activeTab     tab
	width, height int
	notification  string
	notifyErr     bool
	notifyUntil   time.Time

	dashboard dashboard
	units     unitsView
	logs      logsView
}

func newModel(store Store, ops Ops, logPath string) model {
	return model{
		ops:       ops,
		activeTab: tabDashboard,
		dashboard: newDashboard(store, logPath),
		units:     newUnitsView(store),
		logs:      newLogsView(ops),
	}
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, store Store, ops Ops, logPath string) error {
	p := tea.NewProgram(newModel(store, ops, logPath), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.dashboard.refresh(),
		m.dashboard.tail(),
		m.units.refresh(),
		m.logs.refresh(),
		tickCmd(),
		tailTickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func tailTickCmd() tea.Cmd {
	return tea.Tick(tailInterval, func(t time.Time) tea.Msg { return tailTickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "d":
			m.activeTab = tabDashboard
			return m, nil
		case "u":
			m.activeTab = tabUnits
			return m, nil
		case "l":
			m.activeTab = tabLogs
			return m, nil
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "r":
			m.notify("Refreshed", false)
			return m, m.refreshActive()
		case "s":
			return m, m.enqueue(models.CmdScrapeNow, models.CommandParams{}, "Batch scrape queued")
		case "p":
			return m, m.enqueue(models.CmdPause, models.CommandParams{}, "Pause queued")
		case "c":
			return m, m.enqueue(models.CmdResume, models.CommandParams{}, "Resume queued")
		case "enter":
			if m.activeTab == tabDashboard {
				if src, ok := m.dashboard.selectedSource(); ok {
					text := fmt.Sprintf("Run queued for %s", src.Name)
					return m, m.enqueue(models.CmdScrapeSource, models.CommandParams{SourceID: src.ID}, text)
				}
			}
			return m, nil
		}

		var cmd tea.Cmd
		switch m.activeTab {
		case tabDashboard:
			m.dashboard = m.dashboard.update(msg)
		case tabUnits:
			m.units, cmd = m.units.update(msg)
		case tabLogs:
			m.logs = m.logs.update(msg)
		}
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		body := msg.Height - 4
		m.dashboard.width, m.dashboard.height = msg.Width, body
		m.units.width, m.units.height = msg.Width, body
		m.logs.width, m.logs.height = msg.Width, body
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.refreshActive(), tickCmd())

	case tailTickMsg:
		return m, tea.Batch(m.dashboard.tail(), tailTickCmd())

	case notifyMsg:
		if msg.err != nil {
			m.notify("Error: "+msg.err.Error(), true)
			return m, nil
		}
		m.notify(msg.text, false)
		return m, nil

	case dashboardMsg, logTailMsg:
		m.dashboard = m.dashboard.update(msg)
	case unitsMsg:
		m.units, _ = m.units.update(msg)
	case logsMsg:
		m.logs = m.logs.update(msg)
	}
	return m, nil
}

func (m *model) notify(text string, isErr bool) {
	m.notification = text
	m.notifyErr = isErr
	m.notifyUntil = time.Now().Add(notifyFor)
}

func (m model) enqueue(cmd models.CommandType, params models.CommandParams, text string) tea.Cmd {
	ops := m.ops
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := ops.EnqueueCommand(ctx, cmd, params); err != nil {
			return notifyMsg{err: err}
		}
		return notifyMsg{text: text}
	}
}

func (m model) refreshActive() tea.Cmd {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.refresh()
	case tabUnits:
		return m.units.refresh()
	case tabLogs:
		return m.logs.refresh()
	}
	return nil
}

func (m model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTabs(), m.renderContent(), m.renderStatusBar())
}

func (m model) renderTabs() string {
	var rendered []string
	for i, name := range tabNames {
		if tab(i) == m.activeTab {
			rendered = append(rendered, styleTabActive.Render(name))
		} else {
			rendered = append(rendered, styleTabInactive.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

func (m model) renderContent() string {
	switch m.activeTab {
	case tabDashboard:
		return m.dashboard.view()
	case tabUnits:
		return m.units.view()
	case tabLogs:
		return m.logs.view()
	}
	return ""
}

func (m model) renderStatusBar() string {
	left := "d Dash  u Units  l Logs  r Refresh  s Scrape  enter Run source  p Pause  c Resume  q Quit"
	right := ""
	if time.Now().Before(m.notifyUntil) {
		if m.notifyErr {
			right = styleNotifyError.Render(m.notification)
		} else {
			right = styleNotify.Render(m.notification)
		}
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 0 {
		gap = 0
	}
	return styleStatusBar.Render(left) + lipgloss.NewStyle().Width(gap).Render("") + right
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}
