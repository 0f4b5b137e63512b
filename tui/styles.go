package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#7C3AED")
	colorGreen  = lipgloss.Color("#22C55E")
	colorRed    = lipgloss.Color("#EF4444")
	colorYellow = lipgloss.Color("#EAB308")
	colorMuted  = lipgloss.Color("#6B7280")

	styleTitle       = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleTabActive   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(colorAccent).Padding(0, 2)
	styleTabInactive = lipgloss.NewStyle().Foreground(colorMuted).Padding(0, 2)
	styleStatusBar   = lipgloss.NewStyle().Foreground(colorMuted)
	styleNotify      = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	styleNotifyError = lipgloss.NewStyle().Bold(true).Foreground(colorRed)

	styleCard      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorAccent).Padding(0, 1).MarginRight(1)
	styleStatValue = lipgloss.NewStyle().Bold(true)
	styleStatLabel = lipgloss.NewStyle().Foreground(colorMuted)

	styleHeader   = lipgloss.NewStyle().Bold(true).Underline(true)
	styleSelected = lipgloss.NewStyle().Background(lipgloss.Color("#1F2937"))
	styleOK       = lipgloss.NewStyle().Foreground(colorGreen)
	styleFail     = lipgloss.NewStyle().Foreground(colorRed)
	styleWarn     = lipgloss.NewStyle().Foreground(colorYellow)
	styleMuted    = lipgloss.NewStyle().Foreground(colorMuted)

	styleLogBox = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(colorMuted).Padding(0, 1)
)
