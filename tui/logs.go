package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/roxie-moxie/moxie-buildings-sub000/models"
)

const logsLimit = 500

type logsMsg struct {
	logs []models.ScrapeLog
	err  error
}

type logsView struct {
	ops           Ops
	width, height int
	logs          []models.ScrapeLog
	err           error
	scroll        int
	errorsOnly    bool
}

func newLogsView(ops Ops) logsView {
	return logsView{ops: ops}
}

func (v logsView) refresh() tea.Cmd {
	ops := v.ops
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logs, err := ops.RecentLogs(ctx, logsLimit)
		return logsMsg{logs: logs, err: err}
	}
}

func (v logsView) visible() []models.ScrapeLog {
	if !v.errorsOnly {
		return v.logs
	}
	var out []models.ScrapeLog
	for _, l := range v.logs {
		if l.Level != models.LogLevelInfo {
			out = append(out, l)
		}
	}
	return out
}

func (v logsView) update(msg tea.Msg) logsView {
	switch msg := msg.(type) {
	case logsMsg:
		v.err = msg.err
		if msg.err == nil {
			v.logs = msg.logs
		}
	case tea.KeyMsg:
		n := len(v.visible())
		switch msg.String() {
		case "e":
			v.errorsOnly = !v.errorsOnly
			v.scroll = 0
		case "up", "k":
			v.scroll = max(v.scroll-1, 0)
		case "down", "j":
			v.scroll = min(v.scroll+1, max(n-1, 0))
		case "pgup":
			v.scroll = max(v.scroll-10, 0)
		case "pgdown":
			v.scroll = min(v.scroll+10, max(n-1, 0))
		}
	}
	return v
}

func (v logsView) view() string {
	mode := "all levels"
	if v.errorsOnly {
		mode = "warnings and errors"
	}
	title := styleTitle.Render("Scrape Log") + styleMuted.Render("  "+mode+" (e to toggle)")
	if v.err != nil {
		return title + "\n" + styleFail.Render("Error: "+v.err.Error())
	}
	logs := v.visible()
	if len(logs) == 0 {
		return title + "\n" + styleMuted.Render("No log lines")
	}

	rows := max(v.height-3, 5)
	start := min(v.scroll, len(logs)-1)
	end := min(start+rows, len(logs))
	width := max(v.width-30, 20)

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for _, l := range logs[start:end] {
		level := styleOK
		switch l.Level {
		case models.LogLevelError:
			level = styleFail
		case models.LogLevelWarn:
			level = styleWarn
		}
		source := "     "
		if l.SourceID != nil {
			source = fmt.Sprintf("#%-4d", *l.SourceID)
		}
		b.WriteString(fmt.Sprintf("%s %s %s %s\n",
			styleMuted.Render(l.Timestamp.Local().Format("01-02 15:04:05")),
			level.Render(fmt.Sprintf("%-5s", l.Level)),
			source,
			truncate(l.Message, width),
		))
	}
	return b.String()
}
