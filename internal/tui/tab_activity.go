package tui

import (
	"strings"

	"vpnpanel/internal/logging"
	"vpnpanel/internal/storage/models"
)

type activityModel struct {
	history []*models.UpdateRecord
	width   int
	height  int
}

func newActivityModel() activityModel {
	return activityModel{}
}

func (am *activityModel) setSize(w, h int) {
	am.width = w
	am.height = h
}

func (am *activityModel) setHistory(records []*models.UpdateRecord) {
	am.history = records
}

// View shows the update journal above the most recent log lines.
func (am *activityModel) View(logs *logging.Buffer) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Recent updates"))
	b.WriteString("\n")
	if len(am.history) == 0 {
		b.WriteString(dimStyle.Render("  no settled updates yet") + "\n")
	}
	historyRows := max(am.height/2-2, 1)
	for i, r := range am.history {
		if i >= historyRows {
			break
		}
		b.WriteString("  " + am.renderRecord(r) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Log"))
	b.WriteString("\n")
	if logs == nil {
		b.WriteString(dimStyle.Render("  logging to stderr") + "\n")
	} else {
		for _, line := range logs.Lines(max(am.height/2-2, 1)) {
			b.WriteString(dimStyle.Render("  "+truncate(line, max(am.width-4, 10))) + "\n")
		}
	}

	return forceHeight(b.String(), am.width, am.height)
}

func (am *activityModel) renderRecord(r *models.UpdateRecord) string {
	phase := successStyle.Render(padRight(r.Phase, 12))
	if r.Phase != "committed" {
		phase = errorStyle.Render(padRight(r.Phase, 12))
	}
	line := r.SettledAt.Local().Format("15:04:05") + "  " + phase + strings.Join(r.Fields, ", ")
	if r.ErrorKind != "" {
		line += dimStyle.Render("  (" + r.ErrorKind + ")")
	}
	return line
}

// padRight pads s to width with spaces.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
