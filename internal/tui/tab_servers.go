package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vpnpanel/internal/storage/models"
)

type serversModel struct {
	table    table.Model
	servers  []models.ServerRef
	selected string
	width    int
	height   int
}

func newServersModel() serversModel {
	t := table.New(
		table.WithColumns(serverColumns(0)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorPurple)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(lipgloss.AdaptiveColor{Light: "#E8E0F0", Dark: "#2A1A3E"}).
		Bold(true)
	t.SetStyles(s)

	return serversModel{table: t}
}

func serverColumns(width int) []table.Column {
	name, location := 22, 22
	if width > 100 {
		name, location = width/4, width/4
	}
	return []table.Column{
		{Title: "", Width: 1},
		{Title: "ID", Width: 10},
		{Title: "Name", Width: name},
		{Title: "Location", Width: location},
		{Title: "Latency", Width: 9},
		{Title: "Load", Width: 6},
		{Title: "Plan", Width: 8},
	}
}

func (sm *serversModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.table.SetColumns(serverColumns(w))
	sm.table.SetHeight(max(h-1, 1))
}

// setServers refreshes the rows, keeping the cursor on the same server when
// it is still listed.
func (sm *serversModel) setServers(servers []models.ServerRef, selected string) {
	var cursorID string
	if cur := sm.current(); cur != nil {
		cursorID = cur.ID
	}

	sm.servers = servers
	sm.selected = selected

	rows := make([]table.Row, len(servers))
	cursor := 0
	for i, s := range servers {
		mark := ""
		if s.ID == selected {
			mark = "*"
		}
		if s.ID == cursorID {
			cursor = i
		}
		plan := "free"
		if s.Premium {
			plan = "premium"
		}
		rows[i] = table.Row{
			mark,
			s.ID,
			truncate(serverLabel(s), 30),
			location(s),
			formatLatency(s.Latency),
			fmt.Sprintf("%d%%", s.Load),
			plan,
		}
	}
	sm.table.SetRows(rows)
	if len(rows) > 0 {
		sm.table.SetCursor(cursor)
	}
}

func (sm *serversModel) current() *models.ServerRef {
	idx := sm.table.Cursor()
	if idx >= 0 && idx < len(sm.servers) {
		return &sm.servers[idx]
	}
	return nil
}

func (sm *serversModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if km, ok := msg.(tea.KeyMsg); ok && key.Matches(km, keys.Select) {
		if s := sm.current(); s != nil && s.ID != sm.selected {
			return selectServer(root, *s)
		}
		return nil
	}

	var cmd tea.Cmd
	sm.table, cmd = sm.table.Update(msg)
	return cmd
}

func (sm *serversModel) View() string {
	if len(sm.servers) == 0 {
		return forceHeight(dimStyle.Render("No servers loaded. Press 'r' to reload."), sm.width, sm.height)
	}
	return forceHeight(sm.table.View(), sm.width, sm.height)
}

func location(s models.ServerRef) string {
	parts := make([]string, 0, 2)
	if s.City != "" {
		parts = append(parts, s.City)
	}
	if s.Country != "" {
		parts = append(parts, s.Country)
	}
	return strings.Join(parts, ", ")
}

func formatLatency(ms int) string {
	if ms <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dms", ms)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "~"
}
