package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
	"vpnpanel/internal/storage/models"
)

type dashboardModel struct {
	width  int
	height int
}

func newDashboardModel() dashboardModel {
	return dashboardModel{}
}

func (dm *dashboardModel) setSize(w, h int) {
	dm.width = w
	dm.height = h
}

func (dm *dashboardModel) View(st connection.ConnectionState, ks killswitch.Status, loaded bool) string {
	if !loaded {
		return forceHeight(dimStyle.Render("Waiting for the first state..."), dm.width, dm.height)
	}

	connRows := []string{cardTitleStyle.Render("Connection")}
	if st.Connected {
		connRows = append(connRows, dm.row("Status", successStyle.Render("Connected")))
		if st.ConnectTime != nil {
			connRows = append(connRows,
				dm.row("Since", st.ConnectTime.Local().Format("15:04:05")),
				dm.row("Uptime", formatDuration(time.Since(*st.ConnectTime))))
		}
	} else {
		status := dimStyle.Render("Disconnected")
		if st.DisconnectReason == connection.DisconnectDropped {
			status = errorStyle.Render("Dropped")
		}
		connRows = append(connRows, dm.row("Status", status))
	}
	server := "-"
	if st.SelectedServer != nil {
		server = serverLabel(*st.SelectedServer)
	}
	connRows = append(connRows,
		dm.row("Server", server),
		dm.row("Protocol", string(st.Protocol)),
		dm.row("Encryption", string(st.Encryption)),
		dm.row("Plan", string(st.Subscription)),
	)

	protRows := []string{
		cardTitleStyle.Render("Protection"),
		dm.row("Kill switch", onOff(st.KillSwitch)),
		dm.row("Phase", phaseStyle(ks.Phase).Render(string(ks.Phase))),
		dm.row("DNS leak", onOff(st.DNSLeakProtection)),
		dm.row("Double VPN", onOff(st.DoubleVPN)),
		dm.row("Obfuscation", onOff(st.Obfuscation)),
	}
	if ks.Active {
		protRows = append(protRows, "", warningStyle.Render("Traffic is blocked. Press 'x' to release."))
	}

	connCard := lipgloss.JoinVertical(lipgloss.Left, connRows...)
	protCard := lipgloss.JoinVertical(lipgloss.Left, protRows...)

	w := dm.width - 6
	if w < 30 {
		w = 30
	}

	var content string
	if dm.width > 80 {
		halfW := (w - 4) / 2
		content = lipgloss.JoinHorizontal(lipgloss.Top,
			cardStyle.Width(halfW).Render(connCard), "  ",
			cardStyle.Width(halfW).Render(protCard))
	} else {
		content = lipgloss.JoinVertical(lipgloss.Left,
			cardStyle.Width(w).Render(connCard),
			cardStyle.Width(w).Render(protCard))
	}
	return forceHeight(content, dm.width, dm.height)
}

func (dm *dashboardModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}

func onOff(v bool) string {
	if v {
		return successStyle.Render("on")
	}
	return dimStyle.Render("off")
}

func serverLabel(s models.ServerRef) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
