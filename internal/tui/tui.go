package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
	"vpnpanel/internal/logging"
	"vpnpanel/internal/observable"
	"vpnpanel/internal/storage/models"
	"vpnpanel/internal/toggle"
	pkgerrors "vpnpanel/pkg/errors"
)

// Tab indices.
const (
	tabDashboard = 0
	tabFeatures  = 1
	tabServers   = 2
	tabActivity  = 3
	tabCount     = 4
)

// Store is the part of the connection store the UI drives.
type Store interface {
	Subscribe(fn func(connection.ConnectionState)) observable.Unsubscribe
	SubscribeErrors(fn func(connection.UpdateError)) observable.Unsubscribe
	InFlight(f connection.Field) bool
	UpdateSettings(ctx context.Context, patch connection.Patch) (*connection.Update, error)
	SetDisconnected(reason connection.DisconnectReason)
	SelectServer(ref models.ServerRef)
	Load(ctx context.Context) error
	Entitlements(ctx context.Context) (map[string]bool, error)
}

// KillSwitch is the monitor the UI shows and controls.
type KillSwitch interface {
	Subscribe(fn func(killswitch.Status)) observable.Unsubscribe
	IsActive() bool
	Activate() error
	Deactivate() error
}

// History reads the update journal.
type History interface {
	GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateRecord, error)
}

// Model is the root BubbleTea model.
type Model struct {
	// Dependencies.
	store      Store
	killSwitch KillSwitch
	toggles    map[connection.Field]*toggle.Control
	storage    History
	logs       *logging.Buffer
	program    *tea.Program
	unsubs     []observable.Unsubscribe

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Mirrored state.
	state  connection.ConnectionState
	loaded bool
	status killswitch.Status
	busy   map[connection.Field]bool
	access map[string]bool

	// Tab models.
	dashboardTab dashboardModel
	featuresTab  featuresModel
	serversTab   serversModel
	activityTab  activityModel

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	Store      Store
	KillSwitch KillSwitch
	Toggles    map[connection.Field]*toggle.Control
	Storage    History
	Logs       *logging.Buffer
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	return &Model{
		store:        deps.Store,
		killSwitch:   deps.KillSwitch,
		toggles:      deps.Toggles,
		storage:      deps.Storage,
		logs:         deps.Logs,
		activeTab:    tabDashboard,
		state:        connection.DefaultState(),
		status:       killswitch.Status{Phase: killswitch.PhaseDisabled},
		busy:         make(map[connection.Field]bool),
		dashboardTab: newDashboardModel(),
		featuresTab:  newFeaturesModel(),
		serversTab:   newServersModel(),
		activityTab:  newActivityModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{busyTick(), loadHistory(m), loadEntitlements(m)}
	if m.program != nil {
		cmds = append(cmds, subscribe(m))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.dashboardTab.setSize(msg.Width, ch)
		m.featuresTab.setSize(msg.Width, ch)
		m.serversTab.setSize(msg.Width, ch)
		m.activityTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKey(msg); handled {
			return m, cmd
		}

	// Store bridge.
	case subscribedMsg:
		m.unsubs = msg.unsubs
	case stateMsg:
		m.applyState(msg.state)
	case updateErrorMsg:
		m.setNotification(msg.event.Message, true)
		cmds = append(cmds, loadHistory(m))
	case killSwitchMsg:
		if msg.status.Active && !m.status.Active {
			m.setNotification("Kill switch engaged, traffic is blocked", true)
		}
		m.status = msg.status

	// Busy markers.
	case busyTickMsg:
		cmds = append(cmds, pollBusy(m), busyTick())
	case busyMsg:
		m.busy = msg.busy

	// Requests.
	case requestResultMsg:
		m.notifyRequestError(msg.err)
		cmds = append(cmds, pollBusy(m))
	case updateSettledMsg:
		if msg.phase == connection.PhaseCommitted {
			m.setNotification("Saved "+fieldList(msg.fields), false)
		}
		cmds = append(cmds, pollBusy(m), loadHistory(m))
	case killSwitchResultMsg:
		switch {
		case msg.err != nil:
			m.setNotification(pkgerrors.UserMessage(msg.err), true)
		case msg.activated:
			m.setNotification("Kill switch engaged", false)
		default:
			m.setNotification("Kill switch released", false)
		}
	case serverSelectedMsg:
		m.setNotification("Selected "+serverLabel(msg.server), false)
	case disconnectedMsg:
		m.setNotification("Disconnected", false)
	case reloadResultMsg:
		if msg.err != nil {
			m.setNotification("Reload failed: "+pkgerrors.UserMessage(msg.err), true)
		} else {
			m.setNotification("Reloaded", false)
			cmds = append(cmds, loadEntitlements(m))
		}
	case entitlementsMsg:
		if msg.err == nil {
			m.access = msg.access
		}

	// Activity.
	case historyLoadedMsg:
		if msg.err == nil {
			m.activityTab.setHistory(msg.records)
		}
	case logsTickMsg:
		if m.activeTab == tabActivity {
			cmds = append(cmds, logsTick())
		}

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate to active tab.
	switch m.activeTab {
	case tabFeatures:
		cmds = append(cmds, m.featuresTab.Update(msg, m))
	case tabServers:
		cmds = append(cmds, m.serversTab.Update(msg, m))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.activeTab, m.state, m.status.Active, m.width)

	var content string
	switch m.activeTab {
	case tabDashboard:
		content = m.dashboardTab.View(m.state, m.status, m.loaded)
	case tabFeatures:
		content = m.featuresTab.View(m)
	case tabServers:
		content = m.serversTab.View()
	case tabActivity:
		content = m.activityTab.View(m.logs)
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	footer := renderFooter(renderHelpBar(m.showHelp), m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

// handleGlobalKey reports whether the key was consumed.
func (m *Model) handleGlobalKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.unsubscribe()
		return tea.Quit, true

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil, true

	case key.Matches(msg, keys.TabNext):
		return m.switchTab((m.activeTab + 1) % tabCount), true

	case key.Matches(msg, keys.TabPrev):
		return m.switchTab((m.activeTab - 1 + tabCount) % tabCount), true

	case key.Matches(msg, keys.Protect):
		return toggleProtection(m), true

	case key.Matches(msg, keys.Disconnect):
		if m.state.Connected {
			return disconnect(m), true
		}
		return nil, true

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(reload(m), loadHistory(m)), true
	}

	return nil, false
}

func (m *Model) switchTab(tab int) tea.Cmd {
	m.activeTab = tab
	if tab == tabActivity {
		return tea.Batch(loadHistory(m), logsTick())
	}
	return nil
}

// applyState mirrors a store notification.
func (m *Model) applyState(st connection.ConnectionState) {
	if m.loaded && m.state.Connected && !st.Connected && st.DisconnectReason == connection.DisconnectDropped {
		m.setNotification("Connection dropped", true)
	}
	m.state = st
	m.loaded = true

	selected := ""
	if st.SelectedServer != nil {
		selected = st.SelectedServer.ID
	}
	m.serversTab.setServers(st.AvailableServers, selected)
}

// notifyRequestError surfaces a synchronous rejection. Dropped requests
// stay silent except for a disabled control, whose reason is shown.
func (m *Model) notifyRequestError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, pkgerrors.ErrControlDisabled) {
		m.setNotification(err.Error(), true)
		return
	}
	if text := pkgerrors.UserMessage(err); text != "" {
		m.setNotification(text, true)
	}
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

func (m *Model) unsubscribe() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}

func fieldList(fields []connection.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = featureLabel(f)
	}
	return strings.Join(names, ", ")
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(deps Deps) *tea.Program {
	m := NewModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	return p
}
