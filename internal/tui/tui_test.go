package tui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
	"vpnpanel/internal/observable"
	"vpnpanel/internal/storage/models"
	"vpnpanel/internal/toggle"
)

type fakeRemote struct {
	mu     sync.Mutex
	fields []map[string]any
}

func (f *fakeRemote) GetSettings(ctx context.Context) (*models.Settings, error) {
	return &models.Settings{Subscription: "premium"}, nil
}

func (f *fakeRemote) UpdateFields(ctx context.Context, fields map[string]any) (*models.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fields = append(f.fields, fields)
	return &models.Settings{}, nil
}

func (f *fakeRemote) FeatureAccess(ctx context.Context, feature string) (bool, error) {
	return true, nil
}

func (f *fakeRemote) CurrentSession(ctx context.Context) (*models.Session, error) {
	return nil, nil
}

func (f *fakeRemote) Servers(ctx context.Context) ([]models.ServerRef, error) {
	return []models.ServerRef{
		{ID: "de-1", Name: "Frankfurt", Country: "DE"},
		{ID: "nl-1", Name: "Amsterdam", Country: "NL"},
	}, nil
}

func newTestModel(t *testing.T) (*Model, *connection.Store) {
	t.Helper()
	store, err := connection.New(connection.Options{Remote: &fakeRemote{}, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Load(context.Background()))

	ks := killswitch.New(killswitch.Options{Logger: zaptest.NewLogger(t)})
	ks.Attach(store)
	t.Cleanup(func() { ks.Close() })

	toggles, err := toggle.NewAll(store, toggle.Options{Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	m := NewModel(Deps{Store: store, KillSwitch: ks, Toggles: toggles})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m.Update(stateMsg{state: store.Snapshot()})
	return m, store
}

func press(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewShowsSelectedServer(t *testing.T) {
	m, store := newTestModel(t)

	store.SetConnected(time.Now())
	store.SelectServer(models.ServerRef{ID: "de-1", Name: "Frankfurt"})
	m.Update(stateMsg{state: store.Snapshot()})

	view := m.View()
	assert.Contains(t, view, "Frankfurt")
	assert.Contains(t, view, "Connected")
}

func TestFeatureToggleRoundTrip(t *testing.T) {
	m, store := newTestModel(t)

	// Protocol, Encryption, Kill Switch.
	m.featuresTab.Update(press("down"), m)
	m.featuresTab.Update(press("down"), m)
	require.Equal(t, connection.FieldKillSwitch, m.featuresTab.current())

	cmd := m.featuresTab.Update(press("space"), m)
	require.NotNil(t, cmd)

	msg := cmd()
	settled, ok := msg.(updateSettledMsg)
	require.True(t, ok, "unexpected message %T", msg)
	assert.Equal(t, connection.PhaseCommitted, settled.phase)
	assert.True(t, store.Snapshot().KillSwitch)

	m.Update(settled)
	assert.Equal(t, "Saved Kill Switch", m.notification)
	assert.False(t, m.notificationErr)
}

func TestGuardedFeatureLockedWhileConnected(t *testing.T) {
	m, store := newTestModel(t)
	store.SetConnected(time.Now())
	m.Update(stateMsg{state: store.Snapshot()})

	m.activeTab = tabFeatures
	assert.Contains(t, m.View(), "locked while connected")

	cmd := m.featuresTab.Update(press("right"), m)
	require.NotNil(t, cmd)
	msg := cmd()
	result, ok := msg.(requestResultMsg)
	require.True(t, ok, "unexpected message %T", msg)
	assert.Error(t, result.err)

	m.Update(result)
	assert.Equal(t, "Disconnect from the VPN before changing this setting.", m.notification)
	assert.Equal(t, models.ProtocolWireGuard, store.Snapshot().Protocol)
}

func TestDroppedConnectionNotifies(t *testing.T) {
	m, store := newTestModel(t)
	store.SetConnected(time.Now())
	m.Update(stateMsg{state: store.Snapshot()})

	store.SetDisconnected(connection.DisconnectDropped)
	m.Update(stateMsg{state: store.Snapshot()})

	assert.Equal(t, "Connection dropped", m.notification)
	assert.True(t, m.notificationErr)
}

func TestUserDisconnectKey(t *testing.T) {
	m, store := newTestModel(t)
	store.SetConnected(time.Now())
	m.Update(stateMsg{state: store.Snapshot()})

	cmd, handled := m.handleGlobalKey(press("d"))
	require.True(t, handled)
	require.NotNil(t, cmd)
	cmd()

	st := store.Snapshot()
	assert.False(t, st.Connected)
	assert.Equal(t, connection.DisconnectUser, st.DisconnectReason)
}

func TestSelectServer(t *testing.T) {
	m, store := newTestModel(t)
	require.Len(t, m.serversTab.servers, 2)

	m.serversTab.Update(press("down"), m)
	cmd := m.serversTab.Update(press("enter"), m)
	require.NotNil(t, cmd)

	msg := cmd()
	assert.Equal(t, serverSelectedMsg{server: models.ServerRef{ID: "nl-1", Name: "Amsterdam", Country: "NL"}}, msg)
	require.NotNil(t, store.Snapshot().SelectedServer)
	assert.Equal(t, "nl-1", store.Snapshot().SelectedServer.ID)
}

func TestProtectionKey(t *testing.T) {
	m, _ := newTestModel(t)

	cmd, handled := m.handleGlobalKey(press("x"))
	require.True(t, handled)
	msg := cmd()
	assert.Equal(t, killSwitchResultMsg{activated: true}, msg)

	m.Update(killSwitchMsg{status: killswitch.Status{Active: true, Phase: killswitch.PhaseActive}})
	assert.True(t, m.status.Active)
	assert.Contains(t, m.View(), "TRAFFIC BLOCKED")

	msg = cmd()
	assert.Equal(t, killSwitchResultMsg{activated: false}, msg)
}

func TestQuitUnsubscribes(t *testing.T) {
	m, _ := newTestModel(t)

	calls := 0
	m.Update(subscribedMsg{unsubs: []observable.Unsubscribe{func() { calls++ }}})

	cmd, handled := m.handleGlobalKey(press("q"))
	assert.True(t, handled)
	assert.NotNil(t, cmd)
	assert.Equal(t, 1, calls)
	assert.Nil(t, m.unsubs)
}

func TestDeniedFeatureMarked(t *testing.T) {
	m, store := newTestModel(t)

	msg := loadEntitlements(m)()
	result, ok := msg.(entitlementsMsg)
	require.True(t, ok, "unexpected message %T", msg)
	require.NoError(t, result.err)
	assert.True(t, result.access["obfuscation"])

	access, err := store.Entitlements(context.Background())
	require.NoError(t, err)
	access["obfuscation"] = false
	m.Update(entitlementsMsg{access: access})

	m.activeTab = tabFeatures
	view := m.View()
	assert.Contains(t, view, "not granted")
	assert.Equal(t, 1, strings.Count(view, "not granted"))
}
