package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
	"vpnpanel/internal/observable"
	"vpnpanel/internal/storage/models"
)

const (
	requestTimeout = 20 * time.Second
	historyLimit   = 20
)

// subscribe bridges store, error and kill switch notifications into the
// program. It runs as a command so the replayed first notification is sent
// after the event loop has started.
func subscribe(m *Model) tea.Cmd {
	return func() tea.Msg {
		p := m.program
		unsubs := []observable.Unsubscribe{
			m.store.Subscribe(func(st connection.ConnectionState) {
				p.Send(stateMsg{state: st})
			}),
			m.store.SubscribeErrors(func(ev connection.UpdateError) {
				p.Send(updateErrorMsg{event: ev})
			}),
		}
		if m.killSwitch != nil {
			unsubs = append(unsubs, m.killSwitch.Subscribe(func(st killswitch.Status) {
				p.Send(killSwitchMsg{status: st})
			}))
		}
		return subscribedMsg{unsubs: unsubs}
	}
}

// pollBusy collects the busy markers: a toggle inside its debounce window or
// a field with an outstanding remote update.
func pollBusy(m *Model) tea.Cmd {
	return func() tea.Msg {
		busy := make(map[connection.Field]bool)
		for _, f := range featureFields {
			if m.store.InFlight(f) {
				busy[f] = true
				continue
			}
			if c, ok := m.toggles[f]; ok && c.Pending() {
				busy[f] = true
			}
		}
		return busyMsg{busy: busy}
	}
}

// busyTick fires after 250ms.
func busyTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(time.Time) tea.Msg {
		return busyTickMsg{}
	})
}

// requestToggle asks the field's toggle control for v and waits for the
// server to settle the update.
func requestToggle(m *Model, f connection.Field, v bool) tea.Cmd {
	c, ok := m.toggles[f]
	if !ok {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		u, err := c.Request(ctx, v)
		if err != nil {
			return requestResultMsg{field: f, err: err}
		}
		return awaitUpdate(ctx, u)
	}
}

// requestSetting sends a single-field patch straight to the store.
func requestSetting(m *Model, f connection.Field, v any) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		u, err := m.store.UpdateSettings(ctx, connection.Set(f, v))
		if err != nil {
			return requestResultMsg{field: f, err: err}
		}
		return awaitUpdate(ctx, u)
	}
}

func awaitUpdate(ctx context.Context, u *connection.Update) tea.Msg {
	if err := u.Wait(ctx); err != nil {
		return updateSettledMsg{fields: u.Fields(), phase: connection.PhasePending}
	}
	return updateSettledMsg{fields: u.Fields(), phase: u.Phase()}
}

// toggleProtection engages or releases the kill switch.
func toggleProtection(m *Model) tea.Cmd {
	if m.killSwitch == nil {
		return nil
	}
	return func() tea.Msg {
		if m.killSwitch.IsActive() {
			return killSwitchResultMsg{activated: false, err: m.killSwitch.Deactivate()}
		}
		return killSwitchResultMsg{activated: true, err: m.killSwitch.Activate()}
	}
}

// disconnect records a user-initiated disconnect.
func disconnect(m *Model) tea.Cmd {
	return func() tea.Msg {
		m.store.SetDisconnected(connection.DisconnectUser)
		return disconnectedMsg{}
	}
}

// selectServer makes ref the selected server.
func selectServer(m *Model, ref models.ServerRef) tea.Cmd {
	return func() tea.Msg {
		m.store.SelectServer(ref)
		return serverSelectedMsg{server: ref}
	}
}

// reload refetches settings, session and catalog.
func reload(m *Model) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return reloadResultMsg{err: m.store.Load(ctx)}
	}
}

// loadEntitlements looks up which premium features the plan grants.
func loadEntitlements(m *Model) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		access, err := m.store.Entitlements(ctx)
		return entitlementsMsg{access: access, err: err}
	}
}

// loadHistory fetches the most recent settled updates from the journal.
func loadHistory(m *Model) tea.Cmd {
	if m.storage == nil {
		return nil
	}
	return func() tea.Msg {
		records, err := m.storage.GetUpdateHistory(context.Background(), historyLimit)
		return historyLoadedMsg{records: records, err: err}
	}
}

// logsTick fires after a second while the activity tab is visible.
func logsTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return logsTickMsg{}
	})
}

// clearNotification returns a command that fires after a delay.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
