package tui

import (
	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
	"vpnpanel/internal/observable"
	"vpnpanel/internal/storage/models"
)

// Store bridge messages. These are sent from subscription callbacks through
// program.Send.

type stateMsg struct {
	state connection.ConnectionState
}

type updateErrorMsg struct {
	event connection.UpdateError
}

type killSwitchMsg struct {
	status killswitch.Status
}

type subscribedMsg struct {
	unsubs []observable.Unsubscribe
}

// Busy markers.

type busyTickMsg struct{}

type busyMsg struct {
	busy map[connection.Field]bool
}

// Request results.

type requestResultMsg struct {
	field connection.Field
	err   error
}

type updateSettledMsg struct {
	fields []connection.Field
	phase  connection.Phase
}

type killSwitchResultMsg struct {
	activated bool
	err       error
}

type serverSelectedMsg struct {
	server models.ServerRef
}

type disconnectedMsg struct{}

type reloadResultMsg struct {
	err error
}

type entitlementsMsg struct {
	access map[string]bool
	err    error
}

// Activity messages.

type historyLoadedMsg struct {
	records []*models.UpdateRecord
	err     error
}

type logsTickMsg struct{}

// Notification message.

type clearNotificationMsg struct {
	version int
}
