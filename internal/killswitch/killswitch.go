package killswitch

import (
	"sync"

	"go.uber.org/zap"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/metrics"
	"vpnpanel/internal/observable"
	pkgerrors "vpnpanel/pkg/errors"
)

// Phase is the monitor state.
type Phase string

const (
	PhaseDisabled Phase = "disabled"
	PhaseStandby  Phase = "standby"
	PhaseActive   Phase = "active"
)

// Status is what subscribers observe.
type Status struct {
	Active bool
	Phase  Phase
}

// Source publishes connection state. *connection.Store satisfies it.
type Source interface {
	Subscribe(fn func(connection.ConnectionState)) observable.Unsubscribe
}

// Options configures a Monitor.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Monitor tracks whether network-blocking protection is engaged. It is
// independent of the user's kill switch setting, which only records intent:
//
//	Disabled -> Standby   intent on while connected
//	Standby  -> Active    Activate, or the connection drops with intent on
//	Standby  -> Disabled  intent off or the user disconnects
//	Active   -> Standby   Deactivate while intent on and connected
//	Active   -> Disabled  Deactivate otherwise
type Monitor struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	// commitMu serializes transitions and their notifications.
	commitMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	intent    bool
	connected bool
	seen      bool
	unsub     observable.Unsubscribe

	status *observable.Value[Status]
}

// New creates a detached monitor in the Disabled phase.
func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	return &Monitor{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		phase:   PhaseDisabled,
		status:  observable.NewValue(Status{Phase: PhaseDisabled}),
	}
}

// Attach starts following src. A previous source is detached first.
func (m *Monitor) Attach(src Source) {
	m.detach()
	unsub := src.Subscribe(m.observe)

	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
}

// Close detaches the monitor from its source. The phase is kept.
func (m *Monitor) Close() error {
	m.detach()
	return nil
}

func (m *Monitor) detach() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.seen = false
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Subscribe registers fn for status changes. fn is called immediately with
// the current status.
func (m *Monitor) Subscribe(fn func(Status)) observable.Unsubscribe {
	return m.status.Subscribe(fn)
}

// IsActive reports whether protection is engaged.
func (m *Monitor) IsActive() bool {
	return m.Phase() == PhaseActive
}

// Phase returns the current phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Activate engages protection. It fails with ActivationError when already
// active.
func (m *Monitor) Activate() error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	if m.phase == PhaseActive {
		m.mu.Unlock()
		return &pkgerrors.ActivationError{Op: "activate", Phase: string(PhaseActive)}
	}
	m.mu.Unlock()

	m.transition(PhaseActive, "manual")
	return nil
}

// Deactivate releases protection. It does not reconnect the VPN. It fails
// with ActivationError when not active.
func (m *Monitor) Deactivate() error {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	if m.phase != PhaseActive {
		phase := m.phase
		m.mu.Unlock()
		return &pkgerrors.ActivationError{Op: "deactivate", Phase: string(phase)}
	}
	target := PhaseDisabled
	if m.intent && m.connected {
		target = PhaseStandby
	}
	m.mu.Unlock()

	m.transition(target, "manual")
	return nil
}

// observe follows connection state notifications.
func (m *Monitor) observe(st connection.ConnectionState) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	m.mu.Lock()
	wasConnected := m.connected && m.seen
	m.intent = st.KillSwitch
	m.connected = st.Connected
	m.seen = true
	dropped := wasConnected && !st.Connected && st.DisconnectReason == connection.DisconnectDropped

	target := m.phase
	reason := ""
	switch m.phase {
	case PhaseDisabled:
		if m.intent && m.connected {
			target, reason = PhaseStandby, "armed"
		}
	case PhaseStandby:
		switch {
		case dropped && m.intent:
			target, reason = PhaseActive, "connection dropped"
		case !m.intent:
			target, reason = PhaseDisabled, "kill switch turned off"
		case !m.connected:
			target, reason = PhaseDisabled, "disconnected"
		}
	case PhaseActive:
		// Only Deactivate leaves Active.
	}
	m.mu.Unlock()

	if target != m.Phase() {
		m.transition(target, reason)
	}
}

// transition must be called with commitMu held.
func (m *Monitor) transition(to Phase, reason string) {
	m.mu.Lock()
	from := m.phase
	m.phase = to
	m.mu.Unlock()

	m.metrics.KillSwitchTransitions.WithLabelValues(string(to)).Inc()
	fields := []zap.Field{zap.String("from", string(from)), zap.String("to", string(to)), zap.String("reason", reason)}
	if to == PhaseActive {
		m.logger.Warn("kill switch engaged", fields...)
	} else {
		m.logger.Info("kill switch phase changed", fields...)
	}

	m.status.Publish(Status{Active: to == PhaseActive, Phase: to})
}
