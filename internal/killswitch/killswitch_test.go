package killswitch

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/metrics"
	"vpnpanel/internal/observable"
	pkgerrors "vpnpanel/pkg/errors"
)

type source struct {
	*observable.Value[connection.ConnectionState]
	st connection.ConnectionState
}

func newSource() *source {
	st := connection.DefaultState()
	return &source{Value: observable.NewValue(st), st: st}
}

func (s *source) set(fn func(*connection.ConnectionState)) {
	fn(&s.st)
	s.Publish(s.st)
}

func (s *source) connect() {
	now := time.Now()
	s.set(func(st *connection.ConnectionState) {
		st.Connected = true
		st.ConnectTime = &now
		st.DisconnectReason = connection.DisconnectNone
	})
}

func (s *source) disconnect(reason connection.DisconnectReason) {
	s.set(func(st *connection.ConnectionState) {
		st.Connected = false
		st.ConnectTime = nil
		st.DisconnectReason = reason
	})
}

func (s *source) intent(on bool) {
	s.set(func(st *connection.ConnectionState) { st.KillSwitch = on })
}

func newMonitor(t *testing.T) (*Monitor, *metrics.Metrics) {
	t.Helper()
	m := metrics.Nop()
	mon := New(Options{Logger: zaptest.NewLogger(t), Metrics: m})
	t.Cleanup(func() { mon.Close() })
	return mon, m
}

func TestTransitionLegality(t *testing.T) {
	mon, _ := newMonitor(t)

	err := mon.Deactivate()
	var actErr *pkgerrors.ActivationError
	require.True(t, errors.As(err, &actErr))
	assert.Equal(t, "disabled", actErr.Phase)
	assert.Equal(t, pkgerrors.KindActivation, pkgerrors.Kind(err))

	require.NoError(t, mon.Activate())
	assert.True(t, mon.IsActive())

	err = mon.Activate()
	require.True(t, errors.As(err, &actErr))
	assert.Equal(t, "activate", actErr.Op)

	require.NoError(t, mon.Deactivate())
	assert.Equal(t, PhaseDisabled, mon.Phase())
}

func TestArmsWhenConnectedWithIntent(t *testing.T) {
	mon, _ := newMonitor(t)
	src := newSource()
	mon.Attach(src)

	src.intent(true)
	assert.Equal(t, PhaseDisabled, mon.Phase())

	src.connect()
	assert.Equal(t, PhaseStandby, mon.Phase())

	src.intent(false)
	assert.Equal(t, PhaseDisabled, mon.Phase())
}

func TestUnexpectedDisconnectActivates(t *testing.T) {
	mon, m := newMonitor(t)
	src := newSource()
	mon.Attach(src)

	var statuses []Status
	mon.Subscribe(func(s Status) { statuses = append(statuses, s) })

	src.intent(true)
	src.connect()
	require.Equal(t, PhaseStandby, mon.Phase())

	src.disconnect(connection.DisconnectDropped)
	assert.True(t, mon.IsActive())

	// Nothing but Deactivate leaves Active.
	src.intent(false)
	src.connect()
	assert.True(t, mon.IsActive())

	require.NoError(t, mon.Deactivate())
	assert.False(t, mon.IsActive())
	assert.Equal(t, PhaseDisabled, mon.Phase())

	require.Len(t, statuses, 4)
	assert.Equal(t, PhaseDisabled, statuses[0].Phase)
	assert.Equal(t, PhaseStandby, statuses[1].Phase)
	assert.Equal(t, Status{Active: true, Phase: PhaseActive}, statuses[2])
	assert.Equal(t, PhaseDisabled, statuses[3].Phase)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KillSwitchTransitions.WithLabelValues("active")))
}

func TestUserDisconnectDoesNotActivate(t *testing.T) {
	mon, _ := newMonitor(t)
	src := newSource()
	mon.Attach(src)

	src.intent(true)
	src.connect()
	src.disconnect(connection.DisconnectUser)

	assert.False(t, mon.IsActive())
	assert.Equal(t, PhaseDisabled, mon.Phase())
}

func TestDropWithoutIntentDoesNotActivate(t *testing.T) {
	mon, _ := newMonitor(t)
	src := newSource()
	mon.Attach(src)

	src.connect()
	src.disconnect(connection.DisconnectDropped)
	assert.Equal(t, PhaseDisabled, mon.Phase())
}

func TestDeactivateReturnsToStandbyWhileProtected(t *testing.T) {
	mon, _ := newMonitor(t)
	src := newSource()
	mon.Attach(src)

	src.intent(true)
	src.connect()
	require.NoError(t, mon.Activate())

	require.NoError(t, mon.Deactivate())
	assert.Equal(t, PhaseStandby, mon.Phase())
}

func TestAttachReplayDoesNotCountAsDrop(t *testing.T) {
	mon, _ := newMonitor(t)
	src := newSource()
	src.intent(true)
	src.disconnect(connection.DisconnectDropped)

	mon.Attach(src)
	assert.Equal(t, PhaseDisabled, mon.Phase())
}

func TestSubscribersNotifiedInOrder(t *testing.T) {
	mon, _ := newMonitor(t)

	var order []int
	mon.Subscribe(func(Status) { order = append(order, 1) })
	mon.Subscribe(func(Status) { order = append(order, 2) })
	order = nil

	require.NoError(t, mon.Activate())
	assert.Equal(t, []int{1, 2}, order)
}
