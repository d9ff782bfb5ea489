package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/models"
)

type fakeStore struct {
	mu           sync.Mutex
	st           connection.ConnectionState
	disconnects  []connection.DisconnectReason
	serverPushes int
}

func (f *fakeStore) Snapshot() connection.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStore) SetConnected(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Connected = true
	f.st.ConnectTime = &at
}

func (f *fakeStore) SetDisconnected(reason connection.DisconnectReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.Connected = false
	f.st.ConnectTime = nil
	f.st.DisconnectReason = reason
	f.disconnects = append(f.disconnects, reason)
}

func (f *fakeStore) SetAvailableServers(servers []models.ServerRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st.AvailableServers = servers
	f.serverPushes++
}

type fakeRemote struct {
	mu       sync.Mutex
	session  *models.Session
	servers  []models.ServerRef
	err      error
	gate     chan struct{}
	sessions atomic.Int32
}

func (f *fakeRemote) CurrentSession(ctx context.Context) (*models.Session, error) {
	f.sessions.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.err
}

func (f *fakeRemote) Servers(ctx context.Context) ([]models.ServerRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers, f.err
}

type prefs struct {
	mu     sync.Mutex
	values map[string]string
}

func (p *prefs) SetPreference(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return nil
}

func TestPollReconcilesSession(t *testing.T) {
	store := &fakeStore{st: connection.DefaultState()}
	remote := &fakeRemote{}
	w, err := NewWatcher(store, remote, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	started := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	remote.session = &models.Session{ID: "s1", ServerID: "de-1", StartedAt: started}
	require.NoError(t, w.Poll(context.Background()))
	st := store.Snapshot()
	assert.True(t, st.Connected)
	assert.True(t, st.ConnectTime.Equal(started))

	remote.session = nil
	require.NoError(t, w.Poll(context.Background()))
	assert.False(t, store.Snapshot().Connected)
	assert.Equal(t, []connection.DisconnectReason{connection.DisconnectDropped}, store.disconnects)

	// Already disconnected: nothing to report.
	require.NoError(t, w.Poll(context.Background()))
	assert.Len(t, store.disconnects, 1)
}

func TestPollErrorLeavesStoreUntouched(t *testing.T) {
	now := time.Now()
	store := &fakeStore{st: connection.ConnectionState{Connected: true, ConnectTime: &now}}
	remote := &fakeRemote{err: errors.New("offline")}
	w, err := NewWatcher(store, remote, Options{})
	require.NoError(t, err)

	assert.Error(t, w.Poll(context.Background()))
	assert.True(t, store.Snapshot().Connected)
	assert.Empty(t, store.disconnects)
}

func TestRefreshCatalog(t *testing.T) {
	store := &fakeStore{}
	remote := &fakeRemote{servers: []models.ServerRef{{ID: "us-1"}, {ID: "nl-1"}}}
	p := &prefs{values: map[string]string{}}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))

	w, err := NewWatcher(store, remote, Options{Preferences: p, Clock: clock})
	require.NoError(t, err)

	require.NoError(t, w.RefreshCatalog(context.Background()))
	assert.Len(t, store.Snapshot().AvailableServers, 2)
	assert.Equal(t, "2026-10-19T12:00:00Z", p.values[storage.PrefLastRefresh])
}

func TestStartStop(t *testing.T) {
	store := &fakeStore{}
	remote := &fakeRemote{}
	w, err := NewWatcher(store, remote, Options{
		PollInterval:    20 * time.Millisecond,
		RefreshInterval: time.Hour,
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return remote.sessions.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.Error(t, w.Stop())
}

func TestStopWaitsForFirstPoll(t *testing.T) {
	store := &fakeStore{}
	store.st.Connected = true
	remote := &fakeRemote{gate: make(chan struct{})}
	w, err := NewWatcher(store, remote, Options{
		PollInterval:    time.Hour,
		RefreshInterval: time.Hour,
		Clock:           clockwork.NewFakeClock(),
		Logger:          zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return remote.sessions.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the first poll was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(remote.gate)
	require.NoError(t, <-stopped)

	// The poll finished before Stop returned.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []connection.DisconnectReason{connection.DisconnectDropped}, store.disconnects)
}
