package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vpnpanel/internal/connection"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/models"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultRefreshInterval = 30 * time.Minute
)

// Store is the part of the connection store the watcher reports into.
type Store interface {
	Snapshot() connection.ConnectionState
	SetConnected(at time.Time)
	SetDisconnected(reason connection.DisconnectReason)
	SetAvailableServers(servers []models.ServerRef)
}

// Remote is the session and catalog API.
type Remote interface {
	CurrentSession(ctx context.Context) (*models.Session, error)
	Servers(ctx context.Context) ([]models.ServerRef, error)
}

// Preferences records the last catalog refresh. Optional.
type Preferences interface {
	SetPreference(ctx context.Context, key, value string) error
}

// Options configures a Watcher.
type Options struct {
	PollInterval    time.Duration
	RefreshInterval time.Duration
	Preferences     Preferences
	Logger          *zap.Logger
	Clock           clockwork.Clock
}

// Watcher polls the session-status API and refreshes the server catalog on
// a schedule.
type Watcher struct {
	scheduler gocron.Scheduler
	store     Store
	remote    Remote
	prefs     Preferences
	logger    *zap.Logger
	clock     clockwork.Clock
	poll      time.Duration
	refresh   time.Duration

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a stopped watcher.
func NewWatcher(store Store, remote Remote, opts Options) (*Watcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	scheduler, err := gocron.NewScheduler(gocron.WithClock(opts.Clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Watcher{
		scheduler: scheduler,
		store:     store,
		remote:    remote,
		prefs:     opts.Preferences,
		logger:    opts.Logger,
		clock:     opts.Clock,
		poll:      opts.PollInterval,
		refresh:   opts.RefreshInterval,
	}, nil
}

// Start schedules the session poll and catalog refresh jobs. The first poll
// runs immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher is already running")
	}

	_, err := w.scheduler.NewJob(
		gocron.DurationJob(w.poll),
		gocron.NewTask(func() {
			w.Poll(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create session poll job: %w", err)
	}

	_, err = w.scheduler.NewJob(
		gocron.DurationJob(w.refresh),
		gocron.NewTask(func() {
			w.RefreshCatalog(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create catalog refresh job: %w", err)
	}

	w.scheduler.Start()
	w.running = true
	return nil
}

// Stop shuts the scheduler down and waits for running jobs.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return fmt.Errorf("watcher is not running")
	}

	if err := w.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	w.running = false
	return nil
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Poll reconciles the store with the session-status API. A session that
// vanishes while the store believes it is connected is reported as dropped.
// Errors leave the store untouched.
func (w *Watcher) Poll(ctx context.Context) error {
	session, err := w.remote.CurrentSession(ctx)
	if err != nil {
		w.logger.Warn("session poll failed", zap.Error(err))
		return err
	}

	st := w.store.Snapshot()
	switch {
	case session != nil:
		if !st.Connected || st.ConnectTime == nil || !st.ConnectTime.Equal(session.StartedAt) {
			w.logger.Info("session active",
				zap.String("session", session.ID),
				zap.String("server", session.ServerID))
			w.store.SetConnected(session.StartedAt)
		}
	case st.Connected:
		w.logger.Warn("session vanished while connected")
		w.store.SetDisconnected(connection.DisconnectDropped)
	}
	return nil
}

// RefreshCatalog reloads the server catalog into the store.
func (w *Watcher) RefreshCatalog(ctx context.Context) error {
	servers, err := w.remote.Servers(ctx)
	if err != nil {
		w.logger.Warn("catalog refresh failed", zap.Error(err))
		return err
	}

	w.store.SetAvailableServers(servers)
	w.logger.Debug("catalog refreshed", zap.Int("servers", len(servers)))

	if w.prefs != nil {
		stamp := w.clock.Now().UTC().Format(time.RFC3339)
		if err := w.prefs.SetPreference(ctx, storage.PrefLastRefresh, stamp); err != nil {
			w.logger.Warn("failed to record catalog refresh", zap.Error(err))
		}
	}
	return nil
}
