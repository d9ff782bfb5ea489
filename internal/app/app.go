package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"vpnpanel/internal/config"
	"vpnpanel/internal/connection"
	"vpnpanel/internal/killswitch"
	"vpnpanel/internal/logging"
	"vpnpanel/internal/metrics"
	"vpnpanel/internal/paths"
	"vpnpanel/internal/session"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/sqlite"
	"vpnpanel/internal/toggle"
	"vpnpanel/internal/transport"
)

// Options override parts of the file configuration.
type Options struct {
	ConfigPath string
	LogLevel   string
	APIURL     string

	// Logger replaces the configured logger, e.g. a buffered one for the TUI.
	Logger *zap.Logger
}

// App represents the application context
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zap.Logger

	Storage    storage.Storage
	Client     *transport.Client
	Store      *connection.Store
	KillSwitch *killswitch.Monitor
	Toggles    map[connection.Field]*toggle.Control
	Watcher    *session.Watcher

	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// New creates a new application instance. Nothing talks to the network
// until Load or the watcher is started.
func New(opts Options) (*App, error) {
	configPath := opts.ConfigPath
	if configPath == "" {
		p, err := paths.ConfigFile()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.APIURL != "" {
		cfg.API.BaseURL = opts.APIURL
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	dbPath := cfg.Storage.DBPath
	if dbPath == "" {
		dbPath, err = paths.DBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data directory: %w", err)
		}
	}
	db, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	client, err := transport.New(transport.Config{
		BaseURL:   cfg.API.BaseURL,
		Token:     cfg.API.Token,
		UserAgent: cfg.API.UserAgent,
		Timeout:   cfg.API.TimeoutDuration(),
		Logger:    logger.Named("transport"),
		Metrics:   m,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store, err := connection.New(connection.Options{
		Remote:  client,
		Cache:   db,
		Logger:  logger.Named("store"),
		Metrics: m,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	monitor := killswitch.New(killswitch.Options{
		Logger:  logger.Named("killswitch"),
		Metrics: m,
	})
	monitor.Attach(store)

	toggles, err := toggle.NewAll(store, toggle.Options{
		Cooldown: cfg.Toggle.CooldownDuration(),
		Logger:   logger.Named("toggle"),
		Metrics:  m,
	})
	if err != nil {
		monitor.Close()
		store.Close()
		db.Close()
		return nil, err
	}

	watcher, err := session.NewWatcher(store, client, session.Options{
		PollInterval:    cfg.Session.PollIntervalDuration(),
		RefreshInterval: cfg.Catalog.RefreshIntervalDuration(),
		Preferences:     db,
		Logger:          logger.Named("session"),
	})
	if err != nil {
		monitor.Close()
		store.Close()
		db.Close()
		return nil, err
	}

	return &App{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     logger,
		Storage:    db,
		Client:     client,
		Store:      store,
		KillSwitch: monitor,
		Toggles:    toggles,
		Watcher:    watcher,
		Metrics:    m,
		Registry:   registry,
	}, nil
}

// Load seeds the store from the API, falling back to the local cache.
func (a *App) Load(ctx context.Context) error {
	return a.Store.Load(ctx)
}

// Close stops background work, waits for outstanding updates and releases
// resources.
func (a *App) Close() error {
	var errs []error
	if a.Watcher != nil && a.Watcher.IsRunning() {
		errs = append(errs, a.Watcher.Stop())
	}
	for _, c := range a.Toggles {
		c.Close()
	}
	if a.KillSwitch != nil {
		errs = append(errs, a.KillSwitch.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Storage != nil {
		errs = append(errs, a.Storage.Close())
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return errors.Join(errs...)
}
