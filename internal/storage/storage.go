package storage

import (
	"context"

	"vpnpanel/internal/storage/models"
)

// Storage defines the interface for the local cache.
type Storage interface {
	// Confirmed settings cache
	SaveSettings(ctx context.Context, settings *models.Settings) error
	LoadSettings(ctx context.Context) (*models.Settings, error)

	// Server catalog cache
	ReplaceServers(ctx context.Context, servers []models.ServerRef) error
	GetServers(ctx context.Context, filter ServerFilter) ([]models.ServerRef, error)

	// Update journal
	RecordUpdate(ctx context.Context, record *models.UpdateRecord) error
	GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateRecord, error)

	// Local preferences
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
	GetAllPreferences(ctx context.Context) (map[string]string, error)

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// ServerFilter represents filters for querying cached servers
type ServerFilter struct {
	Region      string
	Country     string
	PremiumOnly bool
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}

// Preference keys
const (
	PrefSelectedServer = "selected_server"
	PrefLastRefresh    = "catalog_last_refresh"
)
