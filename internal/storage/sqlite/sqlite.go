package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"vpnpanel/internal/storage"
	"vpnpanel/internal/storage/models"
	pkgerrors "vpnpanel/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	// Run migrations
	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Settings cache ─────────────────────────────────────────────────────────

func (d *DB) SaveSettings(ctx context.Context, settings *models.Settings) error {
	return saveSettings(ctx, d.handle(), settings)
}
func (t *Tx) SaveSettings(ctx context.Context, settings *models.Settings) error {
	return saveSettings(ctx, t.handle(), settings)
}

func saveSettings(ctx context.Context, h dbHandle, settings *models.Settings) error {
	record, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	query := `
		INSERT INTO settings_cache (id, record, cached_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			record = excluded.record,
			cached_at = excluded.cached_at
	`
	if _, err := h.ExecContext(ctx, query, string(record)); err != nil {
		return fmt.Errorf("failed to cache settings: %w", err)
	}
	return nil
}

func (d *DB) LoadSettings(ctx context.Context) (*models.Settings, error) {
	return loadSettings(ctx, d.handle())
}
func (t *Tx) LoadSettings(ctx context.Context) (*models.Settings, error) {
	return loadSettings(ctx, t.handle())
}

func loadSettings(ctx context.Context, h dbHandle) (*models.Settings, error) {
	var record string
	err := h.QueryRowContext(ctx, "SELECT record FROM settings_cache WHERE id = 1").Scan(&record)
	if err == sql.ErrNoRows {
		return nil, pkgerrors.ErrNotCached
	}
	if err != nil {
		return nil, err
	}
	settings := &models.Settings{}
	if err := json.Unmarshal([]byte(record), settings); err != nil {
		return nil, fmt.Errorf("failed to decode cached settings: %w", err)
	}
	return settings, nil
}

// ─── Server catalog ─────────────────────────────────────────────────────────

// ReplaceServers swaps the cached catalog atomically.
func (d *DB) ReplaceServers(ctx context.Context, servers []models.ServerRef) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := replaceServers(ctx, tx, servers); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
func (t *Tx) ReplaceServers(ctx context.Context, servers []models.ServerRef) error {
	return replaceServers(ctx, t.handle(), servers)
}

func replaceServers(ctx context.Context, h dbHandle, servers []models.ServerRef) error {
	if _, err := h.ExecContext(ctx, "DELETE FROM servers"); err != nil {
		return fmt.Errorf("failed to clear servers: %w", err)
	}
	query := `
		INSERT INTO servers (position, id, name, country, city, region, latency_ms, load_pct, premium)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, s := range servers {
		_, err := h.ExecContext(ctx, query,
			i, s.ID, s.Name, s.Country, s.City, s.Region, s.Latency, s.Load, s.Premium,
		)
		if err != nil {
			return fmt.Errorf("failed to cache server %s: %w", s.ID, err)
		}
	}
	return nil
}

func (d *DB) GetServers(ctx context.Context, filter storage.ServerFilter) ([]models.ServerRef, error) {
	return getServers(ctx, d.handle(), filter)
}
func (t *Tx) GetServers(ctx context.Context, filter storage.ServerFilter) ([]models.ServerRef, error) {
	return getServers(ctx, t.handle(), filter)
}

func getServers(ctx context.Context, h dbHandle, filter storage.ServerFilter) ([]models.ServerRef, error) {
	query := `
		SELECT id, name, country, city, region, latency_ms, load_pct, premium
		FROM servers
	`
	var conditions []string
	var args []interface{}

	if filter.Region != "" {
		conditions = append(conditions, "region = ? COLLATE NOCASE")
		args = append(args, filter.Region)
	}
	if filter.Country != "" {
		conditions = append(conditions, "country = ? COLLATE NOCASE")
		args = append(args, filter.Country)
	}
	if filter.PremiumOnly {
		conditions = append(conditions, "premium = 1")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY position ASC"

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var servers []models.ServerRef
	for rows.Next() {
		var s models.ServerRef
		err := rows.Scan(&s.ID, &s.Name, &s.Country, &s.City, &s.Region, &s.Latency, &s.Load, &s.Premium)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// ─── Update journal ─────────────────────────────────────────────────────────

func (d *DB) RecordUpdate(ctx context.Context, record *models.UpdateRecord) error {
	return recordUpdate(ctx, d.handle(), record)
}
func (t *Tx) RecordUpdate(ctx context.Context, record *models.UpdateRecord) error {
	return recordUpdate(ctx, t.handle(), record)
}

func recordUpdate(ctx context.Context, h dbHandle, record *models.UpdateRecord) error {
	fields, err := json.Marshal(record.Fields)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO update_journal (id, fields, phase, error_kind, error, started_at, settled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = h.ExecContext(ctx, query,
		record.ID, string(fields), record.Phase, record.ErrorKind, record.Error,
		record.StartedAt.UTC(), record.SettledAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record update: %w", err)
	}
	return nil
}

func (d *DB) GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateRecord, error) {
	return getUpdateHistory(ctx, d.handle(), limit)
}
func (t *Tx) GetUpdateHistory(ctx context.Context, limit int) ([]*models.UpdateRecord, error) {
	return getUpdateHistory(ctx, t.handle(), limit)
}

func getUpdateHistory(ctx context.Context, h dbHandle, limit int) ([]*models.UpdateRecord, error) {
	query := `
		SELECT id, fields, phase, error_kind, error, started_at, settled_at
		FROM update_journal
		ORDER BY settled_at DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.UpdateRecord
	for rows.Next() {
		record := &models.UpdateRecord{}
		var fields string
		var errorKind, errMsg sql.NullString
		err := rows.Scan(
			&record.ID, &fields, &record.Phase, &errorKind, &errMsg,
			&record.StartedAt, &record.SettledAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(fields), &record.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode journal fields: %w", err)
		}
		record.ErrorKind = errorKind.String
		record.Error = errMsg.String
		records = append(records, record)
	}
	return records, rows.Err()
}

// ─── Preferences ────────────────────────────────────────────────────────────

func (d *DB) GetPreference(ctx context.Context, key string) (string, error) {
	return getPreference(ctx, d.handle(), key)
}
func (t *Tx) GetPreference(ctx context.Context, key string) (string, error) {
	return getPreference(ctx, t.handle(), key)
}

func getPreference(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("preference not found: %s", key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetPreference(ctx context.Context, key, value string) error {
	return setPreference(ctx, d.handle(), key, value)
}
func (t *Tx) SetPreference(ctx context.Context, key, value string) error {
	return setPreference(ctx, t.handle(), key, value)
}

func setPreference(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

func (d *DB) GetAllPreferences(ctx context.Context) (map[string]string, error) {
	return getAllPreferences(ctx, d.handle())
}
func (t *Tx) GetAllPreferences(ctx context.Context) (map[string]string, error) {
	return getAllPreferences(ctx, t.handle())
}

func getAllPreferences(ctx context.Context, h dbHandle) (map[string]string, error) {
	rows, err := h.QueryContext(ctx, "SELECT key, value FROM preferences")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prefs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		prefs[key] = value
	}
	return prefs, rows.Err()
}
