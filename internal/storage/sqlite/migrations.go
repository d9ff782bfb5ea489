package sqlite

const schema = `
-- Last settings record confirmed by the remote API
CREATE TABLE IF NOT EXISTS settings_cache (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    record TEXT NOT NULL,
    cached_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Server catalog snapshot
CREATE TABLE IF NOT EXISTS servers (
    position INTEGER NOT NULL,
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    country TEXT,
    city TEXT,
    region TEXT,
    latency_ms INTEGER DEFAULT 0,
    load_pct INTEGER DEFAULT 0,
    premium BOOLEAN DEFAULT 0
);

-- Settled settings updates
CREATE TABLE IF NOT EXISTS update_journal (
    id TEXT PRIMARY KEY,
    fields TEXT NOT NULL,
    phase TEXT NOT NULL,
    error_kind TEXT,
    error TEXT,
    started_at TIMESTAMP NOT NULL,
    settled_at TIMESTAMP NOT NULL
);

-- Local preferences
CREATE TABLE IF NOT EXISTS preferences (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_servers_region ON servers(region);
CREATE INDEX IF NOT EXISTS idx_servers_position ON servers(position);
CREATE INDEX IF NOT EXISTS idx_update_journal_settled_at ON update_journal(settled_at);

CREATE TRIGGER IF NOT EXISTS update_preferences_timestamp AFTER UPDATE ON preferences
BEGIN
    UPDATE preferences SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

// runMigrations executes the database schema
func runMigrations(db *DB) error {
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}
	return nil
}
