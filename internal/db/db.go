package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Connect opens the per-device store and applies pending migrations.
// Path is a sqlite file; ":memory:" is accepted for tests.
func Connect(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	database, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	// sqlite allows a single writer; serialize access at the pool level.
	database.SetMaxOpenConns(1)

	if err := runMigrations(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return database, nil
}

// Migration steps are append-only: the statement behind a released version
// never changes, so an older store can always be upgraded in place.
var migrations = []struct {
	version int
	stmt    string
}{
	{1, `CREATE TABLE IF NOT EXISTS outbox (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT NOT NULL UNIQUE,
        kind TEXT NOT NULL,
        target_id TEXT NOT NULL,
        body TEXT NOT NULL,
        attachment_ref TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'pending',
        attempts INTEGER NOT NULL DEFAULT 0,
        last_error TEXT NOT NULL DEFAULT '',
        enqueued_at TIMESTAMP NOT NULL,
        next_attempt_at TIMESTAMP NOT NULL
    );`},
	{2, `CREATE INDEX IF NOT EXISTS idx_outbox_status_target ON outbox(status, kind, target_id);`},
	{3, `CREATE TABLE IF NOT EXISTS badge_snapshot (
        id INTEGER PRIMARY KEY CHECK (id = 1),
        direct_count INTEGER NOT NULL DEFAULT 0,
        group_count INTEGER NOT NULL DEFAULT 0,
        seq INTEGER NOT NULL DEFAULT 0,
        updated_at TIMESTAMP NOT NULL
    );`},
	{4, `CREATE TABLE IF NOT EXISTS profiles (
        user_id TEXT PRIMARY KEY,
        username TEXT NOT NULL,
        avatar_url TEXT NOT NULL DEFAULT '',
        fetched_at TIMESTAMP NOT NULL
    );`},
}

func runMigrations(database *sqlx.DB) error {
	if _, err := database.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version INTEGER PRIMARY KEY,
        applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
    );`); err != nil {
		return err
	}

	var current int
	if err := database.Get(&current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := database.Beginx()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied++
	}

	if applied > 0 {
		log.Info().Int("applied", applied).Int("schema_version", migrations[len(migrations)-1].version).Msg("store migrations applied")
	}
	return nil
}
