// Package database stores guild settings, voice statistics, sessions and
// unlocked achievements in a single SQLite file.
package database

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

type DB struct {
	db             *sqlx.DB
	defaultTimeout time.Duration
}

type Options struct {
	Path string
	// Timeout given to guilds that never changed their settings
	DefaultTimeout time.Duration
}

// Open opens (creating if needed) the database file and brings the
// schema up to date
func Open(opts Options) (*DB, error) {

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", opts.Path)
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", opts.Path, err)
	}
	// SQLite only allows one writer, keep a single connection around
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database %s: %w", opts.Path, err)
	}

	db := &DB{db: conn, defaultTimeout: opts.DefaultTimeout}
	if db.defaultTimeout <= 0 {
		db.defaultTimeout = 10 * time.Minute
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Ping checks the database is reachable
func (db *DB) Ping() error {
	return db.db.Ping()
}

// Each entry moves the schema one version forward. The index + 1 is the
// version stored in PRAGMA user_version once the entry has been applied
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS settings (
			guild_id TEXT PRIMARY KEY,
			afk_channel_id TEXT NOT NULL DEFAULT '',
			timeout_seconds INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			announce_channel_id TEXT NOT NULL DEFAULT '',
			exempt_user_ids TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stats (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			voice_seconds INTEGER NOT NULL DEFAULT 0,
			sessions INTEGER NOT NULL DEFAULT 0,
			longest_session_seconds INTEGER NOT NULL DEFAULT 0,
			afk_moves INTEGER NOT NULL DEFAULT 0,
			last_seen INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (guild_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL,
			duration_seconds INTEGER NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sessions_guild_ended ON sessions (guild_id, ended_at)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at INTEGER NOT NULL,
			PRIMARY KEY (guild_id, user_id, achievement_id)
		)`,
	},
	{
		`ALTER TABLE settings ADD COLUMN exempt_role_ids TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE stats ADD COLUMN messages INTEGER NOT NULL DEFAULT 0`,
	},
	{
		`ALTER TABLE settings ADD COLUMN notify_afk INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE settings ADD COLUMN notify_achievements INTEGER NOT NULL DEFAULT 1`,
	},
	{
		`ALTER TABLE settings ADD COLUMN guild_name TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE stats ADD COLUMN username TEXT NOT NULL DEFAULT ''`,
	},
}

func (db *DB) migrate() error {

	var version int
	if err := db.db.Get(&version, `PRAGMA user_version`); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.db.Beginx()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		for _, statement := range migrations[i] {
			if _, err := tx.Exec(statement); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: set version: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		log.Info().Int("version", i+1).Msg("Applied database migration")
	}
	return nil
}

// SchemaVersion returns the version the schema is at
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.db.Get(&version, `PRAGMA user_version`)
	return version, err
}
