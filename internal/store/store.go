// Package store provides the server's persistent ban list and settings,
// backed by an embedded SQLite database.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the
// schema up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — settings key/value store
	`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	// v2 — bans
	`CREATE TABLE IF NOT EXISTS bans (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		ip         TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		banned_by  TEXT NOT NULL DEFAULT '',
		duration_s INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
}

// Ban is one ban record. A zero DurationS means permanent.
type Ban struct {
	ID        int64  `json:"id"`
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	BannedBy  string `json:"banned_by"`
	DurationS int64  `json:"duration_s"`
	CreatedAt int64  `json:"created_at"`
}

// Store owns the database lifecycle and exposes the minimal API the server
// needs.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies pending
// migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}
	return nil
}

// GetSetting returns a setting value; ok is false when the key is absent.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting inserts or replaces a setting.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// AddBan records a ban and returns its ID.
func (s *Store) AddBan(ip, reason, bannedBy string, duration time.Duration) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO bans (ip, reason, banned_by, duration_s) VALUES (?, ?, ?, ?)`,
		ip, reason, bannedBy, int64(duration.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("add ban: %w", err)
	}
	return res.LastInsertId()
}

// RemoveBan deletes a ban by ID.
func (s *Store) RemoveBan(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM bans WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove ban %d: %w", id, err)
	}
	return nil
}

// ListBans returns all ban records, newest first.
func (s *Store) ListBans() ([]Ban, error) {
	rows, err := s.db.Query(
		`SELECT id, ip, reason, banned_by, duration_s, created_at FROM bans ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var b Ban
		if err := rows.Scan(&b.ID, &b.IP, &b.Reason, &b.BannedBy, &b.DurationS, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// IsBanned reports whether the address has an active ban. Expired bans do
// not count.
func (s *Store) IsBanned(ip netip.Addr) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM bans
		 WHERE ip = ? AND (duration_s = 0 OR created_at + duration_s > unixepoch())`,
		ip.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("ban lookup: %w", err)
	}
	return count > 0, nil
}
