// Package settings reads and writes user preferences in the cabplanner
// database. Update scheduling lives here: whether automatic checks run,
// how often, and when the last one happened.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/bmruszaj/cabplanner/pkg/logger"
)

// Setting keys used by the updater.
const (
	KeyAutoUpdateEnabled   = "auto_update_enabled"
	KeyAutoUpdateFrequency = "auto_update_frequency"
	KeyLastUpdateCheck     = "last_update_check"
)

// Frequency values for KeyAutoUpdateFrequency.
const (
	FreqOnLaunch = "on_launch"
	FreqDaily    = "daily"
	FreqWeekly   = "weekly"
	FreqMonthly  = "monthly"
	FreqNever    = "never"
)

// Store persists typed key/value settings in the application database.
type Store struct {
	dsn string
	log *logger.Logger
}

// NewStore creates a store over the database at dbPath. The settings
// table is created on first use when missing.
func NewStore(dbPath string) *Store {
	return &Store{
		dsn: buildDSN(dbPath),
		log: logger.NewLogger("settings"),
	}
}

func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", "3000")
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Store) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping settings db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			value_type TEXT NOT NULL DEFAULT 'str'
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure settings table: %w", err)
	}
	return db, nil
}

func (s *Store) getRaw(ctx context.Context, key string) (value, valueType string, err error) {
	db, err := s.openDB(ctx)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = db.Close() }()

	row := db.QueryRowContext(ctx,
		`SELECT value, value_type FROM settings WHERE key = ?`, key)
	if err := row.Scan(&value, &valueType); err != nil {
		return "", "", err
	}
	return value, valueType, nil
}

func (s *Store) setRaw(ctx context.Context, key, value, valueType string) error {
	db, err := s.openDB(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(ctx, `
		INSERT INTO settings (key, value, value_type) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, value_type = excluded.value_type
	`, key, value, valueType)
	if err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	return nil
}

// LookupString returns the stored value for key; ok reports presence.
// Read failures propagate so callers can fail closed instead of assuming
// a default.
func (s *Store) LookupString(ctx context.Context, key string) (string, bool, error) {
	value, _, err := s.getRaw(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// LookupBool is LookupString for boolean settings. A malformed stored
// value counts as absent.
func (s *Store) LookupBool(ctx context.Context, key string) (bool, bool, error) {
	value, ok, err := s.LookupString(ctx, key)
	if err != nil || !ok {
		return false, ok, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		s.log.Warnf("Invalid boolean in setting %s: %q", key, value)
		return false, false, nil
	}
	return b, true, nil
}

// GetString returns the setting value for key, or def when absent or
// unreadable.
func (s *Store) GetString(ctx context.Context, key, def string) string {
	value, _, err := s.getRaw(ctx, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warnf("Could not read setting %s: %v", key, err)
		}
		return def
	}
	return value
}

// GetBool returns the boolean setting for key, or def when absent.
func (s *Store) GetBool(ctx context.Context, key string, def bool) bool {
	value, _, err := s.getRaw(ctx, key)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warnf("Could not read setting %s: %v", key, err)
		}
		return def
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return b
}

// GetTime returns the RFC3339 timestamp stored under key; ok is false
// when the setting is absent or malformed.
func (s *Store) GetTime(ctx context.Context, key string) (time.Time, bool) {
	value, _, err := s.getRaw(ctx, key)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		s.log.Warnf("Invalid timestamp in setting %s: %q", key, value)
		return time.Time{}, false
	}
	return t, true
}

// SetString stores a string setting.
func (s *Store) SetString(ctx context.Context, key, value string) error {
	return s.setRaw(ctx, key, value, "str")
}

// SetBool stores a boolean setting.
func (s *Store) SetBool(ctx context.Context, key string, value bool) error {
	return s.setRaw(ctx, key, strconv.FormatBool(value), "bool")
}

// SetTime stores a timestamp setting in RFC3339.
func (s *Store) SetTime(ctx context.Context, key string, value time.Time) error {
	return s.setRaw(ctx, key, value.UTC().Format(time.RFC3339), "str")
}
