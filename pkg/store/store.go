// Package store provides persistence for the client's remembered profile.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/randchat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// Store is the SQLite-backed ProfileStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) a SQLite database and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set WAL: %w", err)
	}
	// GUI and terminal clients may share the file.
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS profile (
		slot     INTEGER PRIMARY KEY CHECK(slot = 1),
		username TEXT    NOT NULL CHECK(length(username) > 0),
		interest TEXT    NOT NULL DEFAULT 'Any',
		saved_at TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			// Pre-release files stored interests in lower case.
			version: 2,
			statements: []string{
				"UPDATE profile SET interest = upper(substr(interest, 1, 1)) || substr(interest, 2)",
			},
			ignoreErrors: true,
		},
		{
			// Drop the old 32 character limit on usernames.
			version: 3,
			statements: []string{
				`CREATE TABLE profile_v3 (
					slot     INTEGER PRIMARY KEY CHECK(slot = 1),
					username TEXT    NOT NULL CHECK(length(username) > 0),
					interest TEXT    NOT NULL DEFAULT 'Any',
					saved_at TEXT    NOT NULL DEFAULT (datetime('now'))
				)`,
				"INSERT INTO profile_v3 (slot, username, interest, saved_at) SELECT slot, username, interest, saved_at FROM profile",
				"DROP TABLE profile",
				"ALTER TABLE profile_v3 RENAME TO profile",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("store: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("store: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *Store) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("store: read schema version: %w", err)
	}
	return version, nil
}

func (s *Store) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("store: update schema version: %w", err)
	}
	return nil
}

func (s *Store) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// SaveProfile upserts the single profile row.
func (s *Store) SaveProfile(id model.Identity) error {
	if err := validateIdentity(id); err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO profile (slot, username, interest, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			username = excluded.username,
			interest = excluded.interest,
			saved_at = excluded.saved_at`,
		id.Username, string(id.Interest), formatDBTime(s.now()))
	if err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	return nil
}

// LoadProfile returns the stored profile, or (nil, nil) if there is none.
func (s *Store) LoadProfile() (*Profile, error) {
	var (
		p        Profile
		interest string
		savedAt  string
	)
	err := s.db.QueryRowContext(context.Background(), "SELECT username, interest, saved_at FROM profile WHERE slot = 1").
		Scan(&p.Username, &interest, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load profile: %w", err)
	}

	p.Interest, err = model.ParseInterest(interest)
	if err != nil {
		// A stale interest only loses the filter, not the username.
		p.Interest = model.InterestAny
	}
	if p.SavedAt, err = parseDBTime(savedAt); err != nil {
		return nil, fmt.Errorf("store: load profile: parse saved_at: %w", err)
	}
	return &p, nil
}

// Clear deletes the profile row.
func (s *Store) Clear() error {
	if _, err := s.db.ExecContext(context.Background(), "DELETE FROM profile"); err != nil {
		return fmt.Errorf("store: clear profile: %w", err)
	}
	return nil
}
