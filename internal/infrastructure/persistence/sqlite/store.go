// Package sqlite keeps diary snapshots in a local SQLite database, one row
// per account. It suits hosts that run several watchers side by side.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
)

// DefaultPath is the database file used when none is configured.
const DefaultPath = "eschool_snapshots.db"

const schema = `
CREATE TABLE IF NOT EXISTS eschool_snapshots (
	account  TEXT PRIMARY KEY,
	payload  BLOB NOT NULL,
	saved_at DATETIME NOT NULL
);`

// Store implements diary.SnapshotStore on SQLite.
type Store struct {
	db      *sql.DB
	path    string
	account string
	codec   *codec.Codec
}

var (
	_ diary.SnapshotStore   = (*Store)(nil)
	_ diary.SnapshotDeleter = (*Store)(nil)
)

// Open creates or opens the database at path and ensures the schema.
func Open(ctx context.Context, path, account string, c *codec.Codec) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if c == nil {
		c = codec.New("")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; SQLite serialises anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path, account: account, codec: c}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Save upserts the account's snapshot.
func (s *Store) Save(ctx context.Context, snap *diary.Snapshot) error {
	payload, err := s.codec.Marshal(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO eschool_snapshots (account, payload, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		s.account, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot for %s: %w", s.account, err)
	}
	return nil
}

// Load reads the account's snapshot.
func (s *Store) Load(ctx context.Context) (*diary.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM eschool_snapshots WHERE account = ?`, s.account,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, diary.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", s.account, err)
	}
	return s.codec.Unmarshal(payload)
}

// Delete removes the account's snapshot.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM eschool_snapshots WHERE account = ?`, s.account); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", s.account, err)
	}
	return nil
}
