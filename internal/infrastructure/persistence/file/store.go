// Package file stores snapshots in a single local file.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
)

// DefaultPath is the snapshot file name used when none is configured.
const DefaultPath = "eschool_account"

// Store is a diary.SnapshotStore backed by one file. Writes go to a
// temporary file in the same directory which is then renamed over the
// target, so readers never see a partial snapshot.
type Store struct {
	path  string
	codec *codec.Codec
	mu    sync.Mutex
}

var (
	_ diary.SnapshotStore   = (*Store)(nil)
	_ diary.SnapshotDeleter = (*Store)(nil)
)

// NewStore creates a file store. A nil codec writes plain JSON.
func NewStore(path string, c *codec.Codec) *Store {
	if path == "" {
		path = DefaultPath
	}
	if c == nil {
		c = codec.New("")
	}
	return &Store{path: path, codec: c}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Save writes the snapshot atomically with mode 0600.
func (s *Store) Save(ctx context.Context, snap *diary.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := s.codec.Marshal(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Delete removes the snapshot file.
func (s *Store) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot file.
func (s *Store) Load(ctx context.Context) (*diary.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, diary.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	return s.codec.Unmarshal(data)
}
