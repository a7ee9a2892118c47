package diary

import (
	"context"
	"time"

	"github.com/eschool-hub/eschool-watcher/internal/domain/shared"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 2

// ErrSnapshotNotFound is returned by SnapshotStore.Load when nothing was saved yet.
var ErrSnapshotNotFound = shared.NewDomainError("snapshot", "Load", shared.ErrNotFound, "snapshot not found")

// Session is the credential and session state of a client.
type Session struct {
	Username       string            `json:"username"`
	PasswordDigest string            `json:"password_digest"`
	Period         string            `json:"period"`
	UserID         string            `json:"user_id"`
	Cookies        map[string]string `json:"cookies"`
}

// HasCredentials reports whether the session can log in again by itself.
func (s Session) HasCredentials() bool {
	return s.Username != "" && s.PasswordDigest != ""
}

// Snapshot is the complete persisted state needed to resume polling
// without re-authentication or re-delivery.
type Snapshot struct {
	Version   int       `json:"version"`
	Session   Session   `json:"session"`
	Homeworks []string  `json:"homeworks"`
	Messages  []string  `json:"messages"`
	Marks     []string  `json:"marks"`
	UserID    string    `json:"user_id"`
	SavedAt   time.Time `json:"saved_at"`
}

// NewSnapshot captures the session and the registries.
func NewSnapshot(session Session, regs *Registries) *Snapshot {
	s := &Snapshot{
		Version: SnapshotVersion,
		Session: session,
		UserID:  session.UserID,
		SavedAt: time.Now().UTC(),
	}
	if regs != nil {
		s.Homeworks = regs.Homeworks.IDs()
		s.Messages = regs.Messages.IDs()
		s.Marks = regs.Marks.IDs()
	}
	return s
}

// SnapshotStore persists snapshots. Implementations live in
// infrastructure/persistence.
type SnapshotStore interface {
	// Save writes the snapshot, replacing the previous one atomically.
	Save(ctx context.Context, s *Snapshot) error

	// Load reads the last saved snapshot.
	// Returns ErrSnapshotNotFound if none exists.
	Load(ctx context.Context) (*Snapshot, error)
}

// SnapshotDeleter is implemented by stores that can drop the saved snapshot.
// Deleting a missing snapshot is not an error.
type SnapshotDeleter interface {
	Delete(ctx context.Context) error
}
