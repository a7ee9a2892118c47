// Package account restores a saved diary session or establishes a new one.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/domain/shared"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOOTSTRAP COMMAND
// Restores the session and seen-item registries from the last snapshot, or
// logs in and saves a fresh snapshot when there is none.
// ══════════════════════════════════════════════════════════════════════════════

// BootstrapCommand contains the credentials used when no usable snapshot exists.
type BootstrapCommand struct {
	// Username is the diary login.
	Username string

	// PasswordDigest is the hex SHA-256 of the password.
	PasswordDigest string

	// ForceLogin discards any saved snapshot, registries included, and logs in.
	ForceLogin bool
}

// Validate validates the command for a fresh login.
func (c BootstrapCommand) Validate() error {
	if c.Username == "" || c.PasswordDigest == "" {
		return shared.WrapError("account", "Bootstrap", shared.ErrInvalidInput, "username and password are required", shared.ErrNoCredentials)
	}
	return nil
}

// BootstrapResult describes the established session.
type BootstrapResult struct {
	// Registries are the seen-item registries to hand to the poller.
	Registries *diary.Registries

	// Restored is true when the session came from a snapshot.
	Restored bool

	// UserID is the resolved diary user id.
	UserID string
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// SessionClient is the part of the diary client that owns the session.
type SessionClient interface {
	Authenticate(ctx context.Context, username, passwordDigest string) (string, error)
	RestoreSession(s diary.Session)
	Session() diary.Session
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// BootstrapHandler handles the BootstrapCommand.
type BootstrapHandler struct {
	client SessionClient
	store  diary.SnapshotStore
	logger *slog.Logger
}

// NewBootstrapHandler creates a new BootstrapHandler. A nil store disables
// restoring and saving.
func NewBootstrapHandler(client SessionClient, store diary.SnapshotStore, log *slog.Logger) *BootstrapHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BootstrapHandler{
		client: client,
		store:  store,
		logger: log.With(logger.Component("account")),
	}
}

// Handle executes the bootstrap command.
func (h *BootstrapHandler) Handle(ctx context.Context, cmd BootstrapCommand) (*BootstrapResult, error) {
	if cmd.ForceLogin {
		h.discard(ctx)
	} else {
		result, err := h.restore(ctx, cmd)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}

	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	userID, err := h.client.Authenticate(ctx, cmd.Username, cmd.PasswordDigest)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: login: %w", err)
	}

	regs := diary.NewRegistries()
	if err := h.Save(ctx, regs); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	h.logger.Info("logged in", logger.Username(cmd.Username), "user_id", userID)

	return &BootstrapResult{Registries: regs, UserID: userID}, nil
}

// discard drops the saved snapshot when the store supports it. The fresh
// login saves over it anyway, so a failure is only logged.
func (h *BootstrapHandler) discard(ctx context.Context) {
	d, ok := h.store.(diary.SnapshotDeleter)
	if !ok {
		return
	}
	if err := d.Delete(ctx); err != nil {
		h.logger.Warn("failed to discard saved snapshot", logger.Err(err))
		return
	}
	h.logger.Info("saved snapshot discarded, forcing login")
}

// restore returns nil, nil when there is no usable snapshot.
func (h *BootstrapHandler) restore(ctx context.Context, cmd BootstrapCommand) (*BootstrapResult, error) {
	if h.store == nil {
		return nil, nil
	}

	snap, err := h.store.Load(ctx)
	if errors.Is(err, diary.ErrSnapshotNotFound) {
		h.logger.Info("no saved session")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load snapshot: %w", err)
	}

	session := snap.Session
	if session.UserID == "" {
		session.UserID = snap.UserID
	}

	if cmd.Username != "" && session.Username != "" && session.Username != cmd.Username {
		h.logger.Warn("saved session belongs to another account, ignoring it",
			"saved_username", session.Username,
			logger.Username(cmd.Username),
		)
		return nil, nil
	}

	// Older snapshots carry no credentials; re-login after expiry needs them.
	if !session.HasCredentials() && cmd.Username != "" {
		session.Username = cmd.Username
		session.PasswordDigest = cmd.PasswordDigest
	}

	h.client.RestoreSession(session)

	h.logger.Info("session restored",
		logger.Username(session.Username),
		"user_id", session.UserID,
		"snapshot_version", snap.Version,
	)

	return &BootstrapResult{
		Registries: diary.RegistriesFromSnapshot(snap),
		Restored:   true,
		UserID:     session.UserID,
	}, nil
}

// Save writes the client's session and the registries to the store.
func (h *BootstrapHandler) Save(ctx context.Context, regs *diary.Registries) error {
	if h.store == nil {
		return nil
	}
	if err := h.store.Save(ctx, diary.NewSnapshot(h.client.Session(), regs)); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
