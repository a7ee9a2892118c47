package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
)

// rowQuerier is the subset of Querier the snapshot repository needs.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SnapshotRepository implements diary.SnapshotStore with one row per account
// in eschool_snapshots.
type SnapshotRepository struct {
	db      rowQuerier
	account string
	codec   *codec.Codec
}

var (
	_ diary.SnapshotStore   = (*SnapshotRepository)(nil)
	_ diary.SnapshotDeleter = (*SnapshotRepository)(nil)
)

// NewSnapshotRepository creates a new SnapshotRepository. A nil codec writes
// plain JSON.
func NewSnapshotRepository(db rowQuerier, account string, c *codec.Codec) *SnapshotRepository {
	if c == nil {
		c = codec.New("")
	}
	return &SnapshotRepository{db: db, account: account, codec: c}
}

// Save upserts the account's snapshot.
func (r *SnapshotRepository) Save(ctx context.Context, snap *diary.Snapshot) error {
	payload, err := r.codec.Marshal(snap)
	if err != nil {
		return err
	}

	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO eschool_snapshots (account, payload, sealed, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account) DO UPDATE
		SET payload = EXCLUDED.payload, sealed = EXCLUDED.sealed, saved_at = EXCLUDED.saved_at
	`
	if _, err := r.db.Exec(ctx, query, r.account, payload, r.codec.Sealed(), savedAt); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load reads the account's snapshot.
func (r *SnapshotRepository) Load(ctx context.Context) (*diary.Snapshot, error) {
	query := `SELECT payload FROM eschool_snapshots WHERE account = $1`

	var payload []byte
	if err := r.db.QueryRow(ctx, query, r.account).Scan(&payload); err != nil {
		if IsNoRows(err) {
			return nil, diary.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	return r.codec.Unmarshal(payload)
}

// Delete removes the account's snapshot.
func (r *SnapshotRepository) Delete(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM eschool_snapshots WHERE account = $1`, r.account); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
