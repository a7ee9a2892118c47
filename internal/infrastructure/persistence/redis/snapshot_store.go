package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
)

// SnapshotKey returns the key holding an account's snapshot.
func SnapshotKey(account string) string {
	return "eschool:snapshot:" + account
}

// SnapshotStore keeps one account's snapshot under SnapshotKey(account).
// SET replaces the value atomically.
type SnapshotStore struct {
	client redis.UniversalClient
	key    string
	codec  *codec.Codec
}

var (
	_ diary.SnapshotStore   = (*SnapshotStore)(nil)
	_ diary.SnapshotDeleter = (*SnapshotStore)(nil)
)

// NewSnapshotStore creates a store for the given account. A nil codec writes
// plain JSON.
func NewSnapshotStore(client redis.UniversalClient, account string, c *codec.Codec) *SnapshotStore {
	if c == nil {
		c = codec.New("")
	}
	return &SnapshotStore{
		client: client,
		key:    SnapshotKey(account),
		codec:  c,
	}
}

// Key returns the Redis key used by the store.
func (s *SnapshotStore) Key() string {
	return s.key
}

// Save implements diary.SnapshotStore. Snapshots never expire.
func (s *SnapshotStore) Save(ctx context.Context, snap *diary.Snapshot) error {
	data, err := s.codec.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Load implements diary.SnapshotStore.
func (s *SnapshotStore) Load(ctx context.Context) (*diary.Snapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, diary.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return s.codec.Unmarshal(data)
}

// Delete removes the stored snapshot.
func (s *SnapshotStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
