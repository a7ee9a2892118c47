package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
)

func openTestStore(t *testing.T, path, account string, c *codec.Codec) *Store {
	t.Helper()
	store, err := Open(context.Background(), path, account, c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSnapshot() *diary.Snapshot {
	regs := diary.NewRegistries()
	regs.Homeworks.Baseline([]string{})
	regs.Messages.Baseline([]string{"9001"})
	s := diary.NewSnapshot(diary.Session{
		Username:       "pupil",
		PasswordDigest: "digest",
		Period:         "145624",
		UserID:         "77",
		Cookies:        map[string]string{"JSESSIONID": "abc"},
	}, regs)
	s.SavedAt = time.Date(2024, 9, 2, 10, 0, 0, 0, time.UTC)
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "db", "snapshots.db"), "pupil", nil)
	ctx := context.Background()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, diary.ErrSnapshotNotFound)

	in := testSnapshot()
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// Unbaselined marks stay nil, baselined-empty homeworks stay empty.
	assert.Nil(t, out.Marks)
	assert.NotNil(t, out.Homeworks)
}

func TestStore_SaveReplaces(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "snapshots.db"), "pupil", nil)
	ctx := context.Background()

	first := testSnapshot()
	require.NoError(t, store.Save(ctx, first))

	second := testSnapshot()
	second.Marks = []string{"500"}
	require.NoError(t, store.Save(ctx, second))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"500"}, out.Marks)
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	store, err := Open(ctx, path, "pupil", codec.New("hunter2"))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, testSnapshot()))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, path, "pupil", codec.New("hunter2"))
	out, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", out.Session.Cookies["JSESSIONID"])
}

func TestStore_AccountsAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	ctx := context.Background()

	a := openTestStore(t, path, "a", nil)
	require.NoError(t, a.Save(ctx, testSnapshot()))

	b := openTestStore(t, path, "b", nil)
	_, err := b.Load(ctx)
	assert.ErrorIs(t, err, diary.ErrSnapshotNotFound)

	require.NoError(t, a.Delete(ctx))
	_, err = a.Load(ctx)
	assert.ErrorIs(t, err, diary.ErrSnapshotNotFound)
}
