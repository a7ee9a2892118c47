package file

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/internal/infrastructure/persistence/codec"
)

func snapshotWith(homeworks ...string) *diary.Snapshot {
	regs := diary.NewRegistries()
	regs.Homeworks.Baseline(homeworks)
	regs.Marks.Baseline(nil)
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

func TestStore_LoadMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"), nil)

	_, err := s.Load(context.Background())

	assert.ErrorIs(t, err, diary.ErrSnapshotNotFound)
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	s := NewStore(path, nil)
	in := snapshotWith("900", "901")

	require.NoError(t, s.Save(context.Background(), in))

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	regs := diary.RegistriesFromSnapshot(out)
	assert.True(t, regs.Homeworks.Contains("901"))
	assert.True(t, regs.Marks.Populated())
	assert.False(t, regs.Messages.Populated())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_SealedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap")
	s := NewStore(path, codec.New("hunter2"))

	require.NoError(t, s.Save(context.Background(), snapshotWith("1")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "JSESSIONID")

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, out.Homeworks)
}

func TestStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(filepath.Join(dir, "snap"), nil)

	require.NoError(t, s.Save(context.Background(), snapshotWith("1")))
	require.NoError(t, s.Save(context.Background(), snapshotWith("1", "2")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, out.Homeworks)
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "snap"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Save(context.Background(), snapshotWith("a", "b")))
		}()
	}
	wg.Wait()

	out, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Homeworks)
}

func TestStore_ReadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(`[{"JSESSIONID":"x"},[1,2],[3],null,77]`), 0o600))

	out, err := NewStore(path, nil).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, out.Homeworks)
	assert.Equal(t, []string{"3"}, out.Messages)
	assert.Nil(t, out.Marks)
	assert.Equal(t, "77", out.UserID)
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewStore(filepath.Join(t.TempDir(), "snap"), nil).Save(ctx, snapshotWith())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "eschool_account"), codec.New(""))
	ctx := context.Background()

	require.NoError(t, store.Delete(ctx), "missing file")
	require.NoError(t, store.Save(ctx, snapshotWith("1")))
	require.NoError(t, store.Delete(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, diary.ErrSnapshotNotFound)
}
