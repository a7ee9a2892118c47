package attachments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/pkg/circuitbreaker"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

type fakeFetcher struct {
	files map[string]string
	calls int
	err   error
}

func (f *fakeFetcher) DownloadFile(_ context.Context, id string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.files[id]), nil
}

func homework() diary.Homework {
	return diary.Homework{
		ID: "501",
		Attachments: []diary.Attachment{
			{FileID: "f1", FileName: "task.pdf"},
			{FileID: "f2", FileName: "../../etc/passwd"},
			{FileID: "f3"},
		},
	}
}

func TestDownload_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{files: map[string]string{"f1": "pdf", "f2": "text", "f3": "blob"}}
	d := NewDownloader(fetcher, dir, nil, logger.Discard())

	paths, err := d.Download(context.Background(), homework())

	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "501", "task.pdf"),
		filepath.Join(dir, "501", "passwd"),
		filepath.Join(dir, "501", "attachment-3"),
	}, paths)

	content, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(content))
}

func TestDownload_SkipsExisting(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{files: map[string]string{"f1": "pdf", "f2": "text", "f3": "blob"}}
	d := NewDownloader(fetcher, dir, nil, logger.Discard())

	_, err := d.Download(context.Background(), homework())
	require.NoError(t, err)
	_, err = d.Download(context.Background(), homework())
	require.NoError(t, err)

	assert.Equal(t, 3, fetcher.calls)
}

func TestDownload_NoAttachments(t *testing.T) {
	dir := t.TempDir()
	d := NewDownloader(&fakeFetcher{}, dir, nil, logger.Discard())

	paths, err := d.Download(context.Background(), diary.Homework{ID: "1"})

	require.NoError(t, err)
	assert.Nil(t, paths)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestDownload_BreakerStopsFetching(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("boom")}
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1))
	d := NewDownloader(fetcher, t.TempDir(), breaker, logger.Discard())

	_, err := d.Download(context.Background(), homework())
	require.Error(t, err)

	_, err = d.Download(context.Background(), homework())

	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 1, fetcher.calls)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a.txt", sanitize("dir/a.txt"))
	assert.Equal(t, "b.txt", sanitize(`C:\docs\b.txt`))
	assert.Equal(t, "", sanitize(".."))
	assert.Equal(t, "", sanitize(""))
}
