// Package attachments saves homework attachments to a local directory.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/eschool-hub/eschool-watcher/internal/domain/diary"
	"github.com/eschool-hub/eschool-watcher/pkg/circuitbreaker"
	"github.com/eschool-hub/eschool-watcher/pkg/logger"
)

// Fetcher downloads a file by id.
type Fetcher interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Downloader writes attachments to Dir/<homework id>/<file name>. Files
// that already exist are skipped, so a redelivered homework does not
// download twice.
type Downloader struct {
	fetcher Fetcher
	dir     string
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewDownloader creates a Downloader. A nil breaker gets the default
// attachment breaker.
func NewDownloader(fetcher Fetcher, dir string, breaker *circuitbreaker.CircuitBreaker, log *slog.Logger) *Downloader {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("attachments"))
	if breaker == nil {
		breaker = circuitbreaker.AttachmentBreaker(func(name string, from, to circuitbreaker.State) {
			log.Warn("download breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		})
	}
	return &Downloader{fetcher: fetcher, dir: dir, breaker: breaker, logger: log}
}

// Download saves every attachment of hw and returns the written paths.
// It stops at the first failure; paths written before it are returned too.
func (d *Downloader) Download(ctx context.Context, hw diary.Homework) ([]string, error) {
	if len(hw.Attachments) == 0 {
		return nil, nil
	}

	dir := filepath.Join(d.dir, sanitize(hw.ID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create attachment dir: %w", err)
	}

	var written []string
	for i, att := range hw.Attachments {
		name := sanitize(att.FileName)
		if name == "" {
			name = fmt.Sprintf("attachment-%d", i+1)
		}
		path := filepath.Join(dir, name)

		if _, err := os.Stat(path); err == nil {
			written = append(written, path)
			continue
		}

		err := d.breaker.Execute(ctx, func(ctx context.Context) error {
			content, err := d.fetcher.DownloadFile(ctx, att.FileID)
			if err != nil {
				return err
			}
			return writeFile(path, content)
		})
		if err != nil {
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				d.logger.Debug("downloads suspended", logger.ItemID(hw.ID))
			}
			return written, fmt.Errorf("attachment %s of homework %s: %w", att.FileID, hw.ID, err)
		}

		d.logger.Info("attachment saved", logger.ItemID(hw.ID), "path", path, "file_id", att.FileID)
		written = append(written, path)
	}
	return written, nil
}

// writeFile writes via a temp file so a crash never leaves a partial attachment.
func writeFile(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// sanitize keeps a file name inside its directory.
func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return name
}
