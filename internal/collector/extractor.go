// Package collector builds the list of monthly source files and downloads them.
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// Extractor downloads remote files into a local directory.
type Extractor struct {
	fetcher Fetcher
	dataDir string
}

func NewExtractor(fetcher Fetcher, dataDir string) *Extractor {
	return &Extractor{fetcher: fetcher, dataDir: dataDir}
}

// Path returns where a file of the given name is stored locally.
func (e *Extractor) Path(fileName string) string {
	return filepath.Join(e.dataDir, fileName)
}

// Extract streams url into <dataDir>/<fileName>, replacing any previous copy, and
// returns the number of bytes written. A failed download leaves no file behind.
func (e *Extractor) Extract(ctx context.Context, url, fileName string) (int64, error) {
	logCtx := slog.With("url", url, "fileName", fileName)
	logCtx.Info("Sending a request for source file.")

	body, err := e.fetcher.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	destPath := e.Path(fileName)
	localFile, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create local file at %s: %w", destPath, err)
	}
	logCtx.Info("Saving contents.", "path", destPath)

	if _, err := io.Copy(localFile, body); err != nil {
		localFile.Close()
		os.Remove(destPath)
		return 0, fmt.Errorf("failed to copy %s to local file: %w", url, err)
	}
	if err := localFile.Close(); err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("failed to finalize local file %s: %w", destPath, err)
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", destPath, err)
	}
	logCtx.Info("File saved.", "size", humanize.Bytes(uint64(info.Size())))
	return info.Size(), nil
}
