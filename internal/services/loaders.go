package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Lllllllleong/tlcdataflow/internal/azure"
	"github.com/Lllllllleong/tlcdataflow/internal/collector"
	"github.com/Lllllllleong/tlcdataflow/internal/config"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
	"github.com/Lllllllleong/tlcdataflow/internal/sqlserver"
)

// NewLoaderDatabase builds a provisioner that is only used for bulk loads into an
// already provisioned database.
func NewLoaderDatabase(cfg *config.Config) *DatabaseProvisioner {
	sqlClient := sqlserver.NewClient(sqlserver.Options{
		Host:         sqlserver.HostForServer(cfg.Target.Server),
		Port:         cfg.SQL.Port,
		User:         cfg.SQL.AdminLogin,
		Password:     cfg.SQL.AdminPassword,
		ReadyTimeout: cfg.SQL.ReadyTimeout,
	})
	return NewDatabaseProvisioner(nil, sqlClient, DatabaseConfig{
		Server:         cfg.Target.Server,
		Database:       cfg.Target.Database,
		DataSourceName: cfg.Security.DataSourceName,
		Table:          cfg.Target.Table,
	})
}

// MonthLoaderConfig holds configuration for the month-loader function.
type MonthLoaderConfig struct {
	SourceBaseURL string
	Container     string
}

// MonthLoaderFunction extracts, uploads and loads a single month on request.
type MonthLoaderFunction struct {
	fetcher  collector.Fetcher
	store    BlobStore
	database *DatabaseProvisioner
	config   MonthLoaderConfig
}

// NewMonthLoader creates a new MonthLoaderFunction from the environment.
func NewMonthLoader(ctx context.Context) (*MonthLoaderFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateLoading(); err != nil {
		return nil, err
	}

	store, err := azure.NewBlobStore(cfg.Storage.ConnectionString, cfg.Storage.Overwrite)
	if err != nil {
		return nil, err
	}
	// The function instance lives as long as the process, so the GCS client is
	// never closed.
	fetcher, _, err := NewSourceFetcher(ctx, cfg.Source.BaseURL)
	if err != nil {
		return nil, err
	}

	f := newMonthLoader(fetcher, store, NewLoaderDatabase(cfg), MonthLoaderConfig{
		SourceBaseURL: cfg.Source.BaseURL,
		Container:     cfg.Storage.Container,
	})
	slog.Info("Month loader initialized.", "container", cfg.Storage.Container, "table", cfg.Target.Table)
	return f, nil
}

func newMonthLoader(fetcher collector.Fetcher, store BlobStore, database *DatabaseProvisioner, config MonthLoaderConfig) *MonthLoaderFunction {
	return &MonthLoaderFunction{fetcher: fetcher, store: store, database: database, config: config}
}

// Process downloads the requested month into a scratch directory, uploads it and
// bulk loads it.
func (f *MonthLoaderFunction) Process(ctx context.Context, req *models.MonthLoadRequest) (*models.MonthLoadResponse, error) {
	logCtx := slog.With("year", req.Year, "month", req.Month)

	ref, err := collector.SourceFor(f.config.SourceBaseURL, req.Year, req.Month)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.With("fileName", ref.FileName)

	tempDir, err := os.MkdirTemp("", "month-loader-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	size, err := collector.NewExtractor(f.fetcher, tempDir).Extract(ctx, ref.URL, ref.FileName)
	if err != nil {
		logCtx.Error("Failed to extract source file", "error", err)
		return nil, err
	}
	if err := NewStorageProvisioner(f.store, tempDir).UploadFile(ctx, f.config.Container, ref.FileName); err != nil {
		logCtx.Error("Failed to upload file", "error", err)
		return nil, err
	}
	if err := f.database.LoadCSV(ctx, ref.FileName); err != nil {
		logCtx.Error("Failed to bulk load file", "error", err)
		return nil, err
	}

	logCtx.Info("Month loaded.", "sizeBytes", size)
	return &models.MonthLoadResponse{Status: "success", FileName: ref.FileName, SizeBytes: size}, nil
}

// BlobLoaderFunction bulk loads blobs as they land in the container.
type BlobLoaderFunction struct {
	database  *DatabaseProvisioner
	container string
}

// NewBlobLoader creates a new BlobLoaderFunction from the environment.
func NewBlobLoader(ctx context.Context) (*BlobLoaderFunction, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateLoading(); err != nil {
		return nil, err
	}
	slog.Info("Blob loader initialized.", "container", cfg.Storage.Container, "table", cfg.Target.Table)
	return newBlobLoader(NewLoaderDatabase(cfg), cfg.Storage.Container), nil
}

func newBlobLoader(database *DatabaseProvisioner, container string) *BlobLoaderFunction {
	return &BlobLoaderFunction{database: database, container: container}
}

// Process loads the blob named by a BlobCreated event. Events for other containers
// and for non-CSV blobs are ignored.
func (f *BlobLoaderFunction) Process(ctx context.Context, event models.BlobCreatedEvent) error {
	container, blobName, err := splitBlobURL(event.URL)
	if err != nil {
		return err
	}
	logCtx := slog.With("container", container, "blob", blobName, "api", event.API)

	if container != f.container {
		logCtx.Info("SKIPPING: blob is not in the watched container.", "watched", f.container)
		return nil
	}
	if !strings.EqualFold(path.Ext(blobName), ".csv") {
		logCtx.Info("SKIPPING: blob is not a CSV file.")
		return nil
	}
	return f.database.LoadCSV(ctx, blobName)
}

// splitBlobURL turns https://<account>.blob.core.windows.net/<container>/<blob>
// into its container and blob name.
func splitBlobURL(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid blob url %q: %w", raw, err)
	}
	container, blobName, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || container == "" || blobName == "" {
		return "", "", fmt.Errorf("blob url %q must name a container and a blob", raw)
	}
	return container, blobName, nil
}
