package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// BlobStore is the slice of the object store the pipeline needs.
type BlobStore interface {
	ContainerURL(container string) string
	CreateContainer(ctx context.Context, name string) error
	UploadFile(ctx context.Context, container, blobName string, file *os.File) error
}

// StorageProvisioner creates the landing container and uploads downloaded files into it.
type StorageProvisioner struct {
	store   BlobStore
	dataDir string
}

func NewStorageProvisioner(store BlobStore, dataDir string) *StorageProvisioner {
	return &StorageProvisioner{store: store, dataDir: dataDir}
}

// CreateContainer fails if the container already exists.
func (p *StorageProvisioner) CreateContainer(ctx context.Context, name string) error {
	slog.Info("Creating a new container.", "container", name)
	if err := p.store.CreateContainer(ctx, name); err != nil {
		return err
	}
	slog.Info("Container created successfully.", "container", name)
	return nil
}

// UploadFile uploads <dataDir>/<fileName> as a blob of the same name.
func (p *StorageProvisioner) UploadFile(ctx context.Context, container, fileName string) error {
	logCtx := slog.With("container", container, "blob", fileName)
	localPath := filepath.Join(p.dataDir, fileName)

	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", localPath, err)
	}
	defer file.Close()

	logCtx.Info("Uploading to Azure Storage as blob.")
	if err := p.store.UploadFile(ctx, container, fileName, file); err != nil {
		return err
	}
	logCtx.Info("Upload complete.")
	return nil
}

// ContainerURL is the https location of a container, as referenced by the
// external data source.
func (p *StorageProvisioner) ContainerURL(container string) string {
	return p.store.ContainerURL(container)
}
