package azure

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// BlobStore wraps the storage account the CSV files are uploaded to.
type BlobStore struct {
	client    *azblob.Client
	overwrite bool
}

// NewBlobStore connects to the storage account named by the connection string.
// When overwrite is false uploads fail if the blob already exists.
func NewBlobStore(connectionString string, overwrite bool) (*BlobStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("a storage connection string must be provided")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &BlobStore{client: client, overwrite: overwrite}, nil
}

// URL is the blob endpoint of the account, with a trailing slash. A SAS token
// carried by the connection string is not part of it.
func (s *BlobStore) URL() string {
	endpoint, err := url.Parse(s.client.URL())
	if err != nil {
		return ""
	}
	endpoint.RawQuery = ""
	endpoint.Fragment = ""
	if !strings.HasSuffix(endpoint.Path, "/") {
		endpoint.Path += "/"
	}
	return endpoint.String()
}

// ContainerURL is the https location of a container, as referenced by an
// external data source.
func (s *BlobStore) ContainerURL(container string) string {
	endpoint, err := url.Parse(s.URL())
	if err != nil {
		return ""
	}
	return endpoint.JoinPath(container).String()
}

func (s *BlobStore) CreateContainer(ctx context.Context, name string) error {
	if _, err := s.client.CreateContainer(ctx, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("container %q: %w", name, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create container %q: %w", name, err)
	}
	return nil
}

// UploadFile sends the whole file as one block blob.
func (s *BlobStore) UploadFile(ctx context.Context, container, blobName string, file *os.File) error {
	var opts *azblob.UploadFileOptions
	if !s.overwrite {
		opts = &azblob.UploadFileOptions{
			AccessConditions: &blob.AccessConditions{
				ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
			},
		}
	}
	if _, err := s.client.UploadFile(ctx, container, blobName, file, opts); err != nil {
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists, bloberror.ConditionNotMet) {
			return fmt.Errorf("blob %s/%s: %w", container, blobName, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to upload blob %s/%s: %w", container, blobName, err)
	}
	return nil
}
