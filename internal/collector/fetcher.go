package collector

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/go-resty/resty/v2"
)

// Fetcher opens a streaming read of a remote file.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPFetcher streams files over HTTP(S).
type HTTPFetcher struct {
	client *resty.Client
}

func NewHTTPFetcher(client *resty.Client) *HTTPFetcher {
	if client == nil {
		client = resty.New()
	}
	return &HTTPFetcher{client: client}
}

// Open issues a GET and hands back the unread body. Any non-2xx status is an error.
func (f *HTTPFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", url, err)
	}
	body := resp.RawBody()
	if !resp.IsSuccess() {
		if body != nil {
			body.Close()
		}
		return nil, fmt.Errorf("unexpected status fetching %s: %s", url, resp.Status())
	}
	return body, nil
}

// GCSFetcher streams files from gs://bucket/object mirrors.
type GCSFetcher struct {
	client *storage.Client
}

func NewGCSFetcher(client *storage.Client) *GCSFetcher {
	return &GCSFetcher{client: client}
}

func (f *GCSFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, object, err := splitGCSURL(url)
	if err != nil {
		return nil, err
	}
	reader, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	return reader, nil
}

func splitGCSURL(url string) (string, string, error) {
	path, ok := strings.CutPrefix(url, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// url: %s", url)
	}
	bucket, object, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// url must name a bucket and an object: %s", url)
	}
	return bucket, object, nil
}

// SchemeFetcher routes gs:// urls to the GCS fetcher and everything else to HTTP.
type SchemeFetcher struct {
	HTTP Fetcher
	GCS  Fetcher
}

func (f *SchemeFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if strings.HasPrefix(url, "gs://") {
		if f.GCS == nil {
			return nil, fmt.Errorf("no GCS fetcher configured for %s", url)
		}
		return f.GCS.Open(ctx, url)
	}
	return f.HTTP.Open(ctx, url)
}
