package services

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Lllllllleong/tlcdataflow/internal/collector"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthLoader_Process(t *testing.T) {
	f := newProvisionerFixture(t)
	f.provisionThrough(t, StepCreateTable)
	require.NoError(t, f.blobs.CreateContainer(context.Background(), "tlc-datax"))

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, tripCSV)
	}))
	defer source.Close()

	loader := newMonthLoader(collector.NewHTTPFetcher(nil), f.blobs, f.provisioner, MonthLoaderConfig{
		SourceBaseURL: source.URL + "/",
		Container:     "tlc-datax",
	})

	res, err := loader.Process(context.Background(), &models.MonthLoadRequest{Year: 2021, Month: 7})
	require.NoError(t, err)
	assert.Equal(t, &models.MonthLoadResponse{Status: "success", FileName: "2021-07.csv", SizeBytes: int64(len(tripCSV))}, res)

	blob, ok := f.blobs.blob("tlc-datax", "2021-07.csv")
	require.True(t, ok)
	assert.Equal(t, tripCSV, string(blob))
	table, _ := f.sqlServer.table(f.cfg.Database, "[dbo].[tlc_datax]")
	assert.Equal(t, 3, table.rows)
}

func TestMonthLoader_RejectsUnpublishedMonth(t *testing.T) {
	loader := newMonthLoader(collector.NewHTTPFetcher(nil), newFakeBlobStore(), nil, MonthLoaderConfig{SourceBaseURL: "http://unused/"})
	_, err := loader.Process(context.Background(), &models.MonthLoadRequest{Year: 2021, Month: 9})
	assert.Error(t, err)
}

func TestBlobLoader_Process(t *testing.T) {
	f := newProvisionerFixture(t)
	f.provisionThrough(t, StepCreateTable)
	f.stageBlob(t, "2021-07.csv", tripCSV)
	loader := newBlobLoader(f.provisioner, "tlc-datax")

	ctx := context.Background()
	require.NoError(t, loader.Process(ctx, models.BlobCreatedEvent{
		API: "PutBlob",
		URL: "https://tlcstorage.blob.core.windows.net/tlc-datax/2021-07.csv",
	}))
	table, _ := f.sqlServer.table(f.cfg.Database, "[dbo].[tlc_datax]")
	assert.Equal(t, 3, table.rows)

	require.NoError(t, loader.Process(ctx, models.BlobCreatedEvent{URL: "https://tlcstorage.blob.core.windows.net/other/2021-07.csv"}))
	require.NoError(t, loader.Process(ctx, models.BlobCreatedEvent{URL: "https://tlcstorage.blob.core.windows.net/tlc-datax/readme.txt"}))
	assert.Equal(t, 3, table.rows)
}

func TestSplitBlobURL(t *testing.T) {
	container, blob, err := splitBlobURL("https://acct.blob.core.windows.net/tlc-datax/2021/2021-07.csv")
	require.NoError(t, err)
	assert.Equal(t, "tlc-datax", container)
	assert.Equal(t, "2021/2021-07.csv", blob)

	_, _, err = splitBlobURL("https://acct.blob.core.windows.net/tlc-datax")
	assert.Error(t, err)
}
