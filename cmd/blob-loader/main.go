package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
	"github.com/Lllllllleong/tlcdataflow/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

const blobCreatedType = "Microsoft.Storage.BlobCreated"

var (
	loaderInstance *services.BlobLoaderFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Event Grid delivers BlobCreated events here in the CloudEvents schema.
	functions.CloudEvent("LoadCreatedBlob", loadCreatedBlob)
}

// main is required by the Go Functions Framework.
func main() {}

func loadCreatedBlob(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		loaderInstance, initErr = services.NewBlobLoader(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	if e.Type() != blobCreatedType {
		slog.Info("SKIPPING: unsupported event type.", "type", e.Type(), "id", e.ID())
		return nil
	}

	var blobEvent models.BlobCreatedEvent
	if err := e.DataAs(&blobEvent); err != nil {
		slog.Error("Failed to decode event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("event.DataAs: %w", err)
	}

	if err := loaderInstance.Process(ctx, blobEvent); err != nil {
		slog.Error("Failed to load blob", "error", err, "url", blobEvent.URL, "eventId", e.ID())
		return err
	}
	return nil
}
