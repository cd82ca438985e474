package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
	"github.com/Lllllllleong/tlcdataflow/internal/services"
)

var (
	loaderInstance *services.MonthLoaderFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleLoadMonth", handleLoadMonth)
}

// main is required by the Go Functions Framework.
func main() {}

// handleLoadMonth extracts, uploads and bulk loads the month named in the request body.
func handleLoadMonth(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		loaderInstance, initErr = services.NewMonthLoader(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: MonthLoader initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.MonthLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := loaderInstance.Process(r.Context(), &req)
	if err != nil {
		// Already logged inside Process.
		http.Error(w, "Internal Server Error: processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "fileName", res.FileName)
	}
}
