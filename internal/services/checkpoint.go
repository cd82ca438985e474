package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Checkpointer records the progress of a run.
type Checkpointer interface {
	Start(ctx context.Context, runID string) error
	CompletedSteps(ctx context.Context, runID string) (map[string]bool, error)
	MarkDone(ctx context.Context, runID, step string) error
	MarkFailed(ctx context.Context, runID, step string, cause error) error
	MarkCompleted(ctx context.Context, runID string) error
}

// FirestoreCheckpointer keeps one RunRecord document per run.
type FirestoreCheckpointer struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreCheckpointer(client *firestore.Client, collection string) *FirestoreCheckpointer {
	return &FirestoreCheckpointer{client: client, collection: collection}
}

func (c *FirestoreCheckpointer) doc(runID string) *firestore.DocumentRef {
	return c.client.Collection(c.collection).Doc(runID)
}

// Start creates the run document with its creation time, or marks an existing run
// as running again when it is resumed.
func (c *FirestoreCheckpointer) Start(ctx context.Context, runID string) error {
	_, err := c.doc(runID).Create(ctx, map[string]interface{}{
		"runId":          runID,
		"status":         models.RunStatusRunning,
		"completedSteps": []string{},
		"createdAt":      firestore.ServerTimestamp,
		"updatedAt":      firestore.ServerTimestamp,
	})
	if status.Code(err) == codes.AlreadyExists {
		_, err = c.doc(runID).Set(ctx, map[string]interface{}{
			"status":    models.RunStatusRunning,
			"updatedAt": firestore.ServerTimestamp,
		}, firestore.MergeAll)
	}
	if err != nil {
		return fmt.Errorf("failed to start run %s: %w", runID, err)
	}
	return nil
}

func (c *FirestoreCheckpointer) CompletedSteps(ctx context.Context, runID string) (map[string]bool, error) {
	snap, err := c.doc(runID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var record models.RunRecord
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	done := make(map[string]bool, len(record.CompletedSteps))
	for _, step := range record.CompletedSteps {
		done[step] = true
	}
	return done, nil
}

func (c *FirestoreCheckpointer) MarkDone(ctx context.Context, runID, step string) error {
	_, err := c.doc(runID).Set(ctx, map[string]interface{}{
		"runId":          runID,
		"status":         models.RunStatusRunning,
		"completedSteps": firestore.ArrayUnion(step),
		"updatedAt":      firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to checkpoint step %s of run %s: %w", step, runID, err)
	}
	return nil
}

func (c *FirestoreCheckpointer) MarkFailed(ctx context.Context, runID, step string, cause error) error {
	_, err := c.doc(runID).Set(ctx, map[string]interface{}{
		"runId":        runID,
		"status":       models.RunStatusFailed,
		"failedStep":   step,
		"errorDetails": cause.Error(),
		"updatedAt":    firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to record failure of run %s: %w", runID, err)
	}
	return nil
}

func (c *FirestoreCheckpointer) MarkCompleted(ctx context.Context, runID string) error {
	_, err := c.doc(runID).Set(ctx, map[string]interface{}{
		"runId":        runID,
		"status":       models.RunStatusCompleted,
		"failedStep":   firestore.Delete,
		"errorDetails": firestore.Delete,
		"updatedAt":    firestore.ServerTimestamp,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to mark run %s completed: %w", runID, err)
	}
	return nil
}

// RecentRuns lists the most recently updated runs.
func (c *FirestoreCheckpointer) RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	it := c.client.Collection(c.collection).OrderBy("updatedAt", firestore.Desc).Limit(limit).Documents(ctx)
	defer it.Stop()

	var runs []models.RunRecord
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		var record models.RunRecord
		if err := snap.DataTo(&record); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", snap.Ref.ID, err)
		}
		runs = append(runs, record)
	}
	return runs, nil
}

// MemoryCheckpointer keeps progress for the lifetime of the process only.
type MemoryCheckpointer struct {
	mu   sync.Mutex
	runs map[string]*models.RunRecord
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{runs: make(map[string]*models.RunRecord)}
}

func (c *MemoryCheckpointer) record(runID string) *models.RunRecord {
	record, ok := c.runs[runID]
	if !ok {
		record = &models.RunRecord{RunID: runID, CreatedAt: time.Now()}
		c.runs[runID] = record
	}
	record.UpdatedAt = time.Now()
	return record
}

func (c *MemoryCheckpointer) Start(_ context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(runID).Status = models.RunStatusRunning
	return nil
}

func (c *MemoryCheckpointer) CompletedSteps(_ context.Context, runID string) (map[string]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := map[string]bool{}
	if record, ok := c.runs[runID]; ok {
		for _, step := range record.CompletedSteps {
			done[step] = true
		}
	}
	return done, nil
}

func (c *MemoryCheckpointer) MarkDone(_ context.Context, runID, step string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	record := c.record(runID)
	record.Status = models.RunStatusRunning
	for _, existing := range record.CompletedSteps {
		if existing == step {
			return nil
		}
	}
	record.CompletedSteps = append(record.CompletedSteps, step)
	return nil
}

func (c *MemoryCheckpointer) MarkFailed(_ context.Context, runID, step string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	record := c.record(runID)
	record.Status = models.RunStatusFailed
	record.FailedStep = step
	record.ErrorDetails = cause.Error()
	return nil
}

func (c *MemoryCheckpointer) MarkCompleted(_ context.Context, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	record := c.record(runID)
	record.Status = models.RunStatusCompleted
	record.FailedStep = ""
	record.ErrorDetails = ""
	return nil
}

// Run returns a copy of the stored record.
func (c *MemoryCheckpointer) Run(runID string) (models.RunRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.runs[runID]
	if !ok {
		return models.RunRecord{}, false
	}
	out := *record
	out.CompletedSteps = append([]string(nil), record.CompletedSteps...)
	return out, true
}
