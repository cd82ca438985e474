package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
)

// Handoff notifies downstream consumers that a run has loaded its files.
type Handoff interface {
	Notify(ctx context.Context, payload models.WorkflowHandoff) error
}

// WorkflowHandoff starts a Cloud Workflows execution with the run summary as its argument.
type WorkflowHandoff struct {
	client *executions.Client
	parent string
}

func NewWorkflowHandoff(client *executions.Client, projectID, location, workflowID string) *WorkflowHandoff {
	return &WorkflowHandoff{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

func (h *WorkflowHandoff) Notify(ctx context.Context, payload models.WorkflowHandoff) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := h.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: h.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Hand-off to workflow complete.", "workflow", h.parent, "execution", exec.GetName())
	return nil
}
