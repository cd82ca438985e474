package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qmuntal/stateless"
)

const (
	triggerStepDone = "stepDone"
	stateFinished   = "finished"
)

// Step is one named unit of a run.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Sequencer runs steps strictly in order and checkpoints each success so a
// failed run can pick up after the last completed step.
type Sequencer struct {
	checkpoints Checkpointer
	runID       string
	resume      bool
}

func NewSequencer(checkpoints Checkpointer, runID string, resume bool) *Sequencer {
	return &Sequencer{checkpoints: checkpoints, runID: runID, resume: resume}
}

// Run executes the steps. On failure the run is marked failed and the step's
// error is returned; nothing is rolled back.
func (s *Sequencer) Run(ctx context.Context, steps []Step) error {
	logCtx := slog.With("runId", s.runID)

	byName := make(map[string]Step, len(steps))
	for _, step := range steps {
		if _, dup := byName[step.Name]; dup {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		byName[step.Name] = step
	}

	if err := s.checkpoints.Start(ctx, s.runID); err != nil {
		return err
	}

	done := map[string]bool{}
	if s.resume {
		var err error
		done, err = s.checkpoints.CompletedSteps(ctx, s.runID)
		if err != nil {
			return err
		}
		logCtx.Info("Resuming run.", "completedSteps", len(done))
	}

	machine := s.newMachine(steps)
	for {
		current := machine.MustState().(string)
		if current == stateFinished {
			break
		}
		step := byName[current]
		if done[step.Name] {
			logCtx.Info("Skipping completed step.", "step", step.Name)
		} else {
			logCtx.Info("Running step.", "step", step.Name)
			if err := step.Run(ctx); err != nil {
				logCtx.Error("Step failed.", "step", step.Name, "error", err)
				if cpErr := s.checkpoints.MarkFailed(ctx, s.runID, step.Name, err); cpErr != nil {
					logCtx.Error("CRITICAL: Failed to record run failure.", "updateError", cpErr)
				}
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
			if err := s.checkpoints.MarkDone(ctx, s.runID, step.Name); err != nil {
				return err
			}
		}
		if err := machine.Fire(triggerStepDone); err != nil {
			return fmt.Errorf("advancing past step %s: %w", step.Name, err)
		}
	}

	if err := s.checkpoints.MarkCompleted(ctx, s.runID); err != nil {
		return err
	}
	logCtx.Info("Run completed.", "steps", len(steps))
	return nil
}

// newMachine wires each step to its successor; the only way forward is finishing
// the current step.
func (s *Sequencer) newMachine(steps []Step) *stateless.StateMachine {
	if len(steps) == 0 {
		return stateless.NewStateMachine(stateFinished)
	}
	machine := stateless.NewStateMachine(steps[0].Name)
	for i, step := range steps {
		next := stateFinished
		if i+1 < len(steps) {
			next = steps[i+1].Name
		}
		machine.Configure(step.Name).Permit(triggerStepDone, next)
	}
	return machine
}
