package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/tlcdataflow/internal/collector"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
)

// Step names. Per-file steps are suffixed with ":<fileName>".
const (
	StepCreateContainer          = "create-container"
	StepCreateResourceGroup      = "create-resource-group"
	StepCreateServer             = "create-server"
	StepCreateDatabase           = "create-database"
	StepWhitelistIP              = "whitelist-ip"
	StepEncryptDatabase          = "encrypt-database"
	StepCreateCredentials        = "create-credentials"
	StepCreateExternalDataSource = "create-external-data-source"
	StepCreateTable              = "create-table"
	StepExtract                  = "extract"
	StepUpload                   = "upload"
	StepLoad                     = "load"
)

// PipelineConfig shapes a single run.
type PipelineConfig struct {
	RunID               string
	Resume              bool
	SourceBaseURL       string
	StartYear           int
	EndYear             int
	Offset              int
	Count               int
	Container           string
	CreateResourceGroup bool
}

// RunSummary describes what a run did.
type RunSummary struct {
	RunID       string
	Sources     int
	LoadedFiles []string
	Duration    time.Duration
}

// Pipeline generates the source list, provisions storage and the database, then
// extracts, uploads and loads each selected file.
type Pipeline struct {
	extractor *collector.Extractor
	storage   *StorageProvisioner
	database  *DatabaseProvisioner
	sequencer *Sequencer
	handoff   Handoff
	config    PipelineConfig
}

// NewPipeline wires the components. handoff may be nil.
func NewPipeline(extractor *collector.Extractor, storage *StorageProvisioner, database *DatabaseProvisioner, checkpoints Checkpointer, handoff Handoff, config PipelineConfig) *Pipeline {
	return &Pipeline{
		extractor: extractor,
		storage:   storage,
		database:  database,
		sequencer: NewSequencer(checkpoints, config.RunID, config.Resume),
		handoff:   handoff,
		config:    config,
	}
}

// Steps builds the ordered step list for the given file selection.
func (p *Pipeline) Steps(selected []models.SourceReference) []Step {
	container := p.config.Container
	steps := []Step{
		{Name: StepCreateContainer, Run: func(ctx context.Context) error { return p.storage.CreateContainer(ctx, container) }},
	}
	if p.config.CreateResourceGroup {
		steps = append(steps, Step{Name: StepCreateResourceGroup, Run: p.database.CreateResourceGroup})
	}
	steps = append(steps,
		Step{Name: StepCreateServer, Run: p.database.CreateServer},
		Step{Name: StepCreateDatabase, Run: p.database.CreateDatabase},
		Step{Name: StepWhitelistIP, Run: p.database.WhitelistIP},
		Step{Name: StepEncryptDatabase, Run: p.database.EncryptDatabase},
		Step{Name: StepCreateCredentials, Run: p.database.CreateCredentials},
		Step{Name: StepCreateExternalDataSource, Run: func(ctx context.Context) error {
			return p.database.CreateExternalDataSource(ctx, p.storage.ContainerURL(container))
		}},
		Step{Name: StepCreateTable, Run: p.database.CreateTable},
	)
	for _, ref := range selected {
		steps = append(steps,
			Step{Name: StepExtract + ":" + ref.FileName, Run: func(ctx context.Context) error {
				_, err := p.extractor.Extract(ctx, ref.URL, ref.FileName)
				return err
			}},
			Step{Name: StepUpload + ":" + ref.FileName, Run: func(ctx context.Context) error {
				return p.storage.UploadFile(ctx, container, ref.FileName)
			}},
			Step{Name: StepLoad + ":" + ref.FileName, Run: func(ctx context.Context) error {
				return p.database.LoadCSV(ctx, ref.FileName)
			}},
		)
	}
	return steps
}

// Run executes the whole pipeline once.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	start := time.Now()
	logCtx := slog.With("runId", p.config.RunID)

	sources := collector.GenerateSources(p.config.SourceBaseURL, p.config.StartYear, p.config.EndYear)
	selected := collector.Select(sources, p.config.Offset, p.config.Count)
	logCtx.Info("Generated source list.", "sources", len(sources), "selected", len(selected))

	if err := p.sequencer.Run(ctx, p.Steps(selected)); err != nil {
		return nil, err
	}

	summary := &RunSummary{RunID: p.config.RunID, Sources: len(sources), Duration: time.Since(start)}
	for _, ref := range selected {
		summary.LoadedFiles = append(summary.LoadedFiles, ref.FileName)
	}

	if p.handoff != nil {
		err := p.handoff.Notify(ctx, models.WorkflowHandoff{
			RunID:       p.config.RunID,
			Database:    p.database.config.Database,
			Table:       p.database.config.Table,
			LoadedFiles: summary.LoadedFiles,
		})
		if err != nil {
			return summary, fmt.Errorf("run %s loaded its files but the hand-off failed: %w", p.config.RunID, err)
		}
	}

	logCtx.Info("Pipeline finished.", "loadedFiles", len(summary.LoadedFiles), "duration", summary.Duration.String())
	return summary, nil
}
