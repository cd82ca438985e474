package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/tlcdataflow/internal/collector"
	"github.com/Lllllllleong/tlcdataflow/internal/config"
	"github.com/Lllllllleong/tlcdataflow/internal/gcp"
	"github.com/Lllllllleong/tlcdataflow/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).ExecuteContext(ctx); err != nil {
		slog.Error("Pipeline failed", "error", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag defaults come from cfg, so the environment
// is honored and flags override it.
func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "tlc-pipeline",
		Short:         "Provision Azure storage and SQL, then load NYC TLC trip extracts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(cfg), newSourcesCmd(cfg), newRunsCmd(cfg))
	return root
}

// sourceFlags are shared by commands that work on a selection of monthly files.
type sourceFlags struct {
	startYear int
	endYear   int
	offset    int
	count     int
	baseURL   string
}

func (f *sourceFlags) register(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().IntVar(&f.startYear, "start-year", cfg.Source.StartYear, "first year to collect")
	cmd.Flags().IntVar(&f.endYear, "end-year", cfg.Source.EndYear, "last year to collect (inclusive)")
	cmd.Flags().IntVar(&f.offset, "offset", cfg.Source.Offset, "index of the first generated file to process")
	cmd.Flags().IntVar(&f.count, "count", cfg.Source.Count, "number of files to process; 0 processes all")
	cmd.Flags().StringVar(&f.baseURL, "source-base-url", cfg.Source.BaseURL, "base URL (https:// or gs://) of the monthly extracts")
}

func (f *sourceFlags) apply(cfg *config.Config) {
	cfg.Source.StartYear = f.startYear
	cfg.Source.EndYear = f.endYear
	cfg.Source.Offset = f.offset
	cfg.Source.Count = f.count
	cfg.Source.BaseURL = f.baseURL
}

func newRunCmd(cfg *config.Config) *cobra.Command {
	var (
		sources   sourceFlags
		runID     string
		resume    bool
		container string
		server    string
		database  string
		table     string
		allowedIP string
		dataDir   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full provisioning and load pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources.apply(cfg)
			cfg.Storage.Container = container
			cfg.Target.Server = server
			cfg.Target.Database = database
			cfg.Target.Table = table
			cfg.Target.AllowedIP = allowedIP
			cfg.Source.DataDir = dataDir

			if resume && runID == "" {
				return fmt.Errorf("--resume requires --run-id")
			}
			if err := cfg.ValidateProvisioning(); err != nil {
				return err
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			ctx := cmd.Context()
			pipeline, cleanup, err := services.NewPipelineFromConfig(ctx, cfg, runID, resume)
			if err != nil {
				return err
			}
			defer cleanup()

			summary, err := pipeline.Run(ctx)
			if err != nil {
				return fmt.Errorf("run %s: %w", runID, err)
			}
			slog.Info("Duration", "runId", summary.RunID, "duration", summary.Duration.String(), "loadedFiles", summary.LoadedFiles)
			return nil
		},
	}

	sources.register(cmd, cfg)
	cmd.Flags().StringVar(&runID, "run-id", "", "identifier used for checkpoints; generated when empty")
	cmd.Flags().BoolVar(&resume, "resume", false, "skip steps already completed by --run-id")
	cmd.Flags().StringVar(&container, "container", cfg.Storage.Container, "blob container to create and upload into")
	cmd.Flags().StringVar(&server, "server", cfg.Target.Server, "SQL logical server name")
	cmd.Flags().StringVar(&database, "database", cfg.Target.Database, "SQL database name")
	cmd.Flags().StringVar(&table, "table", cfg.Target.Table, "destination table")
	cmd.Flags().StringVar(&allowedIP, "allowed-ip", cfg.Target.AllowedIP, "IP address to whitelist on the server firewall")
	cmd.Flags().StringVar(&dataDir, "data-dir", cfg.Source.DataDir, "directory downloaded files are written to")
	return cmd
}

func newSourcesCmd(cfg *config.Config) *cobra.Command {
	var sources sourceFlags

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Print the source files a run would process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources.apply(cfg)
			refs := collector.GenerateSources(cfg.Source.BaseURL, cfg.Source.StartYear, cfg.Source.EndYear)
			for _, ref := range collector.Select(refs, cfg.Source.Offset, cfg.Source.Count) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.FileName, ref.URL)
			}
			return nil
		},
	}
	sources.register(cmd, cfg)
	return cmd
}

func newRunsCmd(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs recorded in Firestore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := gcp.NewFirestoreClient(ctx, cfg.Checkpoints.ProjectID)
			if err != nil {
				return err
			}
			defer client.Close()

			runs, err := services.NewFirestoreCheckpointer(client, cfg.Checkpoints.Collection).RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d steps\t%s\t%s\n",
					run.RunID, run.Status, len(run.CompletedSteps), run.FailedStep, run.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	return cmd
}
