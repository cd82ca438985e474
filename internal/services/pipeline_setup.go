package services

import (
	"context"
	"log/slog"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/tlcdataflow/internal/azure"
	"github.com/Lllllllleong/tlcdataflow/internal/collector"
	"github.com/Lllllllleong/tlcdataflow/internal/config"
	"github.com/Lllllllleong/tlcdataflow/internal/gcp"
	"github.com/Lllllllleong/tlcdataflow/internal/sqlserver"
)

// NewCheckpointer returns a Firestore checkpointer when a project is configured and
// an in-process one otherwise.
func NewCheckpointer(ctx context.Context, cfg config.CheckpointConfig) (Checkpointer, *firestore.Client, error) {
	if cfg.ProjectID == "" {
		slog.Warn("PROJECT_ID not set; run progress is kept in memory and cannot be resumed by a later process.")
		return NewMemoryCheckpointer(), nil, nil
	}
	client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return NewFirestoreCheckpointer(client, cfg.Collection), client, nil
}

// NewSourceFetcher returns a fetcher for the source base URL. A GCS client is only
// created for gs:// sources; the returned close func is nil otherwise.
func NewSourceFetcher(ctx context.Context, baseURL string) (*collector.SchemeFetcher, func() error, error) {
	fetcher := &collector.SchemeFetcher{HTTP: collector.NewHTTPFetcher(nil)}
	if !strings.HasPrefix(baseURL, "gs://") {
		return fetcher, nil, nil
	}
	storageClient, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	fetcher.GCS = collector.NewGCSFetcher(storageClient)
	return fetcher, storageClient.Close, nil
}

// NewPipelineFromConfig builds every collaborator the full run needs. The returned
// cleanup func releases the clients.
func NewPipelineFromConfig(ctx context.Context, cfg *config.Config, runID string, resume bool) (*Pipeline, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				slog.Warn("Failed to close client.", "error", err)
			}
		}
	}
	fail := func(err error) (*Pipeline, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	cred, err := azure.NewCredential(cfg.Azure.TenantID, cfg.Azure.ClientID, cfg.Azure.ClientSecret)
	if err != nil {
		return fail(err)
	}
	mgmt, err := azure.NewManagement(cfg.Azure.SubscriptionID, cred)
	if err != nil {
		return fail(err)
	}
	store, err := azure.NewBlobStore(cfg.Storage.ConnectionString, cfg.Storage.Overwrite)
	if err != nil {
		return fail(err)
	}

	sqlClient := sqlserver.NewClient(sqlserver.Options{
		Host:         sqlserver.HostForServer(cfg.Target.Server),
		Port:         cfg.SQL.Port,
		User:         cfg.SQL.AdminLogin,
		Password:     cfg.SQL.AdminPassword,
		ReadyTimeout: cfg.SQL.ReadyTimeout,
	})
	closers = append(closers, sqlClient.Close)

	fetcher, closeFetcher, err := NewSourceFetcher(ctx, cfg.Source.BaseURL)
	if err != nil {
		return fail(err)
	}
	if closeFetcher != nil {
		closers = append(closers, closeFetcher)
	}

	checkpoints, firestoreClient, err := NewCheckpointer(ctx, cfg.Checkpoints)
	if err != nil {
		return fail(err)
	}
	if firestoreClient != nil {
		closers = append(closers, firestoreClient.Close)
	}

	var handoff Handoff
	if cfg.Handoff.WorkflowID != "" {
		executionsClient, err := gcp.NewExecutionsClient(ctx)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, executionsClient.Close)
		handoff = NewWorkflowHandoff(executionsClient, cfg.Handoff.ProjectID, cfg.Handoff.WorkflowLocation, cfg.Handoff.WorkflowID)
	}

	database := NewDatabaseProvisioner(mgmt, sqlClient, DatabaseConfig{
		ResourceGroup:     cfg.Target.ResourceGroup,
		Region:            cfg.Target.Region,
		Server:            cfg.Target.Server,
		Database:          cfg.Target.Database,
		Collation:         cfg.Target.Collation,
		PricingTier:       cfg.Target.PricingTier,
		AdminLogin:        cfg.SQL.AdminLogin,
		AdminPassword:     cfg.SQL.AdminPassword,
		FirewallRule:      cfg.Target.FirewallRule,
		AllowedIPStart:    cfg.Target.AllowedIP,
		MasterKeyPassword: cfg.Security.MasterKeyPassword,
		CredentialName:    cfg.Security.CredentialName,
		SASToken:          cfg.Security.SASToken,
		DataSourceName:    cfg.Security.DataSourceName,
		Table:             cfg.Target.Table,
	})

	pipeline := NewPipeline(
		collector.NewExtractor(fetcher, cfg.Source.DataDir),
		NewStorageProvisioner(store, cfg.Source.DataDir),
		database,
		checkpoints,
		handoff,
		PipelineConfig{
			RunID:               runID,
			Resume:              resume,
			SourceBaseURL:       cfg.Source.BaseURL,
			StartYear:           cfg.Source.StartYear,
			EndYear:             cfg.Source.EndYear,
			Offset:              cfg.Source.Offset,
			Count:               cfg.Source.Count,
			Container:           cfg.Storage.Container,
			CreateResourceGroup: cfg.Target.CreateResourceGroup,
		},
	)
	return pipeline, cleanup, nil
}
