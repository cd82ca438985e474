package services

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Lllllllleong/tlcdataflow/internal/azure"
	"github.com/Lllllllleong/tlcdataflow/internal/collector"
	"github.com/Lllllllleong/tlcdataflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureHandoff struct {
	payloads []models.WorkflowHandoff
	err      error
}

func (h *captureHandoff) Notify(_ context.Context, payload models.WorkflowHandoff) error {
	h.payloads = append(h.payloads, payload)
	return h.err
}

type pipelineFixture struct {
	*provisionerFixture
	source      *httptest.Server
	requests    atomic.Int32
	checkpoints *MemoryCheckpointer
	handoff     *captureHandoff
	dataDir     string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		provisionerFixture: newProvisionerFixture(t),
		checkpoints:        NewMemoryCheckpointer(),
		handoff:            &captureHandoff{},
		dataDir:            t.TempDir(),
	}
	f.source = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if !strings.Contains(r.URL.Path, "yellow_tripdata_2021-") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, tripCSV)
	}))
	t.Cleanup(f.source.Close)
	return f
}

func (f *pipelineFixture) pipeline(runID string, resume bool, offset, count int) *Pipeline {
	return NewPipeline(
		collector.NewExtractor(collector.NewHTTPFetcher(nil), f.dataDir),
		NewStorageProvisioner(f.blobs, f.dataDir),
		f.provisioner,
		f.checkpoints,
		f.handoff,
		PipelineConfig{
			RunID:         runID,
			Resume:        resume,
			SourceBaseURL: f.source.URL + "/trip+data/",
			StartYear:     2021,
			EndYear:       2021,
			Offset:        offset,
			Count:         count,
			Container:     "tlc-datax",
		},
	)
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = step.Name
	}
	return names
}

func TestPipeline_StepOrder(t *testing.T) {
	f := newPipelineFixture(t)
	p := f.pipeline("run-1", false, 1, 2)

	refs := collector.Select(collector.GenerateSources(p.config.SourceBaseURL, 2021, 2021), 1, 2)
	assert.Equal(t, []string{
		StepCreateContainer,
		StepCreateServer,
		StepCreateDatabase,
		StepWhitelistIP,
		StepEncryptDatabase,
		StepCreateCredentials,
		StepCreateExternalDataSource,
		StepCreateTable,
		"extract:2021-02.csv",
		"upload:2021-02.csv",
		"load:2021-02.csv",
		"extract:2021-03.csv",
		"upload:2021-03.csv",
		"load:2021-03.csv",
	}, stepNames(p.Steps(refs)))

	p.config.CreateResourceGroup = true
	names := stepNames(p.Steps(nil))
	assert.Equal(t, []string{StepCreateContainer, StepCreateResourceGroup, StepCreateServer}, names[:3])
}

func TestPipeline_Run(t *testing.T) {
	f := newPipelineFixture(t)

	summary, err := f.pipeline("run-1", false, 1, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 7, summary.Sources)
	assert.Equal(t, []string{"2021-02.csv"}, summary.LoadedFiles)

	blob, ok := f.blobs.blob("tlc-datax", "2021-02.csv")
	require.True(t, ok)
	assert.Equal(t, tripCSV, string(blob))

	table, ok := f.sqlServer.table(f.cfg.Database, "[dbo].[tlc_datax]")
	require.True(t, ok)
	assert.Equal(t, 3, table.rows)

	require.Len(t, f.handoff.payloads, 1)
	assert.Equal(t, models.WorkflowHandoff{
		RunID:       "run-1",
		Database:    "tlc-data-dbx",
		Table:       "tlc_datax",
		LoadedFiles: []string{"2021-02.csv"},
	}, f.handoff.payloads[0])
	f.mgmt.AssertExpectations(t)
}

func TestPipeline_RerunWithoutResumeFailsOnExistingContainer(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline("run-1", false, 1, 1).Run(context.Background())
	require.NoError(t, err)

	_, err = f.pipeline("run-2", false, 1, 1).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, azure.ErrAlreadyExists)
}

func TestPipeline_ResumeAfterFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.sqlServer.readyErr = errors.New("firewall rule not applied yet")

	_, err := f.pipeline("run-1", false, 0, 2).Run(context.Background())
	require.Error(t, err)
	run, _ := f.checkpoints.Run("run-1")
	assert.Equal(t, StepWhitelistIP, run.FailedStep)
	assert.Equal(t, []string{StepCreateContainer, StepCreateServer, StepCreateDatabase}, run.CompletedSteps)
	assert.Zero(t, f.requests.Load())

	f.sqlServer.readyErr = nil
	summary, err := f.pipeline("run-1", true, 0, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2021-01.csv", "2021-02.csv"}, summary.LoadedFiles)
	assert.Equal(t, int32(2), f.requests.Load())

	// Server and database were created once; the container was not recreated.
	f.mgmt.AssertNumberOfCalls(t, "CreateServer", 1)
	f.mgmt.AssertNumberOfCalls(t, "CreateDatabase", 1)
	f.mgmt.AssertNumberOfCalls(t, "CreateFirewallRule", 2)

	table, _ := f.sqlServer.table(f.cfg.Database, "[dbo].[tlc_datax]")
	assert.Equal(t, 6, table.rows)
}

func TestPipeline_SourceFailureAbortsRun(t *testing.T) {
	f := newPipelineFixture(t)
	p := f.pipeline("run-1", false, 0, 1)
	p.config.SourceBaseURL = f.source.URL + "/missing/"
	p.config.StartYear, p.config.EndYear = 2019, 2019

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step extract:2019-01.csv")
	assert.Empty(t, f.handoff.payloads)
}

func TestPipeline_HandoffFailureIsReported(t *testing.T) {
	f := newPipelineFixture(t)
	f.handoff.err = errors.New("workflow not found")

	summary, err := f.pipeline("run-1", false, 1, 1).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hand-off failed")
	require.NotNil(t, summary)
	assert.Equal(t, []string{"2021-02.csv"}, summary.LoadedFiles)
}
