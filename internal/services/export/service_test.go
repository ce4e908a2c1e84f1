package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/storage/badger"
)

const testTenant = "11111111-1111-1111-1111-111111111111"

func newTestService(t *testing.T) (*Service, interfaces.StorageManager) {
	t.Helper()
	logger := arbor.NewLogger()
	mgr, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return NewService(mgr, logger), mgr
}

func sampleJob(jobID string) *models.MiningJob {
	return &models.MiningJob{
		ID:        jobID,
		TenantID:  testTenant,
		Type:      models.JobTypeURL,
		SourceURL: "https://acme.example/team",
		Input:     []byte("seed"),
		Miners:    models.MinerFlags{Unstructured: true},
		Status:    models.JobStatusPending,
		CreatedAt: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC),
	}
}

func sampleRow(id, jobID, email, name, title string, score float64) *models.ResultRow {
	return &models.ResultRow{
		ID:        id,
		JobID:     jobID,
		TenantID:  testTenant,
		Email:     email,
		Name:      name,
		Company:   "Acme GmbH",
		Title:     title,
		SourceURL: "https://acme.example/team",
		Score:     score,
		Status:    models.ResultStatusNew,
		CreatedAt: time.Now(),
	}
}

func TestComposeReportListsContacts(t *testing.T) {
	job := sampleJob("job_rep")
	job.Status = models.JobStatusCompleted
	job.Stats = models.JobStats{
		MinersRun:    2,
		QualityScore: 78.4,
		Decision:     "GOOD",
	}
	rows := []*models.ResultRow{
		sampleRow("res_1", "job_rep", "jane.doe@acme.com", "Jane van Doe", "VP Sales", 91),
		sampleRow("res_2", "job_rep", "bob.roe@acme.com", "Bob Roe", "", 55),
	}
	rows[0].Status = models.ResultStatusImported

	report := composeReport(job, rows)

	assert.Contains(t, report, "# Lead Report job_rep")
	assert.Contains(t, report, "**Source:** https://acme.example/team")
	assert.Contains(t, report, "- Contacts: 2")
	assert.Contains(t, report, "- Imported: 1")
	assert.Contains(t, report, "- Quality: GOOD (score 78.4)")
	assert.Contains(t, report, "| jane.doe@acme.com | Jane van Doe | Acme GmbH | VP Sales | 91 | imported |")
	assert.Contains(t, report, "| bob.roe@acme.com | Bob Roe |")
}

func TestComposeReportWithoutContacts(t *testing.T) {
	job := sampleJob("job_empty")
	job.Status = models.JobStatusFailed

	report := composeReport(job, nil)

	assert.Contains(t, report, "No contacts were mined from this input.")
	assert.Contains(t, report, "- Quality: - (score 0.0)")
	assert.NotContains(t, report, "| Email |")
}

func TestComposeReportEscapesDelimiter(t *testing.T) {
	job := sampleJob("job_pipe")
	rows := []*models.ResultRow{
		sampleRow("res_1", "job_pipe", "jane.doe@acme.com", "Jane", "VP Sales | EMEA", 80),
	}

	report := composeReport(job, rows)

	assert.Contains(t, report, `VP Sales \| EMEA`)
}

func TestRenderPDFProducesDocument(t *testing.T) {
	job := sampleJob("job_pdf")
	job.Stats.Decision = "EXCELLENT"
	rows := []*models.ResultRow{
		sampleRow("res_1", "job_pdf", "jane.doe@acme.com", "Jane van Doe", "VP Sales", 91),
	}

	data, err := renderPDF(composeReport(job, rows))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")), "expected a PDF header")
	assert.Greater(t, len(data), 500)
}

func TestExportJobPDFLoadsStoredJob(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	job := sampleJob("job_exp")
	require.NoError(t, mgr.JobStorage().CreateJob(ctx, job))
	job.Status = models.JobStatusCompleted
	job.CompletedAt = time.Now()
	job.ResultCount = 2
	rows := []*models.ResultRow{
		sampleRow("res_1", "job_exp", "jane.doe@acme.com", "Jane van Doe", "VP Sales", 91),
		sampleRow("res_2", "job_exp", "bob.roe@acme.com", "Bob Roe", "", 55),
	}
	require.NoError(t, mgr.JobStorage().CompleteJobWithResults(ctx, job, rows))

	data, err := svc.ExportJobPDF(ctx, testTenant, "job_exp")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))
}

func TestExportJobPDFUnknownJob(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ExportJobPDF(context.Background(), testTenant, "job_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load job")
}
