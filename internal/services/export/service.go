// Package export renders a job's merged contacts into a PDF lead report.
// The report is composed as markdown, parsed with goldmark and drawn with
// fpdf, so the same composition could feed other output formats later.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Service builds lead reports from stored jobs and their result rows.
type Service struct {
	store  interfaces.StorageManager
	logger arbor.ILogger
}

// NewService creates the export service.
func NewService(storageManager interfaces.StorageManager, logger arbor.ILogger) *Service {
	return &Service{
		store:  storageManager,
		logger: logger,
	}
}

// ExportJobPDF renders one job's lead report and returns the PDF bytes.
func (s *Service) ExportJobPDF(ctx context.Context, tenantID, jobID string) ([]byte, error) {
	job, err := s.store.JobStorage().GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	rows, err := s.store.ResultStorage().ListResultsByJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	pdf, err := renderPDF(composeReport(job, rows))
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	s.logger.Info().
		Str("job_id", jobID).
		Int("contacts", len(rows)).
		Int("pdf_bytes", len(pdf)).
		Msg("Lead report exported")
	return pdf, nil
}

// composeReport builds the markdown source for one job's lead report.
func composeReport(job *models.MiningJob, rows []*models.ResultRow) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Lead Report %s\n\n", job.ID)

	source := job.SourceURL
	if source == "" {
		source = job.FileName
	}
	if source == "" {
		source = string(job.Type) + " input"
	}
	fmt.Fprintf(&b, "**Source:** %s\n\n", source)
	fmt.Fprintf(&b, "**Mined:** %s\n\n", job.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "**Status:** %s\n\n", job.Status)

	imported := 0
	for _, row := range rows {
		if row.Status == models.ResultStatusImported {
			imported++
		}
	}
	decision := job.Stats.Decision
	if decision == "" {
		decision = "-"
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Contacts: %d\n", len(rows))
	fmt.Fprintf(&b, "- Imported: %d\n", imported)
	fmt.Fprintf(&b, "- Quality: %s (score %.1f)\n", decision, job.Stats.QualityScore)
	fmt.Fprintf(&b, "- Miners run: %d, failed: %d\n", job.Stats.MinersRun, job.Stats.MinersFailed)
	b.WriteString("\n## Contacts\n\n")

	if len(rows) == 0 {
		b.WriteString("No contacts were mined from this input.\n")
		return b.String()
	}

	b.WriteString("| Email | Name | Company | Title | Score | Status |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %.0f | %s |\n",
			cell(row.Email), cell(row.Name), cell(row.Company), cell(row.Title), row.Score, row.Status)
	}
	return b.String()
}

// cell escapes the column delimiter so free-text fields cannot break the
// table.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}
