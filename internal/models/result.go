package models

import "time"

// ResultStatus tracks a result row's import lifecycle.
type ResultStatus string

const (
	ResultStatusNew      ResultStatus = "new"
	ResultStatusImported ResultStatus = "imported"
)

// ResultRow is one merged contact persisted for a job. Rows are editable
// (analysts fix typos before import) but their JobID never changes, and Raw
// preserves the exact miner output for audit.
type ResultRow struct {
	ID       string `json:"id"`
	JobID    string `json:"job_id" badgerhold:"index"`
	TenantID string `json:"tenant_id" badgerhold:"index"`

	Email   string `json:"email" badgerhold:"index"`
	Name    string `json:"name,omitempty"`
	Company string `json:"company,omitempty"`
	Title   string `json:"title,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Website string `json:"website,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	Address string `json:"address,omitempty"`

	SourceURL string  `json:"source_url,omitempty"`
	Sources   string  `json:"sources,omitempty"` // Comma-joined miner identifiers
	Score     float64 `json:"score"`             // Per-contact quality score, 0-100
	// Raw is the JSON-encoded merged candidate exactly as the pipeline
	// produced it.
	Raw    string       `json:"raw,omitempty"`
	Status ResultStatus `json:"status" badgerhold:"index"`

	CreatedAt  time.Time `json:"created_at"`
	ImportedAt time.Time `json:"imported_at,omitempty"`
}
