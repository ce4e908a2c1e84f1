package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the state of a mining job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobType identifies the input shape of a mining job
type JobType string

const (
	JobTypeURL  JobType = "url"  // Live page, rendered by the browser collaborator
	JobTypeFile JobType = "file" // Raw bytes (PDF, markdown, CSV, plain text), sniffed on ingest
	JobTypeText JobType = "text" // Pasted text or CSV
)

// MinerFlags selects which miners run for a job. Zero value means
// "use configured defaults" (see JobRequest.ApplyDefaults).
type MinerFlags struct {
	Structured   bool `json:"structured"`
	Tabular      bool `json:"tabular"`
	Unstructured bool `json:"unstructured"`
	DOM          bool `json:"dom"`
	AI           bool `json:"ai"`
}

// Any reports whether at least one miner is selected.
func (f MinerFlags) Any() bool {
	return f.Structured || f.Tabular || f.Unstructured || f.DOM || f.AI
}

// Enabled reports whether a specific miner type is selected.
func (f MinerFlags) Enabled(t MinerType) bool {
	switch t {
	case MinerStructured:
		return f.Structured
	case MinerTabular:
		return f.Tabular
	case MinerUnstructured:
		return f.Unstructured
	case MinerDOM:
		return f.DOM
	case MinerAI:
		return f.AI
	}
	return false
}

// JobStats aggregates per-miner outcomes and pipeline counters for one job.
type JobStats struct {
	MinersRun      int         `json:"miners_run"`
	MinersFailed   int         `json:"miners_failed"`
	RawCandidates  int         `json:"raw_candidates"`  // Emitted by miners before validation
	ValidContacts  int         `json:"valid_contacts"`  // Survived the validator
	MergedContacts int         `json:"merged_contacts"` // After dedup + cross-miner merge
	EmailsSeen     int         `json:"emails_seen"`
	EnrichmentRate float64     `json:"enrichment_rate"`
	QualityScore   float64     `json:"quality_score"`
	Decision       string      `json:"decision"` // EXCELLENT..FAILED batch band
	WasBlocked     bool        `json:"was_blocked"`
	Miners         []MinerMeta `json:"miners,omitempty"` // Per-miner diagnostics in run order
}

// MiningJob represents one mining request through its whole lifecycle.
// The raw input is snapshot at creation time so jobs are self-contained and
// re-runnable; terminal jobs are never mutated.
type MiningJob struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id" badgerhold:"index"`
	Type     JobType `json:"type"`
	// SourceURL is set for url jobs and preserved on every result row.
	SourceURL string `json:"source_url,omitempty"`
	// FileName is the original name for file jobs, used by ingest sniffing.
	FileName string `json:"file_name,omitempty"`
	// Input holds the raw bytes for file/text jobs. URL jobs leave it empty.
	Input  []byte     `json:"input,omitempty"`
	Miners MinerFlags `json:"miners"`
	Status JobStatus  `json:"status" badgerhold:"index"`
	// Error contains a concise description of why the job failed.
	// Only populated when status is 'failed'.
	Error       string    `json:"error,omitempty"`
	Stats       JobStats  `json:"stats"`
	ResultCount int       `json:"result_count"` // Result rows written at completion
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// JobRequest is the submission payload accepted by the engine. Validation
// tags are enforced before a job is created.
type JobRequest struct {
	TenantID  string     `json:"tenant_id" validate:"required,uuid4|uuid"`
	Type      JobType    `json:"type" validate:"required,oneof=url file text"`
	SourceURL string     `json:"source_url,omitempty" validate:"required_if=Type url,omitempty,url"`
	FileName  string     `json:"file_name,omitempty"`
	Input     []byte     `json:"input,omitempty"`
	Miners    MinerFlags `json:"miners"`
}

// ApplyDefaults fills unset miner flags from configured defaults when the
// request selects no miner explicitly, and disables miners that cannot
// apply to the input shape (DOM mining needs a URL).
func (r *JobRequest) ApplyDefaults(defaults MinerFlags) {
	if !r.Miners.Any() {
		r.Miners = defaults
	}
	if r.Type != JobTypeURL {
		r.Miners.DOM = false
	}
}

// ToJSON serializes JobStats for storage layouts that keep stats as a blob.
func (s *JobStats) ToJSON() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSONJobStats deserializes JobStats from a JSON string.
func FromJSONJobStats(data string) (*JobStats, error) {
	var stats JobStats
	if err := json.Unmarshal([]byte(data), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
