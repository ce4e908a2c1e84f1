package models

// MinerType identifies one mining strategy. The engine holds a
// declaration-ordered list of these; the order doubles as the dedup
// tie-break priority.
type MinerType string

const (
	MinerStructured   MinerType = "structured"
	MinerTabular      MinerType = "tabular"
	MinerUnstructured MinerType = "unstructured"
	MinerDOM          MinerType = "dom"
	MinerAI           MinerType = "ai"
)

// MineStatus classifies one miner's outcome. BLOCKED and ERROR are
// provider-side conditions and neither fails the job by itself.
type MineStatus string

const (
	MineStatusSuccess MineStatus = "success"
	MineStatusPartial MineStatus = "partial"
	MineStatusBlocked MineStatus = "blocked" // HTTP 401/403/429 from a collaborator
	MineStatusError   MineStatus = "error"   // Timeout, 5xx, transport failure
)

// MinerMeta carries per-miner diagnostics surfaced in job stats.
type MinerMeta struct {
	Source     string `json:"source"`                // Miner identifier
	Method     string `json:"method,omitempty"`      // Strategy detail (e.g. "td_scan", "headerless")
	HTTPStatus int    `json:"http_status,omitempty"` // Last collaborator HTTP status, when relevant
	Blocks     int    `json:"blocks,omitempty"`      // DOM blocks examined
	Error      string `json:"error,omitempty"`
}

// MinerResult is the structured bundle every miner returns. Miners never
// panic across the pipeline boundary; failures are expressed in Status and
// Meta.Error.
type MinerResult struct {
	Status   MineStatus   `json:"status"`
	Emails   []string     `json:"emails,omitempty"` // Bare emails seen, even when no full contact formed
	Contacts []*Candidate `json:"contacts,omitempty"`
	Meta     MinerMeta    `json:"meta"`
}

// Blocked reports whether the bundle was refused by a provider.
func (r *MinerResult) Blocked() bool {
	return r.Status == MineStatusBlocked
}

// Failed reports whether the miner produced nothing usable.
func (r *MinerResult) Failed() bool {
	return (r.Status == MineStatusBlocked || r.Status == MineStatusError) &&
		len(r.Contacts) == 0 && len(r.Emails) == 0
}

// MergeStatus classifies the cross-miner merge outcome.
type MergeStatus string

const (
	MergeStatusSuccess MergeStatus = "SUCCESS"
	MergeStatusPartial MergeStatus = "PARTIAL"
)

// MergedResult is the consolidated output of the result merger for one job.
type MergedResult struct {
	Status         MergeStatus  `json:"status"`
	Contacts       []*Candidate `json:"contacts"`
	Emails         []string     `json:"emails"` // Every distinct email mentioned by any miner
	WasBlocked     bool         `json:"was_blocked"`
	EnrichmentRate float64      `json:"enrichment_rate"` // Fraction of contacts with company, phone, or website
	MinersRun      int          `json:"miners_run"`
	MinersFailed   int          `json:"miners_failed"`
}
