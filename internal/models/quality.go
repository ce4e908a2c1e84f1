package models

// QualityDecision is the batch-level quality band. RETRY suggests the input
// is worth re-mining with different miners; FAILED means nothing was found.
type QualityDecision string

const (
	DecisionExcellent QualityDecision = "EXCELLENT"
	DecisionGood      QualityDecision = "GOOD"
	DecisionFair      QualityDecision = "FAIR"
	DecisionPoor      QualityDecision = "POOR"
	DecisionRetry     QualityDecision = "RETRY"
	DecisionFailed    QualityDecision = "FAILED"
)

// ContactQuality is the scored view of one merged contact.
type ContactQuality struct {
	Email string  `json:"email"`
	Score float64 `json:"score"` // 0-100
}

// BatchQuality is the scored view of one job's merged output.
type BatchQuality struct {
	Score         float64          `json:"score"` // 0-100
	Decision      QualityDecision  `json:"decision"`
	AvgContact    float64          `json:"avg_contact"`    // Mean per-contact score
	FieldCoverage float64          `json:"field_coverage"` // Mean % of canonical fields populated
	Contacts      []ContactQuality `json:"contacts,omitempty"`
}
