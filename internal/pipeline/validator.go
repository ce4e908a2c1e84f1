package pipeline

import (
	"fmt"
	"strings"

	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/models"
)

// ValidationStats counts one validation pass.
type ValidationStats struct {
	Processed int `json:"processed"`
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	// FieldsDropped counts non-email values removed by cleaners.
	FieldsDropped int `json:"fields_dropped"`
}

// ValidationResult splits candidates into the disjoint valid and invalid
// sets. Valid candidates are cleaned in place of their raw values; invalid
// ones keep their original values plus the rejection issue.
type ValidationResult struct {
	Valid   []*models.Candidate
	Invalid []*models.Candidate
	Stats   ValidationStats
}

// Validator cleans candidates and rejects those without a usable email.
type Validator struct {
	lex *lexicon.Lexicon
}

// NewValidator builds a validator over the given lexicon. A nil lexicon
// falls back to the built-in one.
func NewValidator(lex *lexicon.Lexicon) *Validator {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Validator{lex: lex}
}

// Validate runs the field cleaners over every candidate. A candidate is
// rejected outright when its email is missing, unparseable or blacklisted;
// any other dirty field is dropped with an issue note, never fatal.
func (v *Validator) Validate(candidates []*models.Candidate) *ValidationResult {
	result := &ValidationResult{}
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		result.Stats.Processed++

		cleaned, ok := v.ValidateOne(candidate)
		if !ok {
			result.Stats.Rejected++
			result.Invalid = append(result.Invalid, cleaned)
			continue
		}
		result.Stats.Accepted++
		result.Stats.FieldsDropped += countDropIssues(cleaned.Issues)
		result.Valid = append(result.Valid, cleaned)
	}
	return result
}

// ValidateOne cleans a single candidate. The boolean reports acceptance.
func (v *Validator) ValidateOne(candidate *models.Candidate) (*models.Candidate, bool) {
	cleaned := candidate.Clone()

	email, err := CleanEmail(candidate.Email)
	if err != nil {
		cleaned.Issues = append(cleaned.Issues, fmt.Sprintf("rejected: %v", err))
		return cleaned, false
	}
	cleaned.Email = email

	for _, field := range models.FieldOrder {
		if field == models.FieldEmail {
			continue
		}
		raw := candidate.Get(field)
		if raw == "" {
			continue
		}
		value, ok := cleanField(field, raw, v.lex)
		if !ok {
			cleaned.Set(field, "")
			cleaned.Issues = append(cleaned.Issues, fmt.Sprintf("%s removed: invalid", field))
			continue
		}
		cleaned.Set(field, value)
	}
	return cleaned, true
}

func countDropIssues(issues []string) int {
	n := 0
	for _, issue := range issues {
		if strings.HasSuffix(issue, "removed: invalid") {
			n++
		}
	}
	return n
}
