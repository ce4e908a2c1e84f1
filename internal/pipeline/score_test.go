package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/colligo/internal/models"
)

// Adding any extra non-empty clean field must never decrease the score.
func TestScoreContactMonotone(t *testing.T) {
	steps := []struct {
		field models.Field
		value string
	}{
		{models.FieldName, "Jane Smith"},
		{models.FieldCompany, "Acme Ltd"},
		{models.FieldPhone, "+1 212 555 0100"},
		{models.FieldCountry, "USA"},
		{models.FieldWebsite, "https://www.acme.com"},
		{models.FieldCity, "New York"},
		{models.FieldTitle, "CTO"},
		{models.FieldAddress, "1 Main St"},
	}

	c := &models.Candidate{Email: "jane@acme.com"}
	prev := ScoreContact(c)
	assert.Equal(t, 30.0, prev, "email alone carries its presence weight")

	for _, step := range steps {
		c.Set(step.field, step.value)
		score := ScoreContact(c)
		assert.GreaterOrEqual(t, score, prev, "adding %s decreased the score", step.field)
		prev = score
	}
	assert.LessOrEqual(t, prev, 100.0)
}

func TestScoreContactBonuses(t *testing.T) {
	base := ScoreContact(&models.Candidate{Email: "j@a.io", Name: "Jane"})
	full := ScoreContact(&models.Candidate{Email: "j@a.io", Name: "Jane Smith"})
	assert.Equal(t, base+2, full, "a full name earns the bonus")
}

func TestScoreBatchDecisions(t *testing.T) {
	rich := &models.Candidate{
		Email: "jane@acme.com", Name: "Jane Smith", Company: "Acme Ltd",
		Phone: "+1 212 555 0100", Website: "https://www.acme.com",
		Country: "USA", City: "New York", Title: "CTO", Address: "1 Main St",
	}
	bare := &models.Candidate{Email: "x@y.zz"}

	tests := []struct {
		name     string
		contacts []*models.Candidate
		decision models.QualityDecision
	}{
		{"empty batch fails", nil, models.DecisionFailed},
		{"single bare contact retries", []*models.Candidate{bare}, models.DecisionRetry},
		{"single rich contact excellent", []*models.Candidate{rich}, models.DecisionExcellent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := ScoreBatch(tt.contacts)
			assert.Equal(t, tt.decision, batch.Decision)
		})
	}
}

func TestScoreBatchBlend(t *testing.T) {
	rich := &models.Candidate{
		Email: "jane@acme.com", Name: "Jane Smith", Company: "Acme Ltd",
		Phone: "+1 212 555 0100", Website: "https://www.acme.com",
		Country: "USA", City: "New York", Title: "CTO", Address: "1 Main St",
	}

	batch := ScoreBatch([]*models.Candidate{rich})
	require.Len(t, batch.Contacts, 1)

	// All nine fields present: contact score caps at 100, coverage 100%,
	// volume bonus 2 for one contact.
	assert.InDelta(t, 100.0, batch.AvgContact, 0.01)
	assert.InDelta(t, 100.0, batch.FieldCoverage, 0.01)
	assert.InDelta(t, 0.5*100+0.3*100+2, batch.Score, 0.01)
	assert.Equal(t, models.DecisionExcellent, batch.Decision)
}
