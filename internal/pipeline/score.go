package pipeline

import (
	"math"
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

// fieldWeights is the presence weight of each canonical field in the
// contact quality score.
var fieldWeights = map[models.Field]float64{
	models.FieldEmail:   30,
	models.FieldName:    20,
	models.FieldCompany: 15,
	models.FieldPhone:   15,
	models.FieldCountry: 5,
	models.FieldWebsite: 5,
	models.FieldCity:    3,
	models.FieldTitle:   3,
	models.FieldAddress: 2,
}

// ScoreContact rates one merged contact 0-100: weighted field presence
// plus small bonuses for a full name, a corporate-form company, an
// international phone and an HTTPS website.
func ScoreContact(c *models.Candidate) float64 {
	if c == nil {
		return 0
	}
	score := 0.0
	for field, weight := range fieldWeights {
		if strings.TrimSpace(c.Get(field)) != "" {
			score += weight
		}
	}
	if len(strings.Fields(c.Name)) >= 2 {
		score += 2
	}
	if c.Company != "" && HasLegalSuffix(c.Company) {
		score += 2
	}
	if strings.HasPrefix(c.Phone, "+") {
		score += 2
	}
	if strings.HasPrefix(c.Website, "https://") {
		score += 2
	}
	return math.Min(100, score)
}

// FieldCoverage returns the percentage of canonical fields populated.
func FieldCoverage(c *models.Candidate) float64 {
	if c == nil {
		return 0
	}
	populated := 0
	for _, field := range models.FieldOrder {
		if strings.TrimSpace(c.Get(field)) != "" {
			populated++
		}
	}
	return 100 * float64(populated) / float64(len(models.FieldOrder))
}

// ScoreBatch rates a job's merged output and picks the decision band.
// The batch score blends contact quality, field coverage and a volume
// bonus capped at 20 points.
func ScoreBatch(contacts []*models.Candidate) *models.BatchQuality {
	if len(contacts) == 0 {
		return &models.BatchQuality{Score: 0, Decision: models.DecisionFailed}
	}

	batch := &models.BatchQuality{
		Contacts: make([]models.ContactQuality, 0, len(contacts)),
	}
	var sumScore, sumCoverage float64
	for _, c := range contacts {
		score := ScoreContact(c)
		sumScore += score
		sumCoverage += FieldCoverage(c)
		batch.Contacts = append(batch.Contacts, models.ContactQuality{Email: c.Email, Score: score})
	}
	n := float64(len(contacts))
	batch.AvgContact = sumScore / n
	batch.FieldCoverage = sumCoverage / n
	batch.Score = math.Min(100, 0.5*batch.AvgContact+0.3*batch.FieldCoverage+math.Min(20, 2*n))
	batch.Decision = decisionFor(batch.Score)
	return batch
}

func decisionFor(score float64) models.QualityDecision {
	switch {
	case score >= 80:
		return models.DecisionExcellent
	case score >= 60:
		return models.DecisionGood
	case score >= 40:
		return models.DecisionFair
	case score >= 25:
		return models.DecisionPoor
	default:
		return models.DecisionRetry
	}
}
