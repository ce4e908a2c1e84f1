package pipeline

import (
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

// FieldScore rates the informativeness of one field value. Non-empty
// values start at 10 and gain or lose by field-specific signals; the
// deduplicator and merger both pick the highest-scoring value per field.
func FieldScore(field models.Field, value string) int {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0
	}
	score := 10
	runes := len([]rune(v))

	switch field {
	case models.FieldName:
		if runes >= 5 && runes <= 50 {
			score += 20
		}
		if strings.ContainsAny(v, " \t") {
			score += 15
		}
		if LabelNoise(v) {
			score -= 30
		}
		if strings.ContainsAny(v, "@:;,") {
			score -= 20
		}
	case models.FieldCompany:
		if runes >= 3 && runes <= 100 {
			score += 20
		}
		if HasLegalSuffix(v) {
			score += 15
		}
		if strings.Contains(v, "@") {
			score -= 25
		}
		if LabelNoise(v) {
			score -= 30
		}
	case models.FieldPhone:
		digits := digitCount(v)
		if digits >= 10 && digits <= 15 {
			score += 20
		}
		if strings.HasPrefix(v, "+") {
			score += 10
		}
		if digits > 0 && len(v)-digits > digits {
			score -= 10
		}
	case models.FieldWebsite:
		if strings.HasPrefix(v, "https://") {
			score += 15
		} else if strings.HasPrefix(v, "http://") {
			score += 10
		}
		if HasDocSuffix(v) {
			score -= 30
		}
		if strings.Contains(v, "www.") {
			score += 5
		}
	case models.FieldCountry, models.FieldCity, models.FieldTitle:
		if runes <= 40 && !LabelNoise(v) {
			score += 15
		}
	}
	return score
}

// Deduper groups candidates by normalized email and keeps the best value
// per field. Ties are broken by the miner priority order declared at
// engine start, then by first appearance.
type Deduper struct {
	rank map[string]int
}

// NewDeduper builds a deduper with the given miner priority order.
func NewDeduper(order []models.MinerType) *Deduper {
	rank := make(map[string]int, len(order))
	for i, m := range order {
		rank[string(m)] = i
	}
	return &Deduper{rank: rank}
}

// Dedupe merges candidates sharing an email. Output order follows the
// first appearance of each email, which keeps runs reproducible.
func (d *Deduper) Dedupe(candidates []*models.Candidate) []*models.Candidate {
	groups := make(map[string][]*models.Candidate)
	var order []string
	for _, c := range candidates {
		if c == nil || !c.HasEmail() {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(c.Email))
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	out := make([]*models.Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, d.mergeGroup(key, groups[key]))
	}
	return out
}

func (d *Deduper) mergeGroup(email string, group []*models.Candidate) *models.Candidate {
	merged := &models.Candidate{Email: email}
	for _, field := range models.FieldOrder {
		if field == models.FieldEmail {
			continue
		}
		merged.Set(field, d.bestValue(field, group))
	}
	for _, c := range group {
		for _, s := range c.Sources {
			merged.AddSource(s)
		}
		merged.Issues = append(merged.Issues, c.Issues...)
		if merged.Raw == "" {
			merged.Raw = c.Raw
		}
	}
	return merged
}

func (d *Deduper) bestValue(field models.Field, group []*models.Candidate) string {
	best := ""
	bestScore := 0
	bestRank := int(^uint(0) >> 1)
	for _, c := range group {
		value := c.Get(field)
		if value == "" {
			continue
		}
		score := FieldScore(field, value)
		rank := d.candidateRank(c)
		if best == "" || score > bestScore || (score == bestScore && rank < bestRank) {
			best = value
			bestScore = score
			bestRank = rank
		}
	}
	return best
}

func (d *Deduper) candidateRank(c *models.Candidate) int {
	rank := int(^uint(0) >> 1)
	for _, s := range c.Sources {
		if r, ok := d.rank[s]; ok && r < rank {
			rank = r
		}
	}
	return rank
}
