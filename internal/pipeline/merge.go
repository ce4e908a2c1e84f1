package pipeline

import (
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

// maxMergedPhones bounds how many distinct phones a merged contact keeps.
const maxMergedPhones = 3

// Merger fuses per-miner result bundles for one input into a single set of
// enriched contacts with provenance.
type Merger struct {
	rank map[string]int
}

// NewMerger builds a merger with the given miner priority order, which
// breaks scoring ties the same way the deduplicator does.
func NewMerger(order []models.MinerType) *Merger {
	rank := make(map[string]int, len(order))
	for i, m := range order {
		rank[string(m)] = i
	}
	return &Merger{rank: rank}
}

type binValue struct {
	value string
	rank  int
	seq   int
}

type emailBin struct {
	fields  map[models.Field][]binValue
	phones  []binValue
	sources []string
	raw     string
}

func (b *emailBin) addSource(source string) {
	if source == "" {
		return
	}
	for _, s := range b.sources {
		if s == source {
			return
		}
	}
	b.sources = append(b.sources, source)
}

// Merge accumulates every observed value per (email, field) and selects
// the best one by field scoring. Emails seen bare, without a surrounding
// contact, still yield a merged contact so nothing mentioned is lost.
func (m *Merger) Merge(results []*models.MinerResult) *models.MergedResult {
	bins := make(map[string]*emailBin)
	var order []string
	ensure := func(email string) *emailBin {
		bin, ok := bins[email]
		if !ok {
			bin = &emailBin{fields: make(map[models.Field][]binValue)}
			bins[email] = bin
			order = append(order, email)
		}
		return bin
	}

	merged := &models.MergedResult{MinersRun: len(results)}
	seq := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.Blocked() {
			merged.WasBlocked = true
		}
		if r.Failed() {
			merged.MinersFailed++
		}
		rank := m.sourceRank(r.Meta.Source)

		for _, bare := range r.Emails {
			email, err := CleanEmail(bare)
			if err != nil {
				continue
			}
			ensure(email).addSource(r.Meta.Source)
		}

		for _, c := range r.Contacts {
			if c == nil || !c.HasEmail() {
				continue
			}
			email := strings.ToLower(strings.TrimSpace(c.Email))
			bin := ensure(email)
			for _, field := range models.FieldOrder {
				if field == models.FieldEmail {
					continue
				}
				value := c.Get(field)
				if value == "" {
					continue
				}
				seq++
				v := binValue{value: value, rank: rank, seq: seq}
				if field == models.FieldPhone {
					bin.phones = append(bin.phones, v)
				} else {
					bin.fields[field] = append(bin.fields[field], v)
				}
			}
			bin.addSource(r.Meta.Source)
			for _, s := range c.Sources {
				bin.addSource(s)
			}
			if bin.raw == "" {
				bin.raw = c.Raw
			}
		}
	}

	enriched := 0
	for _, email := range order {
		bin := bins[email]
		contact := &models.Candidate{
			Email:   email,
			Raw:     bin.raw,
			Sources: bin.sources,
		}
		for _, field := range models.FieldOrder {
			if field == models.FieldEmail || field == models.FieldPhone {
				continue
			}
			contact.Set(field, bestBinValue(field, bin.fields[field]))
		}
		contact.Phone = mergePhones(bin.phones)
		if contact.Company != "" || contact.Phone != "" || contact.Website != "" {
			enriched++
		}
		merged.Contacts = append(merged.Contacts, contact)
		merged.Emails = append(merged.Emails, email)
	}

	if len(merged.Contacts) > 0 {
		merged.Status = models.MergeStatusSuccess
		merged.EnrichmentRate = float64(enriched) / float64(len(merged.Contacts))
	} else {
		merged.Status = models.MergeStatusPartial
	}
	return merged
}

func (m *Merger) sourceRank(source string) int {
	if r, ok := m.rank[source]; ok {
		return r
	}
	return int(^uint(0) >> 1)
}

func bestBinValue(field models.Field, values []binValue) string {
	best := ""
	bestScore, bestRank, bestSeq := 0, 0, 0
	for _, v := range values {
		score := FieldScore(field, v.value)
		if best == "" ||
			score > bestScore ||
			(score == bestScore && v.rank < bestRank) ||
			(score == bestScore && v.rank == bestRank && v.seq < bestSeq) {
			best, bestScore, bestRank, bestSeq = v.value, score, v.rank, v.seq
		}
	}
	return best
}

// mergePhones dedupes phones by their digit content, orders them by score
// then priority, and keeps at most three joined with ", ".
func mergePhones(phones []binValue) string {
	type scored struct {
		binValue
		score int
	}
	seen := make(map[string]bool)
	var unique []scored
	for _, p := range phones {
		key := digitsOnly(p.value)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, scored{binValue: p, score: FieldScore(models.FieldPhone, p.value)})
	}
	for i := 1; i < len(unique); i++ {
		for j := i; j > 0; j-- {
			a, b := unique[j-1], unique[j]
			if b.score > a.score || (b.score == a.score && b.rank < a.rank) ||
				(b.score == a.score && b.rank == a.rank && b.seq < a.seq) {
				unique[j-1], unique[j] = b, a
			} else {
				break
			}
		}
	}
	if len(unique) > maxMergedPhones {
		unique = unique[:maxMergedPhones]
	}
	parts := make([]string, 0, len(unique))
	for _, p := range unique {
		parts = append(parts, p.value)
	}
	return strings.Join(parts, ", ")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
