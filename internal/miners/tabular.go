package miners

import (
	"context"
	"regexp"
	"strings"

	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
)

// nameWordsRe admits two to four alphabetic words, the shape of a printed
// person name.
var nameWordsRe = regexp.MustCompile(`^[\p{Latin}][\p{Latin}.'’-]*(?:\s+[\p{Latin}][\p{Latin}.'’-]*){1,3}$`)

// TabularMiner maps sheet rows to contacts. With a column map from header
// detection every row is mapped field by field; without one each row is
// anchored on its first email cell and the remaining cells run through a
// field-type guesser.
type TabularMiner struct {
	lex *lexicon.Lexicon
}

// NewTabularMiner builds the miner over the given lexicon.
func NewTabularMiner(lex *lexicon.Lexicon) *TabularMiner {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &TabularMiner{lex: lex}
}

// Type implements Miner.
func (m *TabularMiner) Type() models.MinerType { return models.MinerTabular }

// Mine implements Miner.
func (m *TabularMiner) Mine(ctx context.Context, input *Input) (*models.MinerResult, error) {
	result := &models.MinerResult{
		Status: models.MineStatusPartial,
		Meta:   models.MinerMeta{Source: string(models.MinerTabular)},
	}
	if len(input.Sheets) == 0 {
		result.Meta.Error = "no tabular data"
		return result, nil
	}

	mapped := len(input.ColumnMap) > 0
	if mapped {
		result.Meta.Method = "column_map"
	} else {
		result.Meta.Method = "headerless"
	}

	for _, sheet := range input.Sheets {
		for _, row := range sheet {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			var c *models.Candidate
			if mapped {
				c = m.mapRow(row, input.ColumnMap)
			} else {
				c = m.guessRow(row)
			}
			if c == nil {
				continue
			}
			c.Raw = strings.Join(row, " | ")
			c.AddSource(string(models.MinerTabular))
			result.Contacts = append(result.Contacts, c)
			if c.Email != "" {
				result.Emails = append(result.Emails, strings.ToLower(c.Email))
			}
		}
	}

	result.Emails = uniqueEmails(result.Emails)
	if len(result.Contacts) > 0 {
		result.Status = models.MineStatusSuccess
	}
	return result, nil
}

func (m *TabularMiner) mapRow(row []string, columnMap map[models.Field]int) *models.Candidate {
	c := &models.Candidate{}
	for field, idx := range columnMap {
		if idx < 0 || idx >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[idx])
		if value == "" {
			continue
		}
		if field == models.FieldEmail {
			value = pipeline.ExtractEmail(value)
			if value == "" {
				continue
			}
		}
		c.Set(field, value)
	}
	if c.IsEmpty() {
		return nil
	}
	return c
}

// guessRow is header-less mode: the first cell containing an email anchors
// the row, every other cell runs through the field-type guesser. First
// match wins and no field is assigned twice.
func (m *TabularMiner) guessRow(row []string) *models.Candidate {
	anchor := -1
	email := ""
	for i, cell := range row {
		if e := pipeline.ExtractEmail(cell); e != "" {
			anchor, email = i, e
			break
		}
	}
	if anchor < 0 {
		return nil
	}

	c := &models.Candidate{Email: email}
	for i, cell := range row {
		if i == anchor {
			continue
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		field := m.guessField(cell, c)
		if field == "" {
			continue
		}
		c.Set(field, cell)
	}
	return c
}

func (m *TabularMiner) guessField(cell string, c *models.Candidate) models.Field {
	if c.Phone == "" && isDigitHeavy(cell) {
		return models.FieldPhone
	}
	if c.Website == "" && looksLikeURL(cell) {
		return models.FieldWebsite
	}
	if c.Country == "" && pipeline.CanonicalCountry(cell) != "" {
		return models.FieldCountry
	}
	// A corporate form disqualifies a cell as a person name.
	if c.Name == "" && nameWordsRe.MatchString(cell) && !pipeline.HasLegalSuffix(cell) {
		return models.FieldName
	}
	if c.Company == "" && pipeline.HasLegalSuffix(cell) {
		return models.FieldCompany
	}
	return ""
}

func isDigitHeavy(cell string) bool {
	digits := 0
	for _, r := range cell {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 6 && digits*2 >= len([]rune(cell))
}

func looksLikeURL(cell string) bool {
	if strings.Contains(cell, "@") || strings.ContainsAny(cell, " \t") {
		return false
	}
	if strings.HasPrefix(cell, "http://") || strings.HasPrefix(cell, "https://") ||
		strings.HasPrefix(cell, "www.") {
		return true
	}
	// Bare domains: at least one dot and a plausible TLD.
	dot := strings.LastIndex(cell, ".")
	if dot <= 0 || dot == len(cell)-1 {
		return false
	}
	tld := cell[dot+1:]
	if len(tld) < 2 || len(tld) > 6 {
		return false
	}
	for _, r := range tld {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return !strings.ContainsAny(cell, "()+")
}
