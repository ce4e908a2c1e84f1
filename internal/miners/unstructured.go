package miners

import (
	"context"
	"strings"

	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
)

const (
	contextLinesAbove = 8
	contextLinesBelow = 4
	// nameScanAbove bounds how far above the email line name and company
	// candidates are taken from.
	nameScanAbove = 5
)

// UnstructuredMiner anchors on every email occurrence and mines the
// surrounding lines for the rest of the contact.
type UnstructuredMiner struct {
	lex *lexicon.Lexicon
}

// NewUnstructuredMiner builds the miner over the given lexicon.
func NewUnstructuredMiner(lex *lexicon.Lexicon) *UnstructuredMiner {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &UnstructuredMiner{lex: lex}
}

// Type implements Miner.
func (m *UnstructuredMiner) Type() models.MinerType { return models.MinerUnstructured }

// Mine implements Miner.
func (m *UnstructuredMiner) Mine(ctx context.Context, input *Input) (*models.MinerResult, error) {
	result := &models.MinerResult{
		Status: models.MineStatusPartial,
		Meta:   models.MinerMeta{Source: string(models.MinerUnstructured), Method: "email_anchor"},
	}
	text := pipeline.StripArtifacts(input.Text)
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	lines := strings.Split(text, "\n")
	seen := make(map[string]bool)
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, raw := range pipeline.ExtractEmails(line) {
			email := strings.ToLower(raw)
			if seen[email] {
				continue
			}
			seen[email] = true
			result.Emails = append(result.Emails, email)
			result.Contacts = append(result.Contacts, m.mineWindow(lines, i, email))
		}
	}

	if len(result.Contacts) > 0 {
		result.Status = models.MineStatusSuccess
	}
	return result, nil
}

// mineWindow builds one candidate from the context window around an email
// line: 8 lines above, 4 below.
func (m *UnstructuredMiner) mineWindow(lines []string, emailLine int, email string) *models.Candidate {
	top := emailLine - contextLinesAbove
	if top < 0 {
		top = 0
	}
	bottom := emailLine + contextLinesBelow + 1
	if bottom > len(lines) {
		bottom = len(lines)
	}
	window := lines[top:bottom]
	context := strings.Join(window, "\n")

	c := &models.Candidate{
		Email:   email,
		Raw:     context,
		Sources: []string{string(models.MinerUnstructured)},
	}

	if phone := pipeline.FindPhone(stripEmails(context)); phone != "" {
		if cleaned, ok := pipeline.CleanPhone(phone, m.lex); ok {
			c.Phone = cleaned
		}
	}
	c.Website = m.findWebsite(context, email)
	c.Country = pipeline.CountryInText(context)
	m.nameAndCompanyAbove(lines, emailLine, c)
	if c.Company == "" {
		c.Company = pipeline.DomainToCompany(email)
	}
	return c
}

// findWebsite returns the first explicit non-social, non-document URL in
// the context, falling back to the email's own domain.
func (m *UnstructuredMiner) findWebsite(context, email string) string {
	for _, match := range urlCandidates(context) {
		if cleaned, ok := pipeline.CleanWebsite(match, m.lex); ok {
			return cleaned
		}
	}
	return pipeline.DomainToWebsite(email, m.lex)
}

// nameAndCompanyAbove scans up to five lines above the email line, nearest
// first. A legal-entity suffix or an all-caps heading reads as the
// company; two to four alphabetic words read as the name.
func (m *UnstructuredMiner) nameAndCompanyAbove(lines []string, emailLine int, c *models.Candidate) {
	for offset := 1; offset <= nameScanAbove; offset++ {
		i := emailLine - offset
		if i < 0 {
			break
		}
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.Contains(line, "@") || pipeline.FindURL(line) != "" {
			continue
		}
		if pipeline.LabelNoise(line) {
			continue
		}
		if c.Company == "" && (pipeline.HasLegalSuffix(line) || pipeline.IsAllCapsLine(line)) {
			c.Company = line
			continue
		}
		if c.Name == "" && nameWordsRe.MatchString(line) {
			c.Name = line
		}
	}
}

func stripEmails(text string) string {
	for _, e := range pipeline.ExtractEmails(text) {
		text = strings.ReplaceAll(text, e, " ")
	}
	return text
}

func urlCandidates(text string) []string {
	var out []string
	rest := text
	for {
		m := pipeline.FindURL(rest)
		if m == "" {
			return out
		}
		out = append(out, m)
		idx := strings.Index(rest, m)
		rest = rest[idx+len(m):]
		if len(out) >= 5 {
			return out
		}
	}
}
