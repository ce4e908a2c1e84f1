package miners

import (
	"context"
	"regexp"
	"strings"

	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
)

// repairLabels are the most common field labels eligible for OCR repair,
// where a line break fell inside the label ("Ema\nil: jane@...").
var repairLabels = []string{
	"email", "e-mail", "phone", "telefon", "company", "firma",
	"name", "isim", "country", "website", "address",
}

// StructuredMiner walks labelled free text line by line. Multiple contacts
// may share one block without blank-line separation: a company label on a
// contact that already carries a company or an email starts the next one.
type StructuredMiner struct {
	lex       *lexicon.Lexicon
	repairRe  *regexp.Regexp
	insertRes []*regexp.Regexp
}

// NewStructuredMiner compiles the label repair and line-break insertion
// patterns for the given lexicon.
func NewStructuredMiner(lex *lexicon.Lexicon) *StructuredMiner {
	if lex == nil {
		lex = lexicon.Default()
	}
	m := &StructuredMiner{lex: lex}
	m.repairRe = buildRepairRe(repairLabels)
	for _, entry := range lex.Labels() {
		// A label mid-line starts a new line, provided its separator
		// follows, so "Company: Acme Name: Jane" walks as two lines. The
		// preceding rune must not be a letter or "mail:" would split
		// every "Email:".
		m.insertRes = append(m.insertRes, regexp.MustCompile(
			`(?i)([^\n\p{L}])([ \t]*`+regexp.QuoteMeta(entry.Surface)+`[ \t]*[:\x{FF1A}])`))
	}
	return m
}

// Type implements Miner.
func (m *StructuredMiner) Type() models.MinerType { return models.MinerStructured }

// Mine implements Miner.
func (m *StructuredMiner) Mine(ctx context.Context, input *Input) (*models.MinerResult, error) {
	result := &models.MinerResult{
		Status: models.MineStatusPartial,
		Meta:   models.MinerMeta{Source: string(models.MinerStructured), Method: "label_walk"},
	}
	text := pipeline.StripArtifacts(input.Text)
	if strings.TrimSpace(text) == "" {
		return result, nil
	}
	text = m.repairBrokenLabels(text)
	text = m.insertLabelBreaks(text)

	var current *models.Candidate
	var currentLines []string
	flush := func() {
		if current != nil && current.HasEmail() {
			current.Raw = strings.Join(currentLines, "\n")
			current.AddSource(string(models.MinerStructured))
			result.Contacts = append(result.Contacts, current)
		}
		current = nil
		currentLines = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue // blank lines never flush
		}
		label, value, ok := splitLabelLine(trimmed)
		if !ok {
			continue
		}
		field, ok := m.lex.FieldFor(label)
		if !ok {
			continue
		}
		if value == "" {
			continue
		}
		// A value that is itself an email wins over its label.
		if email := pipeline.ExtractEmail(value); email != "" {
			field = models.FieldEmail
			value = email
		}

		if field == models.FieldCompany && current != nil &&
			(current.Company != "" || current.Email != "") {
			flush()
		}
		if current == nil {
			current = &models.Candidate{}
		}
		if current.Get(field) == "" {
			current.Set(field, value)
		}
		currentLines = append(currentLines, trimmed)
	}

	// A trailing fragment that never gained an email belongs to the contact
	// whose company label split it off ("Name, Email, Company, Phone" in
	// signature order): fold its fields back into the previous contact's
	// empty slots instead of dropping them.
	if current != nil && !current.HasEmail() && len(result.Contacts) > 0 {
		prev := result.Contacts[len(result.Contacts)-1]
		for _, field := range models.FieldOrder {
			if v := current.Get(field); v != "" && prev.Get(field) == "" {
				prev.Set(field, v)
			}
		}
		prev.Raw = prev.Raw + "\n" + strings.Join(currentLines, "\n")
		current = nil
		currentLines = nil
	}
	flush()

	result.Emails = uniqueEmails(pipeline.ExtractEmails(text))
	if len(result.Contacts) > 0 {
		result.Status = models.MineStatusSuccess
	}
	return result, nil
}

// splitLabelLine cuts a line at its first ":" (fullwidth included), else
// its first "-". The label part must be 2 to 50 runes.
func splitLabelLine(line string) (label, value string, ok bool) {
	idx := strings.IndexAny(line, ":：")
	width := 1
	if idx >= 0 && strings.HasPrefix(line[idx:], "：") {
		width = len("：")
	}
	if idx < 0 {
		idx = strings.Index(line, "-")
		width = 1
	}
	if idx < 0 {
		return "", "", false
	}
	label = strings.TrimSpace(line[:idx])
	n := len([]rune(label))
	if n < 2 || n > 50 {
		return "", "", false
	}
	return label, strings.TrimSpace(line[idx+width:]), true
}

func (m *StructuredMiner) repairBrokenLabels(text string) string {
	return m.repairRe.ReplaceAllStringFunc(text, func(match string) string {
		compact := strings.Map(func(r rune) rune {
			if r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, match)
		return compact
	})
}

func (m *StructuredMiner) insertLabelBreaks(text string) string {
	for _, re := range m.insertRes {
		text = re.ReplaceAllString(text, "$1\n$2")
	}
	return text
}

// buildRepairRe matches any of the given labels with one line break inside
// and the separator after, e.g. "Emai\nl:" or "Fir\nma:".
func buildRepairRe(labels []string) *regexp.Regexp {
	var alts []string
	for _, label := range labels {
		runes := []rune(label)
		for i := 1; i < len(runes); i++ {
			alts = append(alts,
				regexp.QuoteMeta(string(runes[:i]))+`[ \t]*\n[ \t]*`+regexp.QuoteMeta(string(runes[i:]))+`[ \t]*:`)
		}
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
}

func uniqueEmails(emails []string) []string {
	seen := make(map[string]bool, len(emails))
	var out []string
	for _, e := range emails {
		e = strings.ToLower(e)
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}
