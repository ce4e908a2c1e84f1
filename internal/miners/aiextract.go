package miners

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// aiSystemPrompt is fixed: one JSON object, the named schema, nulls for
// absent fields. Tolerant parsing below handles providers that wrap the
// object in prose or fences anyway.
const aiSystemPrompt = `You extract contact information from text. Respond with exactly one JSON object matching this schema and nothing else, no prose, no code fences:
{"company_name": string|null, "contact_name": string|null, "job_title": string|null, "email": string|null, "phone": string|null, "address": string|null, "city": string|null, "state": string|null, "country": string|null, "website": string|null}
Use null for any field not present in the text. Never invent values.`

const (
	// DefaultMaxAIBlocks caps LLM calls per job.
	DefaultMaxAIBlocks = 10
	// aiChunkRunes bounds one text chunk sent to the provider.
	aiChunkRunes = 2000
)

type aiContact struct {
	CompanyName *string `json:"company_name"`
	ContactName *string `json:"contact_name"`
	JobTitle    *string `json:"job_title"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	Address     *string `json:"address"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Country     *string `json:"country"`
	Website     *string `json:"website"`
}

// AIMiner sends text blocks to the LLM collaborator and parses the JSON
// answers into candidates. Blocks come pre-segmented for URL jobs; plain
// text is chunked here.
type AIMiner struct {
	llm       interfaces.LLMService
	limiter   *rate.Limiter
	maxBlocks int
	maxTokens int
}

// NewAIMiner builds the miner. A nil limiter disables the per-block delay;
// maxBlocks <= 0 selects the default cap.
func NewAIMiner(llm interfaces.LLMService, limiter *rate.Limiter, maxBlocks, maxTokens int) *AIMiner {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxAIBlocks
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AIMiner{llm: llm, limiter: limiter, maxBlocks: maxBlocks, maxTokens: maxTokens}
}

// Type implements Miner.
func (m *AIMiner) Type() models.MinerType { return models.MinerAI }

// Mine implements Miner.
func (m *AIMiner) Mine(ctx context.Context, input *Input) (*models.MinerResult, error) {
	result := &models.MinerResult{
		Status: models.MineStatusPartial,
		Meta:   models.MinerMeta{Source: string(models.MinerAI), Method: "llm_json"},
	}
	if m.llm == nil {
		result.Status = models.MineStatusError
		result.Meta.Error = "no llm provider configured"
		return result, nil
	}

	blocks := input.Blocks
	if len(blocks) == 0 {
		blocks = chunkText(input.Text, aiChunkRunes)
	}
	if len(blocks) > m.maxBlocks {
		blocks = blocks[:m.maxBlocks]
	}
	result.Meta.Blocks = len(blocks)

	var firstErr error
	failures := 0
	for _, block := range blocks {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}
		response, err := m.llm.Complete(ctx, aiSystemPrompt, block, m.maxTokens)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			failures++
			if firstErr == nil {
				firstErr = err
			}
			if interfaces.BlockedError(err) {
				// The provider is refusing us; further blocks will fare
				// no better this run.
				break
			}
			continue
		}

		extracted, err := parseAIContact(response)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		email := strings.TrimSpace(deref(extracted.Email))
		if email == "" {
			continue // nothing anchors the record
		}
		c := &models.Candidate{
			Email:   email,
			Name:    deref(extracted.ContactName),
			Company: deref(extracted.CompanyName),
			Title:   deref(extracted.JobTitle),
			Phone:   deref(extracted.Phone),
			Website: deref(extracted.Website),
			Country: deref(extracted.Country),
			City:    deref(extracted.City),
			Address: deref(extracted.Address),
			Raw:     response,
			Sources: []string{string(models.MinerAI)},
		}
		result.Contacts = append(result.Contacts, c)
		result.Emails = append(result.Emails, strings.ToLower(email))
	}

	result.Emails = uniqueEmails(result.Emails)
	switch {
	case len(result.Contacts) > 0:
		result.Status = models.MineStatusSuccess
	case firstErr != nil && interfaces.BlockedError(firstErr):
		result.Status = models.MineStatusBlocked
		result.Meta.Error = firstErr.Error()
	case failures > 0 && failures == len(blocks):
		result.Status = models.MineStatusError
		result.Meta.Error = firstErr.Error()
	}
	return result, nil
}

// parseAIContact parses the provider answer tolerantly: code fences are
// stripped, and when the whole answer is not valid JSON the first brace
// to the last brace substring is tried.
func parseAIContact(response string) (*aiContact, error) {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	var c aiContact
	if err := json.Unmarshal([]byte(s), &c); err == nil {
		return &c, nil
	}
	open := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if open < 0 || last <= open {
		return nil, errors.New("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(s[open:last+1]), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// chunkText splits plain text into paragraph-aligned chunks of bounded
// size so each LLM call sees a coherent piece.
func chunkText(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var chunks []string
	var current strings.Builder
	currentRunes := 0
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := len([]rune(para))
		if currentRunes > 0 && currentRunes+n > maxRunes {
			chunks = append(chunks, current.String())
			current.Reset()
			currentRunes = 0
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
			currentRunes += 2
		}
		current.WriteString(para)
		currentRunes += n
	}
	if currentRunes > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
