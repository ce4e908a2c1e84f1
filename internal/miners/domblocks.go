package miners

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/pipeline"
)

// DefaultMaxBlocks caps how many text blocks one page contributes.
const DefaultMaxBlocks = 50

var (
	brTagRe    = regexp.MustCompile(`(?i)<br\s*/?>`)
	closeTagRe = regexp.MustCompile(`(?i)</(p|div|li|tr|td|h[1-6]|section|article|table)>`)

	// cardSelectors are class hints for contact cards.
	cardSelectors = strings.Join([]string{
		".card", ".contact", ".contact-card", ".contact-info", ".contact-item",
		".member", ".team-member", ".staff", ".profile", ".person", ".vcard",
		".people-item", ".directory-item", ".listing", ".exhibitor",
	}, ", ")

	// profileContainers hold directory-style profile items.
	profileContainers = strings.Join([]string{
		".team", ".members", ".member-list", ".directory", ".people",
		".staff-list", ".profiles", ".exhibitors",
	}, ", ")

	phoneContextWords = []string{"phone", "tel", "mobile", "gsm", "cep", "fax", "call"}

	// profilePathRe matches link paths worth a second-pass crawl.
	profilePathRe = regexp.MustCompile(`(?i)/(member|profile|user|author|people|person|team|staff|speaker|exhibitor)s?([/\-_?]|$)`)
)

// DOMMiner consumes one rendered page. The engine renders the URL once and
// hands the HTML (and optionally pre-segmented blocks) to this miner and
// the AI miner together.
type DOMMiner struct {
	lex       *lexicon.Lexicon
	un        *UnstructuredMiner
	maxBlocks int
}

// NewDOMMiner builds the miner. maxBlocks <= 0 selects the default cap.
func NewDOMMiner(lex *lexicon.Lexicon, maxBlocks int) *DOMMiner {
	if lex == nil {
		lex = lexicon.Default()
	}
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	return &DOMMiner{lex: lex, un: NewUnstructuredMiner(lex), maxBlocks: maxBlocks}
}

// Type implements Miner.
func (m *DOMMiner) Type() models.MinerType { return models.MinerDOM }

// Mine implements Miner.
func (m *DOMMiner) Mine(ctx context.Context, input *Input) (*models.MinerResult, error) {
	result := &models.MinerResult{
		Status: models.MineStatusPartial,
		Meta:   models.MinerMeta{Source: string(models.MinerDOM), HTTPStatus: input.HTTPStatus},
	}
	if interfaces.IsBlockedStatus(input.HTTPStatus) {
		result.Status = models.MineStatusBlocked
		return result, nil
	}
	if strings.TrimSpace(input.HTML) == "" {
		result.Status = models.MineStatusError
		result.Meta.Error = "page not rendered"
		return result, nil
	}

	blocks, method := input.Blocks, input.BlockMethod
	if len(blocks) == 0 {
		blocks, method = ExtractBlocks(input.HTML, m.maxBlocks)
	}
	result.Meta.Method = method
	result.Meta.Blocks = len(blocks)

	seen := make(map[string]bool)
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		lines := strings.Split(block, "\n")
		for i, line := range lines {
			for _, raw := range pipeline.ExtractEmails(line) {
				email := strings.ToLower(raw)
				if seen[email] {
					continue
				}
				seen[email] = true
				c := m.un.mineWindow(lines, i, email)
				c.Raw = block
				c.Sources = []string{string(models.MinerDOM)}
				result.Emails = append(result.Emails, email)
				result.Contacts = append(result.Contacts, c)
			}
		}
	}

	if len(result.Contacts) > 0 {
		result.Status = models.MineStatusSuccess
	}
	return result, nil
}

// ExtractBlocks segments rendered HTML into contact-bearing text blocks.
// Strategies run in order and the first one that finds blocks wins; the
// method name of the winning strategy is returned for diagnostics.
func ExtractBlocks(html string, maxBlocks int) ([]string, string) {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(withLineBreaks(html)))
	if err != nil {
		return nil, "parse_failed"
	}
	doc.Find("script, style, noscript, svg").Remove()

	strategies := []struct {
		name string
		fn   func(*goquery.Document) []string
	}{
		{"td_scan", tdBlocks},
		{"card_scan", cardBlocks},
		{"profile_scan", profileBlocks},
		{"generic_scan", genericBlocks},
	}
	for _, strategy := range strategies {
		if blocks := dedupeBlocks(strategy.fn(doc), maxBlocks); len(blocks) > 0 {
			return blocks, strategy.name
		}
	}
	return nil, "no_blocks"
}

// ExtractProfileLinks harvests profile-page URLs for an optional second
// pass. Only same-host http(s) links whose path matches the member,
// profile, user or author patterns are kept.
func ExtractProfileLinks(html, pageURL string, max int) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		if resolved.Host != base.Host {
			return true
		}
		if !profilePathRe.MatchString(resolved.Path) {
			return true
		}
		resolved.Fragment = ""
		link := resolved.String()
		if seen[link] {
			return true
		}
		seen[link] = true
		links = append(links, link)
		return max <= 0 || len(links) < max
	})
	return links
}

// withLineBreaks injects newlines where the browser would break lines, so
// block text keeps its visual line structure after goquery's Text().
func withLineBreaks(html string) string {
	html = brTagRe.ReplaceAllString(html, "\n")
	return closeTagRe.ReplaceAllString(html, "\n</$1>")
}

func tdBlocks(doc *goquery.Document) []string {
	var blocks []string
	doc.Find("td").Each(func(_ int, sel *goquery.Selection) {
		text := blockText(sel)
		if len([]rune(text)) <= 50 {
			return
		}
		if strings.Contains(text, "@") || containsAnyFold(text, "address", "phone", "tel") {
			blocks = append(blocks, text)
		}
	})
	return blocks
}

func cardBlocks(doc *goquery.Document) []string {
	var blocks []string
	doc.Find(cardSelectors).Each(func(_ int, sel *goquery.Selection) {
		text := blockText(sel)
		n := len([]rune(text))
		if n < 30 || n > 3000 {
			return
		}
		if strings.Contains(text, "@") || phoneWithContext(text) {
			blocks = append(blocks, text)
		}
	})
	return blocks
}

func profileBlocks(doc *goquery.Document) []string {
	var blocks []string
	doc.Find(profileContainers).Each(func(_ int, container *goquery.Selection) {
		container.Find("li, article, .item, .entry").Each(func(_ int, sel *goquery.Selection) {
			text := blockText(sel)
			n := len([]rune(text))
			if n >= 30 && n <= 2000 {
				blocks = append(blocks, text)
			}
		})
	})
	return blocks
}

func genericBlocks(doc *goquery.Document) []string {
	var blocks []string
	doc.Find("div, section, article, li, p").Each(func(_ int, sel *goquery.Selection) {
		text := blockText(sel)
		n := len([]rune(text))
		if n < 30 || n > 1500 {
			return
		}
		if pipeline.ExtractEmail(text) != "" {
			blocks = append(blocks, text)
		}
	})
	return blocks
}

// blockText extracts a selection's text with tidy lines: every line
// trimmed, empty lines dropped.
func blockText(sel *goquery.Selection) string {
	var lines []string
	for _, line := range strings.Split(sel.Text(), "\n") {
		line = strings.TrimSpace(spaceRunsRe.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

var spaceRunsRe = regexp.MustCompile(`[ \t\x{00A0}]+`)

// dedupeBlocks drops near-duplicate blocks by a length-bounded normalized
// prefix and caps the result.
func dedupeBlocks(blocks []string, max int) []string {
	seen := make(map[string]bool, len(blocks))
	var out []string
	for _, block := range blocks {
		key := lexicon.Fold(pipeline.NormalizeSpace(block))
		if runes := []rune(key); len(runes) > 80 {
			key = string(runes[:80])
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, block)
		if len(out) >= max {
			break
		}
	}
	return out
}

func phoneWithContext(text string) bool {
	if pipeline.FindPhone(text) == "" {
		return false
	}
	return containsAnyFold(text, phoneContextWords...)
}

func containsAnyFold(text string, words ...string) bool {
	folded := lexicon.Fold(text)
	for _, w := range words {
		if strings.Contains(folded, w) {
			return true
		}
	}
	return false
}
