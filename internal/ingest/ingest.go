// Package ingest normalizes raw job inputs into the text and sheet payloads
// the miners consume. File inputs are sniffed (PDF, markdown, CSV/TSV, plain
// text) and reduced to text; tabular inputs additionally yield sheets plus a
// column map when a header row is detected.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/lexicon"
	"github.com/ternarybob/colligo/internal/miners"
	"github.com/ternarybob/colligo/internal/models"
)

// Kind is the sniffed shape of a raw input.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindMarkdown Kind = "markdown"
	KindCSV      Kind = "csv"
	KindText     Kind = "text"
)

// Service turns raw job inputs into miner inputs.
type Service struct {
	lex    *lexicon.Lexicon
	logger arbor.ILogger
}

// NewService creates an ingest service over the given lexicon.
func NewService(lex *lexicon.Lexicon) *Service {
	if lex == nil {
		lex = lexicon.Default()
	}
	return &Service{
		lex:    lex,
		logger: common.GetLogger(),
	}
}

// Prepare reduces a file or text job to the normalized miner input. URL jobs
// are rendered by the engine instead; passing one here is a programming error.
func (s *Service) Prepare(ctx context.Context, job *models.MiningJob) (*miners.Input, error) {
	switch job.Type {
	case models.JobTypeText:
		return s.prepareBytes(ctx, "", job.Input)
	case models.JobTypeFile:
		return s.prepareBytes(ctx, job.FileName, job.Input)
	default:
		return nil, fmt.Errorf("ingest does not handle %s jobs", job.Type)
	}
}

func (s *Service) prepareBytes(ctx context.Context, fileName string, data []byte) (*miners.Input, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind := Sniff(fileName, data)
	s.logger.Debug().
		Str("kind", string(kind)).
		Str("file_name", fileName).
		Int("bytes", len(data)).
		Msg("Sniffed input")

	switch kind {
	case KindPDF:
		text, err := ExtractPDFText(data)
		if err != nil {
			return nil, fmt.Errorf("failed to extract PDF text: %w", err)
		}
		return &miners.Input{Text: text}, nil

	case KindMarkdown:
		return &miners.Input{Text: MarkdownToText(data)}, nil

	case KindCSV:
		sheet, err := ParseSheet(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tabular input: %w", err)
		}
		columnMap, skip := s.DetectHeader(sheet)
		input := &miners.Input{
			Text:      string(data),
			Sheets:    [][][]string{sheet[skip:]},
			ColumnMap: columnMap,
		}
		s.logger.Debug().
			Int("rows", len(sheet)-skip).
			Int("mapped_columns", len(columnMap)).
			Msg("Parsed tabular input")
		return input, nil

	default:
		return &miners.Input{Text: normalizeNewlines(string(data))}, nil
	}
}

// ReduceHTML converts rendered page HTML to markdown-ish text so the text
// miners can run beside the DOM-block miner on the same render.
func (s *Service) ReduceHTML(html, pageURL string) string {
	text, err := HTMLToText(html, pageURL)
	if err != nil {
		s.logger.Warn().Err(err).Msg("HTML reduction failed, using stripped fallback")
		return stripTags(html)
	}
	return text
}

// normalizeNewlines folds \r\n and bare \r separators to \n.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
