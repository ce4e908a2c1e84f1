package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/ternarybob/colligo/internal/models"
)

// ParseSheet parses CSV or TSV bytes into rows. The separator is detected
// per line, so sheets pasted together from mixed sources still parse.
// Quoted fields are tolerated (LazyQuotes) and rows may have ragged lengths.
func ParseSheet(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var rows [][]string
	for _, line := range strings.Split(normalizeNewlines(string(data)), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if emptyRow(row) {
			continue
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows")
	}
	return rows, nil
}

// parseLine splits one line on its own separator: tab when the line
// carries one, comma otherwise. Literal tabs almost never appear inside
// field values while commas do, so a tab present means a tab row.
func parseLine(line string) ([]string, error) {
	reader := csv.NewReader(strings.NewReader(line))
	if strings.ContainsRune(line, '\t') {
		reader.Comma = '\t'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	return reader.Read()
}

// DetectHeader decides whether the first row is a header and returns the
// column map it yields plus the number of leading rows to skip.
//
// A first row is a header when its cells resolve through the lexicon to at
// least two distinct fields including email, or when the row carries no
// email address itself while later rows do. In the second case whatever
// labels do resolve still populate the map; an empty map leaves the miner in
// headerless mode with the header row consumed.
func (s *Service) DetectHeader(rows [][]string) (map[models.Field]int, int) {
	if len(rows) == 0 {
		return nil, 0
	}
	first := rows[0]

	columnMap := make(map[models.Field]int)
	for i, cell := range first {
		if cell == "" || strings.Contains(cell, "@") {
			continue
		}
		field, ok := s.lex.FieldFor(cell)
		if !ok {
			continue
		}
		if _, taken := columnMap[field]; taken {
			continue
		}
		columnMap[field] = i
	}

	if _, hasEmail := columnMap[models.FieldEmail]; hasEmail && len(columnMap) >= 2 {
		return columnMap, 1
	}

	// Label-less header: the first row carries no address while data rows do.
	if !rowHasEmail(first) {
		for _, row := range rows[1:] {
			if rowHasEmail(row) {
				if len(columnMap) == 0 {
					return nil, 1
				}
				return columnMap, 1
			}
		}
	}

	return nil, 0
}

func rowHasEmail(row []string) bool {
	for _, cell := range row {
		if strings.Contains(cell, "@") {
			return true
		}
	}
	return false
}

func emptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
