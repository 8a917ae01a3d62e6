package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser renders each sheet as a pipe table, one section per sheet.
// Blank rows and trailing empty cells are dropped.
type XLSXParser struct{}

func (p *XLSXParser) SupportedFormats() []string { return []string{"xlsx"} }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sections []Section
	for i, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if content := sheetTable(rows); content != "" {
			sections = append(sections, Section{Heading: sheet, Content: content, PageNumber: i + 1})
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no data found in XLSX")
	}
	return &ParseResult{
		Sections: sections,
		Metadata: map[string]string{"sheets": strconv.Itoa(len(sections))},
	}, nil
}

func sheetTable(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		last := len(row)
		for last > 0 && strings.TrimSpace(row[last-1]) == "" {
			last--
		}
		if last == 0 {
			continue
		}
		b.WriteString("| " + strings.Join(row[:last], " | ") + " |\n")
	}
	return b.String()
}
