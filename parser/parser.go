// Package parser loads document files into raw text for ingestion.
package parser

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for a file extension with no parser.
	ErrUnsupportedFormat = errors.New("parser: unsupported format")

	// ErrParseError is returned when a parser fails to read a document.
	ErrParseError = errors.New("parser: parse error")
)

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section // Ordered sections extracted from the document
	Metadata map[string]string
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	PageNumber int
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// Text joins the sections into a single text with paragraph breaks between
// sections. Headings that do not already open their section are kept as
// their own paragraph.
func (r *ParseResult) Text() string {
	var b strings.Builder
	for _, s := range r.Sections {
		content := strings.TrimSpace(s.Content)
		heading := strings.TrimSpace(s.Heading)
		if content == "" && heading == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if heading != "" && !strings.HasPrefix(content, heading) {
			b.WriteString(heading)
			if content != "" {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(content)
	}
	return b.String()
}
