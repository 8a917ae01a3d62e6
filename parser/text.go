package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// TextParser handles plain text and markdown files.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}

	content, enc := decodeText(data)
	res := &ParseResult{Metadata: map[string]string{"encoding": enc}}
	if strings.TrimSpace(content) == "" {
		return res, nil
	}
	res.Sections = []Section{{Content: content}}
	return res, nil
}

// decodeText returns data as UTF-8. Invalid UTF-8 is tried as GBK and then
// read as Latin-1, which accepts any byte sequence.
func decodeText(data []byte) (string, string) {
	data = trimBOM(data)
	if utf8.Valid(data) {
		return string(data), "utf-8"
	}
	if out, err := simplifiedchinese.GBK.NewDecoder().Bytes(data); err == nil && !strings.ContainsRune(string(out), utf8.RuneError) {
		return string(out), "gbk"
	}
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(data)
	return string(out), "latin1"
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
