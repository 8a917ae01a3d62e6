package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// DOCXParser reads paragraphs and tables from word/document.xml.
type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	sections, err := parseDocxXML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	return &ParseResult{Sections: sections}, nil
}

type docxDocument struct {
	XMLName xml.Name `xml:"document"`
	Body    docxBody `xml:"body"`
}

type docxBody struct {
	Paras  []docxPara  `xml:"p"`
	Tables []docxTable `xml:"tbl"`
}

type docxPara struct {
	XMLName xml.Name    `xml:"p"`
	PPr     *docxParaPr `xml:"pPr"`
	Runs    []docxRun   `xml:"r"`
}

type docxParaPr struct {
	PStyle *docxPStyle `xml:"pStyle"`
}

type docxPStyle struct {
	Val string `xml:"val,attr"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

// parseDocxXML groups paragraphs under their heading-styled paragraphs.
// Tables follow the text sections.
func parseDocxXML(data []byte) ([]Section, error) {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var sections []Section
	var current strings.Builder
	var heading string

	flush := func() {
		if current.Len() > 0 || heading != "" {
			sections = append(sections, Section{
				Heading: heading,
				Content: strings.TrimSpace(current.String()),
			})
			current.Reset()
		}
	}

	for _, para := range doc.Body.Paras {
		text := extractParaText(para)
		if text == "" {
			continue
		}

		style := ""
		if para.PPr != nil && para.PPr.PStyle != nil {
			style = strings.ToLower(para.PPr.PStyle.Val)
		}

		if strings.HasPrefix(style, "heading") || strings.HasPrefix(style, "title") {
			flush()
			heading = text
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(text)
	}
	flush()

	for _, tbl := range doc.Body.Tables {
		var table strings.Builder
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				parts := make([]string, 0, len(cell.Paras))
				for _, p := range cell.Paras {
					parts = append(parts, extractParaText(p))
				}
				cells = append(cells, strings.Join(parts, " "))
			}
			table.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		sections = append(sections, Section{Content: table.String()})
	}

	return sections, nil
}

func extractParaText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}
