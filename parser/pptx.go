package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

// PPTXParser reads the text runs of each slide, one section per slide.
type PPTXParser struct{}

func (p *PPTXParser) SupportedFormats() []string { return []string{"pptx"} }

func (p *PPTXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening PPTX: %w", err)
	}
	defer r.Close()

	// ppt/slides/slide1.xml, slide2.xml, ...
	slideFiles := make(map[int]*zip.File)
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			if num := slideNumber(f.Name); num > 0 {
				slideFiles[num] = f
			}
		}
	}
	nums := make([]int, 0, len(slideFiles))
	for n := range slideFiles {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	var sections []Section
	for _, num := range nums {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := readZipFile(slideFiles[num])
		if err != nil {
			return nil, fmt.Errorf("reading slide %d: %w", num, err)
		}
		text := slideText(data)
		if text == "" {
			continue
		}
		sections = append(sections, Section{
			Heading:    fmt.Sprintf("Slide %d", num),
			Content:    text,
			PageNumber: num,
		})
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("no text found in PPTX")
	}
	return &ParseResult{Sections: sections}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type pptxSlide struct {
	CSld struct {
		SpTree struct {
			SPs []pptxShape `xml:"sp"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

type pptxShape struct {
	TxBody *struct {
		Paras []struct {
			Runs []struct {
				Text string `xml:"t"`
			} `xml:"r"`
		} `xml:"p"`
	} `xml:"txBody"`
}

// slideText returns the non-empty paragraphs of a slide, one per line.
func slideText(data []byte) string {
	var slide pptxSlide
	if err := xml.Unmarshal(data, &slide); err != nil {
		return ""
	}
	var parts []string
	for _, sp := range slide.CSld.SpTree.SPs {
		if sp.TxBody == nil {
			continue
		}
		for _, para := range sp.TxBody.Paras {
			var line strings.Builder
			for _, run := range para.Runs {
				line.WriteString(run.Text)
			}
			if t := strings.TrimSpace(line.String()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// slideNumber parses N from "ppt/slides/slideN.xml".
func slideNumber(name string) int {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml")
	var num int
	if _, err := fmt.Sscanf(name, "%d", &num); err != nil {
		return 0
	}
	return num
}
