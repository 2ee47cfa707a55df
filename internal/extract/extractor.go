package extract

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"lexio/internal/text"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document contains no extractable text")
)

// DefaultWordsPerPage is the pagination window for flat formats (TXT, MD,
// DOCX) that carry no native page boundaries.
const DefaultWordsPerPage = 500

type Page struct {
	Number       int
	Text         string
	WordCount    int
	HasTables    bool
	HasEquations bool
}

type Metadata struct {
	Title  string
	Author string
}

type Result struct {
	TotalPages int
	Pages      []Page
	Metadata   Metadata
	Headers    []string
	Footers    []string
}

// Extractor converts raw document bytes into per-page plain text. It is a
// pure function of its input: no store is touched, and the same bytes always
// produce the same result.
type Extractor struct {
	wordsPerPage int
}

func New(wordsPerPage int) *Extractor {
	if wordsPerPage <= 0 {
		wordsPerPage = DefaultWordsPerPage
	}
	return &Extractor{wordsPerPage: wordsPerPage}
}

// Extract dispatches on the file extension. Unsupported formats fail fast
// with ErrUnsupportedFormat rather than degrading to a best-effort guess.
func (e *Extractor) Extract(data []byte, filename string) (*Result, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return e.extractPDF(data)
	case ".docx":
		return e.extractDocx(data, filename)
	case ".txt", ".md":
		return e.paginate(string(data), metadataFromFilename(filename))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func (e *Extractor) extractPDF(data []byte) (*Result, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("validate pdf: %w", err)
	}

	res, err := docconv.Convert(bytes.NewReader(data), "application/pdf", false)
	if err != nil {
		return nil, fmt.Errorf("convert pdf: %w", err)
	}

	rawPages := splitFormFeeds(res.Body, pageCount)
	pages := buildPages(rawPages)
	if allPagesEmpty(pages) {
		return nil, ErrEmptyDocument
	}

	bp := text.DetectBoilerplate(rawPages)
	return &Result{
		TotalPages: len(pages),
		Pages:      pages,
		Metadata:   metadataFromDocconv(res.Meta),
		Headers:    bp.Headers,
		Footers:    bp.Footers,
	}, nil
}

func (e *Extractor) extractDocx(data []byte, filename string) (*Result, error) {
	mime := "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	res, err := docconv.Convert(bytes.NewReader(data), mime, false)
	if err != nil {
		return nil, fmt.Errorf("convert docx: %w", err)
	}

	meta := metadataFromDocconv(res.Meta)
	if meta.Title == "" {
		meta = metadataFromFilename(filename)
	}
	return e.paginate(res.Body, meta)
}

// paginate chunks a flat word stream into fixed windows. Word order is
// preserved; original line structure is not, which is acceptable for formats
// without real pages.
func (e *Extractor) paginate(body string, meta Metadata) (*Result, error) {
	words := strings.Fields(text.Sanitize(body))
	if len(words) == 0 {
		return nil, ErrEmptyDocument
	}

	var rawPages []string
	for start := 0; start < len(words); start += e.wordsPerPage {
		end := start + e.wordsPerPage
		if end > len(words) {
			end = len(words)
		}
		rawPages = append(rawPages, strings.Join(words[start:end], " "))
	}

	pages := buildPages(rawPages)
	bp := text.DetectBoilerplate(rawPages)
	return &Result{
		TotalPages: len(pages),
		Pages:      pages,
		Metadata:   meta,
		Headers:    bp.Headers,
		Footers:    bp.Footers,
	}, nil
}

// splitFormFeeds splits converter output on form feeds, the page separator
// pdftotext emits, and reconciles the slice length with the authoritative
// count from the PDF page tree.
func splitFormFeeds(body string, pageCount int) []string {
	parts := strings.Split(body, "\f")
	// A trailing form feed leaves one empty tail element.
	if len(parts) > pageCount && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	// Pad with empty pages (image-only pages yield no text) or merge
	// overflow into the final page so numbering stays dense 1..pageCount.
	for len(parts) < pageCount {
		parts = append(parts, "")
	}
	if len(parts) > pageCount {
		parts = append(parts[:pageCount-1], strings.Join(parts[pageCount-1:], "\n"))
	}
	return parts
}

func buildPages(rawPages []string) []Page {
	pages := make([]Page, 0, len(rawPages))
	for i, raw := range rawPages {
		clean := text.Sanitize(raw)
		pages = append(pages, Page{
			Number:       i + 1,
			Text:         clean,
			WordCount:    len(strings.Fields(clean)),
			HasTables:    looksTabular(clean),
			HasEquations: looksMathematical(clean),
		})
	}
	return pages
}

func allPagesEmpty(pages []Page) bool {
	for _, p := range pages {
		if p.WordCount > 0 {
			return false
		}
	}
	return true
}

var equationRe = regexp.MustCompile(`[∑∏∫√≈≠≤≥±×÷]|\b[a-zA-Z]\s*=\s*[-0-9a-zA-Z(]`)

func looksMathematical(s string) bool {
	return equationRe.MatchString(s)
}

// looksTabular flags pages where at least two lines carry pipe or tab
// separated cells, the shape both markdown tables and converter output for
// real tables take.
func looksTabular(s string) bool {
	rows := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.Count(line, "|") >= 2 || strings.Count(line, "\t") >= 2 {
			rows++
			if rows >= 2 {
				return true
			}
		}
	}
	return false
}

func metadataFromDocconv(meta map[string]string) Metadata {
	if meta == nil {
		return Metadata{}
	}
	return Metadata{
		Title:  meta["Title"],
		Author: meta["Author"],
	}
}

func metadataFromFilename(filename string) Metadata {
	base := filepath.Base(filename)
	return Metadata{Title: strings.TrimSuffix(base, filepath.Ext(base))}
}
