// Package epub extracts chaptered plain text and cover art from EPUB and
// KEPUB files, without needing a table of contents that matches the spine
// 1:1. It runs a cascade of chapter-detection strategies and filters out
// front matter (title pages, copyright notices, dedications) before
// handing chapters to the narration pipeline.
package epub

import (
	"archive/zip"
	"errors"
	"fmt"
)

// ErrExtraction wraps any failure encountered while reading an EPUB
// container, its package document, or its chapter content.
var ErrExtraction = errors.New("epub extraction failed")

const (
	// MinChapterWords discards detected chapters shorter than this after
	// front-matter filtering; they are dropped, not merged into a
	// neighboring chapter.
	MinChapterWords = 50
	// FallbackChapterWords is the fixed chunk size used by the strategy
	// of last resort when no table of contents, headings, or numbered
	// sections can be found.
	FallbackChapterWords = 5000
)

// Book is the metadata and structural content extracted from an EPUB
// container before chapter detection runs.
type Book struct {
	Title       string
	Author      string
	Language    string
	Publisher   string
	Description string

	Cover         []byte
	CoverMimeType string

	// Spine is the reading-order list of XHTML documents, each already
	// reduced to plain text (koboSpan/drop-cap unwrapped).
	Spine []SpineDoc

	// TOC is the flattened table of contents, in document order, used by
	// the TOC-driven detection strategy.
	TOC []TOCEntry
}

// SpineDoc is one reading-order document from the spine.
type SpineDoc struct {
	ID   string
	Path string
	Text string
	// Raw holds the parsed HTML tree, kept around so the TOC strategy can
	// walk siblings starting from a fragment anchor.
	Raw *parsedHTML
}

// TOCEntry is one flattened navigation point: a chapter title pointing at
// a spine file and, optionally, a fragment id within it.
type TOCEntry struct {
	Title    string
	Path     string
	Fragment string
}

// Chapter is one chapter of extracted narration text.
type Chapter struct {
	Title     string
	Text      string
	WordCount int
}

// ExtractedBook is the final result: metadata plus a chaptered text body.
type ExtractedBook struct {
	Title       string
	Author      string
	Language    string
	Publisher   string
	Description string

	Cover         []byte
	CoverMimeType string

	Chapters []Chapter
}

// Extract reads an EPUB (or KEPUB, which is an EPUB with Kobo-specific
// span wrapping) file and returns its metadata and detected chapters.
func Extract(path string) (*ExtractedBook, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open container: %w", ErrExtraction, err)
	}
	defer zr.Close()

	book, err := readContainer(&zr.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	chapters := detectChapters(book)
	chapters = filterChapters(chapters)

	if len(chapters) == 0 {
		return nil, fmt.Errorf("%w: no chapters detected", ErrExtraction)
	}

	return &ExtractedBook{
		Title:         book.Title,
		Author:        book.Author,
		Language:      book.Language,
		Publisher:     book.Publisher,
		Description:   book.Description,
		Cover:         book.Cover,
		CoverMimeType: book.CoverMimeType,
		Chapters:      chapters,
	}, nil
}
