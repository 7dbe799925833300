// Package library defines the LibraryReader capability the core consumes
// and the one concrete implementation this repository ships: a
// folder-scanning reader. A database-backed reader is a second variant
// that would live behind the same interface.
package library

import "context"

// Format identifies the on-disk book flavor.
type Format string

const (
	FormatEPUB  Format = "EPUB"
	FormatKEPUB Format = "KEPUB"
)

// Book is a source ebook record.
type Book struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Series      string   `json:"series,omitempty"`
	SeriesIndex *float64 `json:"series_index,omitempty"`
	Cover       string   `json:"cover,omitempty"` // optional path to a cover image, if known up front
	SourcePath  string   `json:"source_path"`
	Format      Format   `json:"format"`
}

// Reader is the capability surface the Worker and bulk-enqueue paths
// consume. Two variants are
// anticipated: database-backed and folder-scanning.
type Reader interface {
	ListBooks(ctx context.Context) ([]Book, error)
	GetBook(ctx context.Context, id string) (Book, error)
	GetSourcePath(ctx context.Context, book Book) (string, error)
	GetCoverPath(ctx context.Context, book Book) (string, error)
}
