package library

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FolderReader walks a root directory for *.epub/*.kepub.epub files and
// synthesizes one Book per file: title from the filename, author from
// the immediate parent directory.
type FolderReader struct {
	Root string
}

// NewFolderReader builds a Reader rooted at root.
func NewFolderReader(root string) *FolderReader {
	return &FolderReader{Root: root}
}

var _ Reader = (*FolderReader)(nil)

// ListBooks walks Root for EPUB/KEPUB files.
func (f *FolderReader) ListBooks(ctx context.Context) ([]Book, error) {
	var books []Book
	err := filepath.WalkDir(f.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		format, ok := classify(path)
		if !ok {
			return nil
		}

		rel, _ := filepath.Rel(f.Root, path)
		books = append(books, Book{
			ID:         bookID(rel),
			Title:      titleFromFilename(path),
			Author:     filepath.Base(filepath.Dir(path)),
			SourcePath: path,
			Format:     format,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan library folder %s: %w", f.Root, err)
	}
	return books, nil
}

// bookID derives a URL-safe opaque id from a book's root-relative path,
// so ids survive being embedded in request paths regardless of the
// directory layout.
func bookID(rel string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(filepath.ToSlash(rel)))
}

// GetBook resolves an id back to its file without re-walking the tree.
func (f *FolderReader) GetBook(ctx context.Context, id string) (Book, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return Book{}, fmt.Errorf("book %q not found under %s", id, f.Root)
	}
	rel := filepath.FromSlash(string(raw))
	path := filepath.Join(f.Root, rel)

	// Refuse ids that escape the library root.
	if resolved, err := filepath.Rel(f.Root, path); err != nil || strings.HasPrefix(resolved, "..") {
		return Book{}, fmt.Errorf("book %q not found under %s", id, f.Root)
	}

	format, ok := classify(path)
	if !ok {
		return Book{}, fmt.Errorf("book %q not found under %s", id, f.Root)
	}
	if _, err := os.Stat(path); err != nil {
		return Book{}, fmt.Errorf("book %q not found under %s", id, f.Root)
	}

	return Book{
		ID:         id,
		Title:      titleFromFilename(path),
		Author:     filepath.Base(filepath.Dir(path)),
		SourcePath: path,
		Format:     format,
	}, nil
}

func (f *FolderReader) GetSourcePath(_ context.Context, book Book) (string, error) {
	return book.SourcePath, nil
}

// GetCoverPath looks for a sibling cover.{jpg,jpeg,png} file next to the
// source and returns "" when there is none. The EPUB extractor itself
// never looks for such sidecar files.
func (f *FolderReader) GetCoverPath(_ context.Context, book Book) (string, error) {
	dir := filepath.Dir(book.SourcePath)
	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		candidate := filepath.Join(dir, "cover"+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func classify(path string) (Format, bool) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".kepub.epub"):
		return FormatKEPUB, true
	case strings.HasSuffix(lower, ".epub"):
		return FormatEPUB, true
	default:
		return "", false
	}
}

func titleFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimSuffix(base, ".kepub")
	return base
}
