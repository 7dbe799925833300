// Package output places a finished M4B (and its sidecars) under
// {root}/author/[series/]title/, moving the file atomically from its
// scratch location.
package output

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// ErrWrite wraps any failure placing the final output on disk.
var ErrWrite = errors.New("output write failed")

// sanitizeRE-equivalent: these characters are illegal or awkward on
// common filesystems and get replaced with underscores.
var illegalChars = []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}

// Sanitize replaces filesystem-illegal characters and trims whitespace
// from a path component.
func Sanitize(name string) string {
	s := name
	for _, c := range illegalChars {
		s = strings.ReplaceAll(s, c, "_")
	}
	return strings.TrimSpace(s)
}

// Writer places completed audiobooks under a fixed layout rooted at a
// configured output directory.
type Writer struct {
	Root string
}

// New builds a Writer rooted at root.
func New(root string) *Writer {
	return &Writer{Root: root}
}

// Destination computes the final directory and M4B path for a book,
// without touching the filesystem.
func (w *Writer) Destination(author, title, series string) (dir, m4bPath string) {
	parts := []string{w.Root, Sanitize(author)}
	if series != "" {
		parts = append(parts, Sanitize(series))
	}
	parts = append(parts, Sanitize(title))
	dir = filepath.Join(parts...)
	m4bPath = filepath.Join(dir, Sanitize(title)+".m4b")
	return dir, m4bPath
}

// Exists returns true iff the computed final M4B path already exists. The
// batch-convert endpoint uses this as a cheap skip check when
// bulk-enqueueing; it is NOT a substitute for the JobStore duplicate guard.
func (w *Writer) Exists(author, title, series string) bool {
	_, m4bPath := w.Destination(author, title, series)
	_, err := os.Stat(m4bPath)
	return err == nil
}

// WriteArgs bundles everything needed to place one completed audiobook.
type WriteArgs struct {
	Author      string
	Title       string
	Series      string
	Voice       string
	Description string
	Cover       []byte // optional, any image/jpeg or image/png source
	TempM4BPath string // source path to move into place
}

// Write moves the temp M4B into its final destination and writes the
// cover/description/reader sidecars alongside it. The M4B is
// moved, not copied, so placement is atomic within a filesystem.
func (w *Writer) Write(args WriteArgs) (finalPath string, err error) {
	dir, m4bPath := w.Destination(args.Author, args.Title, args.Series)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", ErrWrite, dir, err)
	}

	if err := moveFile(args.TempM4BPath, m4bPath); err != nil {
		return "", fmt.Errorf("%w: move m4b: %v", ErrWrite, err)
	}

	if len(args.Cover) > 0 {
		if err := writeCoverThumbnail(args.Cover, filepath.Join(dir, "cover.jpg")); err != nil {
			return "", fmt.Errorf("%w: write cover: %v", ErrWrite, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "desc.txt"), []byte(args.Description), 0o644); err != nil {
		return "", fmt.Errorf("%w: write desc.txt: %v", ErrWrite, err)
	}

	readerLine := fmt.Sprintf("AI Narration (%s)", args.Voice)
	if err := os.WriteFile(filepath.Join(dir, "reader.txt"), []byte(readerLine), 0o644); err != nil {
		return "", fmt.Errorf("%w: write reader.txt: %v", ErrWrite, err)
	}

	return m4bPath, nil
}

// moveFile renames src to dst, falling back to copy+remove across
// filesystem boundaries (e.g. the scratch dir on a different mount than
// the library root).
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write destination: %w", err)
	}
	return os.Remove(src)
}

// writeCoverThumbnail downsamples cover to fit within 800x800, keeping its
// aspect ratio and leaving smaller covers at their size, and writes it as an
// RGB JPEG, resampled with golang.org/x/image's CatmullRom scaler.
func writeCoverThumbnail(src []byte, outPath string) error {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("decode cover: %w", err)
	}

	const maxDim = 800
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := 1.0
	if w > maxDim || h > maxDim {
		if w > h {
			scale = float64(maxDim) / float64(w)
		} else {
			scale = float64(maxDim) / float64(h)
		}
	}
	dstW, dstH := int(float64(w)*scale), int(float64(h)*scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create cover file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, dst, &jpeg.Options{Quality: 90})
}
