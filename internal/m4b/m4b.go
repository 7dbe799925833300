// Package m4b builds a chaptered M4B audiobook from per-chapter WAV
// files: transcode each to AAC, concatenate by stream copy,
// embed chapter markers with bit-accurate offsets plus tags and cover
// art, then validate the result. All steps shell out to ffmpeg/ffprobe.
package m4b

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrBuild wraps any subprocess failure or post-build validation
// mismatch.
var ErrBuild = errors.New("m4b build failed")

// Chapter is one transcode input: WAV source path and its narration
// title, to become one [CHAPTER] block in the output.
type Chapter struct {
	Title   string
	WAVPath string
}

// Metadata holds the tags written into the ffmetadata file.
type Metadata struct {
	Title  string
	Author string
	Date   string // optional, RFC3339 or year; omitted if empty
}

// Options controls the transcode/mux pipeline.
type Options struct {
	AACBitrate string // default "128k"
	Cleanup    bool   // delete source WAVs after successful transcode
	CoverImage []byte // optional, written as attached picture (mjpeg)
}

// Result is the validated output description.
type Result struct {
	Path             string
	SizeBytes        int64
	DurationMS       int
	ActualChapters   int
	ExpectedChapters int
}

func (o Options) withDefaults() Options {
	if o.AACBitrate == "" {
		o.AACBitrate = "128k"
	}
	return o
}

// CheckToolchain verifies ffmpeg and ffprobe are on PATH.
func CheckToolchain() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("%w: ffmpeg not found in PATH: %v", ErrBuild, err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("%w: ffprobe not found in PATH: %v", ErrBuild, err)
	}
	return nil
}

// Build transcodes each chapter's WAV to AAC, concatenates them, embeds
// chapter markers computed from probed (not estimated) durations, muxes
// in the cover image and tags with faststart, then validates the
// result. workDir is a scoped scratch directory the caller owns and is
// responsible for removing.
func Build(ctx context.Context, workDir string, chapters []Chapter, meta Metadata, opts Options, outPath string) (*Result, error) {
	opts = opts.withDefaults()

	if len(chapters) == 0 {
		return nil, fmt.Errorf("%w: no chapters to build", ErrBuild)
	}
	if err := CheckToolchain(); err != nil {
		return nil, err
	}

	aacPaths := make([]string, len(chapters))
	durationsMS := make([]int, len(chapters))

	for i, ch := range chapters {
		aacPath := filepath.Join(workDir, fmt.Sprintf("chapter_%03d.m4a", i+1))
		if err := transcodeToAAC(ctx, ch.WAVPath, aacPath, opts.AACBitrate); err != nil {
			return nil, fmt.Errorf("%w: chapter %d transcode: %v", ErrBuild, i+1, err)
		}
		if opts.Cleanup {
			os.Remove(ch.WAVPath)
		}

		durMS, err := probeDurationMS(ctx, aacPath)
		if err != nil {
			return nil, fmt.Errorf("%w: chapter %d probe: %v", ErrBuild, i+1, err)
		}

		aacPaths[i] = aacPath
		durationsMS[i] = durMS
	}

	combinedPath := filepath.Join(workDir, "combined.m4a")
	if err := concatAAC(ctx, workDir, aacPaths, combinedPath); err != nil {
		return nil, fmt.Errorf("%w: concat: %v", ErrBuild, err)
	}

	metaPath := filepath.Join(workDir, "ffmetadata.txt")
	offsets := writeFFMetadata(metaPath, meta, chapters, durationsMS)
	if err := os.WriteFile(metaPath, []byte(offsets), 0o644); err != nil {
		return nil, fmt.Errorf("%w: write ffmetadata: %v", ErrBuild, err)
	}

	var coverPath string
	if len(opts.CoverImage) > 0 {
		coverPath = filepath.Join(workDir, "cover.jpg")
		if err := os.WriteFile(coverPath, opts.CoverImage, 0o644); err != nil {
			return nil, fmt.Errorf("%w: write cover: %v", ErrBuild, err)
		}
	}

	if err := mux(ctx, combinedPath, metaPath, coverPath, outPath); err != nil {
		return nil, fmt.Errorf("%w: mux: %v", ErrBuild, err)
	}

	return validate(ctx, outPath, len(chapters))
}

func transcodeToAAC(ctx context.Context, wavPath, aacPath, bitrate string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", wavPath,
		"-c:a", "aac",
		"-b:a", bitrate,
		aacPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg transcode failed: %w\noutput: %s", err, out)
	}
	return nil
}

func probeDurationMS(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("parse ffprobe duration: %w", err)
	}
	return int(durationSec * 1000), nil
}

// concatAAC writes a concat-demuxer manifest and stream-copies every
// chapter's AAC into one file.
func concatAAC(ctx context.Context, workDir string, inputs []string, outPath string) error {
	listPath := filepath.Join(workDir, "concat_list.txt")
	var b strings.Builder
	for _, f := range inputs {
		escaped := strings.ReplaceAll(f, "'", "'\\''")
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg concat failed: %w\noutput: %s", err, out)
	}
	return nil
}

// writeFFMetadata builds the ffmetadata text: global tags followed by one
// [CHAPTER] block per chapter, offsets accumulating exactly from probed
// durations.
func writeFFMetadata(_ string, meta Metadata, chapters []Chapter, durationsMS []int) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	if meta.Title != "" {
		fmt.Fprintf(&b, "title=%s\n", escapeMeta(meta.Title))
		fmt.Fprintf(&b, "album=%s\n", escapeMeta(meta.Title))
	}
	if meta.Author != "" {
		fmt.Fprintf(&b, "artist=%s\n", escapeMeta(meta.Author))
	}
	b.WriteString("genre=Audiobook\n")
	if meta.Date != "" {
		fmt.Fprintf(&b, "date=%s\n", escapeMeta(meta.Date))
	}

	offset := 0
	for i, ch := range chapters {
		end := offset + durationsMS[i]
		b.WriteString("\n[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", offset)
		fmt.Fprintf(&b, "END=%d\n", end)
		fmt.Fprintf(&b, "title=%s\n", escapeMeta(ch.Title))
		offset = end
	}
	return b.String()
}

func escapeMeta(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "=", "\\=", ";", "\\;", "#", "\\#", "\n", "\\\n")
	return r.Replace(s)
}

// mux combines the concatenated audio, ffmetadata, and optional cover
// into the final M4B with faststart.
func mux(ctx context.Context, combinedPath, metaPath, coverPath, outPath string) error {
	args := []string{"-y", "-i", combinedPath, "-i", metaPath}
	if coverPath != "" {
		args = append(args, "-i", coverPath)
	}
	args = append(args, "-map_metadata", "1", "-map", "0:a")
	if coverPath != "" {
		args = append(args,
			"-map", "2:v",
			"-c:v", "mjpeg",
			"-disposition:v", "attached_pic",
		)
	}
	args = append(args,
		"-c:a", "copy",
		"-movflags", "+faststart",
		outPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg mux failed: %w\noutput: %s", err, out)
	}
	return nil
}

// validate confirms the output file exists, is non-empty, and that
// ffprobe reports the expected chapter count.
func validate(ctx context.Context, path string, expectedChapters int) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: output missing: %v", ErrBuild, err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("%w: output is empty", ErrBuild)
	}

	durationMS, err := probeDurationMS(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: validate probe duration: %v", ErrBuild, err)
	}

	actual, err := probeChapterCount(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: validate probe chapters: %v", ErrBuild, err)
	}

	result := &Result{
		Path:             path,
		SizeBytes:        info.Size(),
		DurationMS:       durationMS,
		ActualChapters:   actual,
		ExpectedChapters: expectedChapters,
	}
	if actual != expectedChapters {
		return result, fmt.Errorf("%w: chapter count mismatch: expected %d, got %d", ErrBuild, expectedChapters, actual)
	}
	return result, nil
}

func probeChapterCount(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_chapters",
		"-of", "csv=p=0",
		path,
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe chapters failed: %w", err)
	}

	count := 0
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

// ParseDurationMS is exposed for tests that need to assert exact
// accumulation
// against a hand-rolled offsets list.
func ParseDurationMS(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
