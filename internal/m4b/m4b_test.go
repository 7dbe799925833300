package m4b

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestEscapeMetaEscapesSpecialChars(t *testing.T) {
	got := escapeMeta("Chapter 1: The #Beginning; a \\test")
	want := `Chapter 1\: The \#Beginning\; a \\test`
	if got != want {
		t.Fatalf("escapeMeta mismatch:\n got  %q\n want %q", got, want)
	}
}

func TestWriteFFMetadataAccumulatesOffsets(t *testing.T) {
	chapters := []Chapter{{Title: "One"}, {Title: "Two"}, {Title: "Three"}}
	durations := []int{1000, 2500, 500}

	out := writeFFMetadata("", Metadata{Title: "Book", Author: "Author"}, chapters, durations)

	if !strings.Contains(out, "title=Book") || !strings.Contains(out, "artist=Author") {
		t.Fatalf("expected global tags present, got:\n%s", out)
	}

	wantBlocks := []string{
		"START=0\nEND=1000\ntitle=One",
		"START=1000\nEND=3500\ntitle=Two",
		"START=3500\nEND=4000\ntitle=Three",
	}
	for _, block := range wantBlocks {
		if !strings.Contains(out, block) {
			t.Fatalf("expected chapter block %q in output:\n%s", block, out)
		}
	}
}

func TestWithDefaultsFillsBitrate(t *testing.T) {
	o := Options{}.withDefaults()
	if o.AACBitrate != "128k" {
		t.Fatalf("expected default bitrate 128k, got %q", o.AACBitrate)
	}
	o2 := Options{AACBitrate: "64k"}.withDefaults()
	if o2.AACBitrate != "64k" {
		t.Fatalf("expected explicit bitrate preserved, got %q", o2.AACBitrate)
	}
}

func TestBuildRequiresAtLeastOneChapter(t *testing.T) {
	_, err := Build(context.Background(), t.TempDir(), nil, Metadata{}, Options{}, filepath.Join(t.TempDir(), "out.m4b"))
	if err == nil {
		t.Fatalf("expected error for zero chapters")
	}
}

func TestCheckToolchainReportsMissingBinaries(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err == nil {
		t.Skip("ffmpeg present on PATH; toolchain-missing path not exercised")
	}
	if err := CheckToolchain(); err == nil {
		t.Fatalf("expected CheckToolchain to fail without ffmpeg on PATH")
	}
}
