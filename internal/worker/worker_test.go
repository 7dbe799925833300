package worker

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/jzcodes/narrator/internal/eventbus"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/m4b"
	"github.com/jzcodes/narrator/internal/output"
	"github.com/jzcodes/narrator/internal/queuestate"
	"github.com/jzcodes/narrator/internal/ttsclient"
)

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		wantMin int
		wantOK  bool
	}{
		{"09:30", 9*60 + 30, true},
		{"00:00", 0, true},
		{"23:59", 23*60 + 59, true},
		{"24:00", 0, false},
		{"9:30pm", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, ok := parseHHMM(c.in)
		if ok != c.wantOK {
			t.Errorf("parseHHMM(%q) ok = %v, want %v", c.in, ok, c.wantOK)
			continue
		}
		if ok && got != c.wantMin {
			t.Errorf("parseHHMM(%q) = %d, want %d", c.in, got, c.wantMin)
		}
	}
}

func TestInQuietHoursWithinSameDayWindow(t *testing.T) {
	qh := QuietHours{Start: "22:00", End: "23:00"}
	if !inQuietHours(qh, time.Date(2026, 1, 1, 22, 30, 0, 0, time.UTC)) {
		t.Fatalf("expected 22:30 to be within 22:00-23:00 quiet hours")
	}
	if inQuietHours(qh, time.Date(2026, 1, 1, 21, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected 21:59 to be outside quiet hours")
	}
}

func TestInQuietHoursWrappingMidnight(t *testing.T) {
	qh := QuietHours{Start: "22:00", End: "06:00"}
	if !inQuietHours(qh, time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 23:00 to be within wrapping quiet hours")
	}
	if !inQuietHours(qh, time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 03:00 to be within wrapping quiet hours")
	}
	if inQuietHours(qh, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected noon to be outside wrapping quiet hours")
	}
}

func TestInQuietHoursDisabledWhenUnset(t *testing.T) {
	if inQuietHours(QuietHours{}, time.Now()) {
		t.Fatalf("expected no quiet hours configured to never suppress scheduling")
	}
}

// writeTestEpub builds a minimal two-chapter EPUB, mirroring the fixture
// style used by the epub package's own tests.
func writeTestEpub(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	files := map[string]string{
		"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Worker Test Book</dc:title>
    <dc:creator>Worker Test Author</dc:creator>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`,
		"OEBPS/toc.ncx": `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1"><navLabel><text>Chapter One</text></navLabel><content src="ch1.xhtml"/></navPoint>
    <navPoint id="n2"><navLabel><text>Chapter Two</text></navLabel><content src="ch2.xhtml"/></navPoint>
  </navMap>
</ncx>`,
		"OEBPS/ch1.xhtml": `<html><body><h1>Chapter One</h1><p>` + repeatWords(80) + `</p></body></html>`,
		"OEBPS/ch2.xhtml": `<html><body><h1>Chapter Two</h1><p>` + repeatWords(80) + `</p></body></html>`,
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close epub zip: %v", err)
	}
}

func repeatWords(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += "word "
	}
	return out
}

// writeSilentWAV writes a tiny valid PCM WAV file, standing in for a
// synthesized chunk.
func writeSilentWAV(t *testing.T, w interface{ Write([]byte) (int, error) }) {
	t.Helper()
	const sampleRate = 22050
	const numSamples = sampleRate / 10 // 100ms of silence
	dataSize := numSamples * 2

	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, "RIFF"...)
	buf = appendUint32(buf, uint32(36+dataSize))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = appendUint32(buf, 16)
	buf = append(buf, 1, 0) // PCM
	buf = append(buf, 1, 0) // mono
	buf = appendUint32(buf, sampleRate)
	buf = appendUint32(buf, sampleRate*2)
	buf = append(buf, 2, 0)  // block align
	buf = append(buf, 16, 0) // bits per sample
	buf = append(buf, "data"...)
	buf = appendUint32(buf, uint32(dataSize))
	buf = append(buf, make([]byte, dataSize)...)

	if _, err := w.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func appendUint32(b []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(b, tmp...)
}

func newFakeTTSServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/voices", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		writeSilentWAV(t, w)
	})
	return httptest.NewServer(mux)
}

// TestRunJobFullPipeline exercises extraction, synthesis against a fake
// TTS endpoint, m4b build, and output placement end to end. It requires
// ffmpeg/ffprobe on PATH, same as the m4b package's own toolchain-gated
// tests.
func TestRunJobFullPipeline(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available on PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available on PATH")
	}

	dir := t.TempDir()
	epubPath := filepath.Join(dir, "book.epub")
	writeTestEpub(t, epubPath)

	store, err := jobstore.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	defer store.Close()

	job, err := store.Enqueue(context.Background(), jobstore.BookFields{
		LibraryBookID: "book-1",
		Title:         "Worker Test Book",
		Author:        "Worker Test Author",
		SourcePath:    epubPath,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ttsServer := newFakeTTSServer(t)
	defer ttsServer.Close()

	tts := ttsclient.New(ttsclient.Config{BaseURL: ttsServer.URL, DefaultVoice: "af_heart"})

	outRoot := filepath.Join(dir, "library")
	w := New(
		store,
		eventbus.New(),
		queuestate.New(),
		tts,
		output.New(outRoot),
		m4b.Options{},
		Config{ScratchRoot: dir, DefaultVoice: "af_heart"},
		nil,
	)

	if err := w.runJob(context.Background(), job.ID, w.scratchDir(job.ID)); err != nil {
		t.Fatalf("runJob: %v", err)
	}

	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != jobstore.StatusComplete {
		t.Fatalf("expected job complete, got %s (error: %s)", got.Status, got.ErrorMessage)
	}
	if _, err := os.Stat(got.OutputPath); err != nil {
		t.Fatalf("expected output m4b to exist: %v", err)
	}
}

func TestRunJobFailsOnMissingSource(t *testing.T) {
	dir := t.TempDir()
	store, err := jobstore.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	defer store.Close()

	job, err := store.Enqueue(context.Background(), jobstore.BookFields{
		LibraryBookID: "book-missing",
		Title:         "Ghost",
		SourcePath:    filepath.Join(dir, "does-not-exist.epub"),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := New(store, eventbus.New(), queuestate.New(), ttsclient.New(ttsclient.Config{BaseURL: "http://127.0.0.1:1"}),
		output.New(filepath.Join(dir, "library")), m4b.Options{}, Config{ScratchRoot: dir}, nil)

	w.processJob(context.Background(), job.ID)

	got, err := store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != jobstore.StatusFailed {
		t.Fatalf("expected job failed, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected a recorded error message")
	}
}
