package endpoints

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jzcodes/narrator/internal/api"
	"github.com/jzcodes/narrator/internal/config"
	"github.com/jzcodes/narrator/internal/eventbus"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/library"
	"github.com/jzcodes/narrator/internal/output"
	"github.com/jzcodes/narrator/internal/queuestate"
	"github.com/jzcodes/narrator/internal/svcctx"
)

type testEnv struct {
	store *jobstore.Store
	bus   *eventbus.Bus
	state *queuestate.State
	mux   http.Handler
	dir   string
}

// newTestEnv wires a real job store, event bus, queue state, and a
// folder library into the full endpoint mux, the same shape the server
// package assembles.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store, err := jobstore.Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := config.SeedDefaults(context.Background(), store, nil); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	libRoot := filepath.Join(dir, "library")
	if err := os.MkdirAll(filepath.Join(libRoot, "Test Author"), 0o755); err != nil {
		t.Fatalf("mkdir library: %v", err)
	}
	if err := os.WriteFile(filepath.Join(libRoot, "Test Author", "Test Book.epub"), []byte("zip"), 0o644); err != nil {
		t.Fatalf("write epub: %v", err)
	}
	if err := os.WriteFile(filepath.Join(libRoot, "Test Author", "cover.jpg"), []byte("jpg"), 0o644); err != nil {
		t.Fatalf("write cover: %v", err)
	}

	env := &testEnv{
		store: store,
		bus:   eventbus.New(),
		state: queuestate.New(),
		dir:   dir,
	}

	services := &svcctx.Services{
		JobStore:    store,
		EventBus:    env.bus,
		QueueState:  env.state,
		Library:     library.NewFolderReader(libRoot),
		Output:      output.New(filepath.Join(dir, "out")),
		ConfigStore: store,
	}

	registry := api.NewRegistry()
	for _, ep := range All() {
		registry.Register(ep)
	}
	mux := http.NewServeMux()
	registry.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc { return next })

	env.mux = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (e *testEnv) bookID(t *testing.T) string {
	t.Helper()
	var resp ListBooksResponse
	rec := e.do(t, "GET", "/books", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /books: status %d", rec.Code)
	}
	decodeInto(t, rec, &resp)
	if len(resp.Books) != 1 {
		t.Fatalf("expected 1 library book, got %d", len(resp.Books))
	}
	return resp.Books[0].ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: status %d", rec.Code)
	}
}

func TestConvertEnqueuesAndGuardsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookID(t)

	rec := env.do(t, "POST", "/books/"+id+"/convert", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST convert: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp ConvertResponse
	decodeInto(t, rec, &resp)
	if resp.Job.Status != jobstore.StatusPending {
		t.Fatalf("expected pending job, got %s", resp.Job.Status)
	}
	if resp.Job.Voice == "" {
		t.Fatal("expected the default voice to be filled in")
	}
	if filepath.Base(resp.Job.CoverPath) != "cover.jpg" {
		t.Fatalf("expected the sidecar cover path on the job, got %q", resp.Job.CoverPath)
	}

	// Second enqueue for the same book must be refused.
	rec = env.do(t, "POST", "/books/"+id+"/convert", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate enqueue, got %d", rec.Code)
	}
}

func TestConvertUnknownBookReturns404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/books/nope/convert", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown book, got %d", rec.Code)
	}
}

func TestConvertBatchSkipsDuplicatesAndMissing(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookID(t)

	rec := env.do(t, "POST", "/books/convert-batch", ConvertBatchRequest{BookIDs: []string{id, "missing"}})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST convert-batch: status %d", rec.Code)
	}
	var resp ConvertBatchResponse
	decodeInto(t, rec, &resp)
	if len(resp.Enqueued) != 1 || len(resp.Skipped) != 1 {
		t.Fatalf("expected 1 enqueued + 1 skipped, got %d/%d", len(resp.Enqueued), len(resp.Skipped))
	}

	// Re-running the batch skips everything.
	rec = env.do(t, "POST", "/books/convert-batch", ConvertBatchRequest{BookIDs: []string{id}})
	decodeInto(t, rec, &resp)
	if len(resp.Enqueued) != 0 || len(resp.Skipped) != 1 {
		t.Fatalf("expected repeat batch to skip, got %d enqueued", len(resp.Enqueued))
	}
}

func TestQueuePauseResume(t *testing.T) {
	env := newTestEnv(t)

	events, unsubscribe := env.bus.Subscribe()
	defer unsubscribe()

	rec := env.do(t, "POST", "/queue/pause", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST pause: status %d", rec.Code)
	}
	if !env.state.Paused() {
		t.Fatal("expected queue state paused")
	}

	var queueResp QueueResponse
	rec = env.do(t, "GET", "/queue", nil)
	decodeInto(t, rec, &queueResp)
	if !queueResp.Paused {
		t.Fatal("expected GET /queue to report paused")
	}

	rec = env.do(t, "POST", "/queue/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST resume: status %d", rec.Code)
	}
	if env.state.Paused() {
		t.Fatal("expected queue state resumed")
	}

	wantTypes := []eventbus.Type{eventbus.QueuePaused, eventbus.QueueResumed}
	for _, want := range wantTypes {
		select {
		case evt := <-events:
			if evt.Type != want {
				t.Fatalf("expected event %s, got %s", want, evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestCancelThenRetryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id := env.bookID(t)

	rec := env.do(t, "POST", "/books/"+id+"/convert", nil)
	var created ConvertResponse
	decodeInto(t, rec, &created)
	jobPath := created.Job

	rec = env.do(t, "DELETE", "/queue/"+itoa(jobPath.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE job: status %d", rec.Code)
	}
	var cancelled JobResponse
	decodeInto(t, rec, &cancelled)
	if cancelled.Job.Status != jobstore.StatusFailed {
		t.Fatalf("expected cancelled job to be failed, got %s", cancelled.Job.Status)
	}
	if cancelled.Job.ErrorMessage != "Cancelled by user" {
		t.Fatalf("unexpected cancel message %q", cancelled.Job.ErrorMessage)
	}

	rec = env.do(t, "POST", "/queue/"+itoa(jobPath.ID)+"/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST retry: status %d", rec.Code)
	}
	var retried JobResponse
	decodeInto(t, rec, &retried)
	if retried.Job.Status != jobstore.StatusPending {
		t.Fatalf("expected retried job pending, got %s", retried.Job.Status)
	}
	if retried.Job.ChaptersDone != 0 || retried.Job.ErrorMessage != "" {
		t.Fatal("expected retry to clear progress and error")
	}

	// Retrying a pending job is a state conflict.
	rec = env.do(t, "POST", "/queue/"+itoa(jobPath.ID)+"/retry", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 retrying a pending job, got %d", rec.Code)
	}
}

func TestRetryUnknownJobReturns404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/queue/9999/retry", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}
}

func TestReorderQueue(t *testing.T) {
	env := newTestEnv(t)

	var ids []int64
	for _, title := range []string{"a", "b", "c"} {
		job, err := env.store.Enqueue(context.Background(), jobstore.BookFields{
			LibraryBookID: title, Title: title, SourcePath: title + ".epub",
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", title, err)
		}
		ids = append(ids, job.ID)
	}

	reversed := []int64{ids[2], ids[1], ids[0]}
	rec := env.do(t, "PATCH", "/queue/reorder", ReorderRequest{JobIDs: reversed})
	if rec.Code != http.StatusOK {
		t.Fatalf("PATCH reorder: status %d", rec.Code)
	}
	var resp ListJobsResponse
	decodeInto(t, rec, &resp)
	if len(resp.Jobs) != 3 {
		t.Fatalf("expected 3 pending jobs, got %d", len(resp.Jobs))
	}
	for i, want := range reversed {
		if resp.Jobs[i].ID != want {
			t.Fatalf("position %d: expected job %d, got %d", i, want, resp.Jobs[i].ID)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/settings", nil)
	var list SettingsResponse
	decodeInto(t, rec, &list)
	if len(list.Settings) == 0 {
		t.Fatal("expected seeded settings")
	}

	rec = env.do(t, "PUT", "/settings/queue.quiet_hours_start", UpdateSettingRequest{Value: "22:00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT setting: status %d", rec.Code)
	}

	rec = env.do(t, "GET", "/settings/queue.quiet_hours_start", nil)
	var got SettingResponse
	decodeInto(t, rec, &got)
	if got.Entry.Value != "22:00" {
		t.Fatalf("expected updated value, got %v", got.Entry.Value)
	}

	rec = env.do(t, "POST", "/settings/reset/queue.quiet_hours_start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST reset: status %d", rec.Code)
	}
	rec = env.do(t, "GET", "/settings/queue.quiet_hours_start", nil)
	decodeInto(t, rec, &got)
	if got.Entry.Value != "" {
		t.Fatalf("expected reset to default, got %v", got.Entry.Value)
	}

	rec = env.do(t, "GET", "/settings/does.not.exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown setting, got %d", rec.Code)
	}
}

func TestQueueEventsStreamsBusEvents(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/queue/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET events: status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)

	// The stream leads with a comment frame.
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if !strings.HasPrefix(line, ":") {
		t.Fatalf("expected comment frame, got %q", line)
	}

	// Wait for the subscription to land before publishing.
	deadline := time.Now().Add(time.Second)
	for env.bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.bus.Publish(eventbus.JobStarted, map[string]any{"job_id": 1})

	var eventLine string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event frame: %v", err)
		}
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimSpace(line)
			break
		}
	}
	if eventLine != "event: job_started" {
		t.Fatalf("expected job_started event, got %q", eventLine)
	}

	dataLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read data frame: %v", err)
	}
	if !strings.HasPrefix(dataLine, "data: ") {
		t.Fatalf("expected data frame, got %q", dataLine)
	}
	var evt eventbus.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(dataLine), "data: ")), &evt); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if evt.Type != eventbus.JobStarted {
		t.Fatalf("expected job_started payload, got %s", evt.Type)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
