package jobstore

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, s *Store, libraryBookID string) *Job {
	t.Helper()
	job, err := s.Enqueue(context.Background(), BookFields{
		LibraryBookID: libraryBookID,
		Title:         "Test Book",
		Author:        "Test Author",
		SourcePath:    "/books/test.epub",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func TestEnqueueAssignsQueuePosition(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j1 := enqueueTestJob(t, s, "book-1")
	j2 := enqueueTestJob(t, s, "book-2")

	if j1.QueuePosition == nil || *j1.QueuePosition != 1 {
		t.Fatalf("expected job1 queue_position 1, got %v", j1.QueuePosition)
	}
	if j2.QueuePosition == nil || *j2.QueuePosition != 2 {
		t.Fatalf("expected job2 queue_position 2, got %v", j2.QueuePosition)
	}
	if j1.Status != StatusPending || j2.Status != StatusPending {
		t.Fatalf("expected both jobs pending")
	}

	next, err := s.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next.ID != j1.ID {
		t.Fatalf("expected job1 to be next pending, got job %d", next.ID)
	}
}

func TestIsDuplicateIgnoresFailedJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := enqueueTestJob(t, s, "book-dup")
	dup, err := s.IsDuplicate(ctx, "book-dup")
	if err != nil {
		t.Fatalf("IsDuplicate: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate for a pending job")
	}

	if err := s.FailJob(ctx, job.ID, "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	dup, err = s.IsDuplicate(ctx, "book-dup")
	if err != nil {
		t.Fatalf("IsDuplicate after fail: %v", err)
	}
	if dup {
		t.Fatalf("expected failed job to not count as a duplicate")
	}
}

func TestJobLifecycleTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := enqueueTestJob(t, s, "book-lifecycle")

	if err := s.StartJob(ctx, job.ID, StatusExtracting, 0); err != nil {
		t.Fatalf("StartJob extracting: %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != StatusExtracting || got.StartedAt == nil {
		t.Fatalf("expected extracting with started_at set, got %+v", got)
	}

	if err := s.StartJob(ctx, job.ID, StatusSynthesizing, 5); err != nil {
		t.Fatalf("StartJob synthesizing: %v", err)
	}
	if err := s.UpdateProgress(ctx, job.ID, StatusSynthesizing, 3); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	got, _ = s.GetJob(ctx, job.ID)
	if got.ChaptersTotal != 5 || got.ChaptersDone != 3 {
		t.Fatalf("expected chapters_total=5 chapters_done=3, got %+v", got)
	}

	if err := s.CompleteJob(ctx, job.ID, "/library/book.m4b", 123.5, 456); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	got, _ = s.GetJob(ctx, job.ID)
	if got.Status != StatusComplete || got.OutputPath != "/library/book.m4b" {
		t.Fatalf("expected complete status with output path, got %+v", got)
	}
	if got.QueuePosition != nil {
		t.Fatalf("expected queue_position cleared on completion")
	}
}

func TestRetryJobOnlyFromFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	job := enqueueTestJob(t, s, "book-retry")

	if _, err := s.RetryJob(ctx, job.ID); err == nil {
		t.Fatalf("expected retry of a pending job to fail")
	}

	if err := s.FailJob(ctx, job.ID, "network blip"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	retried, err := s.RetryJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retried.Status != StatusPending || retried.ErrorMessage != "" {
		t.Fatalf("expected pending with cleared error, got %+v", retried)
	}
}

func TestGetResumableReturnsInFlightJobsOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pending := enqueueTestJob(t, s, "book-pending")
	crashed := enqueueTestJob(t, s, "book-crashed")
	done := enqueueTestJob(t, s, "book-done")

	if err := s.StartJob(ctx, crashed.ID, StatusSynthesizing, 2); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if err := s.StartJob(ctx, done.ID, StatusExtracting, 0); err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if err := s.CompleteJob(ctx, done.ID, "/x.m4b", 1, 1); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	resumable, err := s.GetResumable(ctx)
	if err != nil {
		t.Fatalf("GetResumable: %v", err)
	}
	if len(resumable) != 1 || resumable[0].ID != crashed.ID {
		t.Fatalf("expected only the crashed job resumable, got %+v", resumable)
	}
	_ = pending
}

func TestReorderOnlyAffectsPendingJobs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := enqueueTestJob(t, s, "book-a")
	b := enqueueTestJob(t, s, "book-b")

	if err := s.Reorder(ctx, []int64{b.ID, a.ID}); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	next, err := s.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next.ID != b.ID {
		t.Fatalf("expected job b first after reorder, got %d", next.ID)
	}
}

func TestQueueSummaryTalliesByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	enqueueTestJob(t, s, "book-1")
	j2 := enqueueTestJob(t, s, "book-2")
	if err := s.FailJob(ctx, j2.ID, "err"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	sum, err := s.QueueSummary(ctx)
	if err != nil {
		t.Fatalf("QueueSummary: %v", err)
	}
	if sum.Pending != 1 || sum.Failed != 1 {
		t.Fatalf("expected 1 pending 1 failed, got %+v", sum)
	}
}

func TestSettingsStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "tts.default_voice", "af_heart", "default narration voice"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	entry, err := s.Get(ctx, "tts.default_voice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil || entry.Value != "af_heart" {
		t.Fatalf("expected af_heart, got %+v", entry)
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 setting entry, got %d", len(entries))
	}
}
