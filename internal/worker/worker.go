// Package worker is the single-writer scheduler: a long-lived goroutine
// that dequeues jobs in order, drives them through
// extraction, synthesis, and build, and publishes lifecycle/progress
// events. At most one job processes at a time, enforced by the loop
// itself rather than any OS-level lock on the job store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jzcodes/narrator/internal/epub"
	"github.com/jzcodes/narrator/internal/eventbus"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/m4b"
	"github.com/jzcodes/narrator/internal/output"
	"github.com/jzcodes/narrator/internal/queuestate"
	"github.com/jzcodes/narrator/internal/ttsclient"
)

// QuietHours is a wall-clock HH:MM window, wrapping midnight if
// Start > End.
type QuietHours struct {
	Start string
	End   string
}

// Config controls scheduling behavior.
type Config struct {
	QuietHours        QuietHours
	DelayBetweenBooks time.Duration
	ScratchRoot       string // parent of per-job scoped temp directories
	DefaultVoice      string
}

// Worker is the single-writer job processor.
type Worker struct {
	store  *jobstore.Store
	bus    *eventbus.Bus
	state  *queuestate.State
	tts    *ttsclient.Client
	output *output.Writer
	m4bOpt m4b.Options
	cfg    Config
	cfgFn  func(context.Context) Config
	logger *slog.Logger
}

// New builds a Worker.
func New(store *jobstore.Store, bus *eventbus.Bus, state *queuestate.State, tts *ttsclient.Client, out *output.Writer, m4bOpts m4b.Options, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		bus:    bus,
		state:  state,
		tts:    tts,
		output: out,
		m4bOpt: m4bOpts,
		cfg:    cfg,
		logger: logger,
	}
}

// SetConfigFunc installs a provider consulted on every loop iteration
// for the current scheduling config (quiet hours, delay between books).
// This lets runtime settings changes take effect without a restart; the
// static Config passed to New remains the fallback.
func (w *Worker) SetConfigFunc(fn func(context.Context) Config) {
	w.cfgFn = fn
}

func (w *Worker) schedulingConfig(ctx context.Context) Config {
	if w.cfgFn != nil {
		return w.cfgFn(ctx)
	}
	return w.cfg
}

// Run executes the main loop until ctx is cancelled. On start, any job
// left mid-flight by a crash is reset to pending at chapter 0 —
// crash-resume always restarts the current chapter from scratch.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.resumeCrashed(ctx); err != nil {
		return fmt.Errorf("resume crashed jobs: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if w.state.Paused() {
			if err := sleepCtx(ctx, 5*time.Second); err != nil {
				return nil
			}
			continue
		}

		cfg := w.schedulingConfig(ctx)

		if inQuietHours(cfg.QuietHours, time.Now()) {
			if err := sleepCtx(ctx, 60*time.Second); err != nil {
				return nil
			}
			continue
		}

		job, err := w.store.NextPending(ctx)
		if err != nil {
			w.logger.Error("fetch next pending job failed", "error", err)
			if err := sleepCtx(ctx, 5*time.Second); err != nil {
				return nil
			}
			continue
		}
		if job == nil {
			if err := sleepCtx(ctx, 5*time.Second); err != nil {
				return nil
			}
			continue
		}

		if cfg.DelayBetweenBooks > 0 {
			if err := sleepCtx(ctx, cfg.DelayBetweenBooks); err != nil {
				return nil
			}
		}

		w.processJob(ctx, job.ID)
	}
}

func (w *Worker) resumeCrashed(ctx context.Context) error {
	resumable, err := w.store.GetResumable(ctx)
	if err != nil {
		return err
	}
	for _, job := range resumable {
		if err := w.store.UpdateProgress(ctx, job.ID, jobstore.StatusPending, 0); err != nil {
			return fmt.Errorf("reset crashed job %d: %w", job.ID, err)
		}
		w.logger.Info("reset crashed job to pending", "job_id", job.ID)
	}
	return nil
}

func inQuietHours(qh QuietHours, now time.Time) bool {
	start, end := qh.Start, qh.End
	if start == "" || end == "" {
		return false
	}
	startMin, ok1 := parseHHMM(start)
	endMin, ok2 := parseHHMM(end)
	if !ok1 || !ok2 {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	// Wraps midnight.
	return nowMin >= startMin || nowMin < endMin
}

func parseHHMM(s string) (int, bool) {
	var h, m int
	var rest string
	// The trailing %s only matches when text follows the minutes, so
	// exactly two scanned items means the string was H:M and nothing more.
	if n, _ := fmt.Sscanf(s, "%d:%d%s", &h, &m, &rest); n != 2 {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// processJob drives one job through extraction, synthesis, and build.
// Any error is caught, recorded on the job, and published as
// job_failed; the loop always continues.
func (w *Worker) processJob(ctx context.Context, jobID int64) {
	w.state.SetCurrentJob(jobID)
	defer w.state.SetCurrentJob(0)

	scratchDir := w.scratchDir(jobID)
	if err := w.runJob(ctx, jobID, scratchDir); err != nil {
		if errors.Is(err, errPausedMidJob) {
			// Job already re-queued at its current progress. The scratch
			// dir is kept: finished chapter WAVs short-circuit synthesis
			// when the job resumes.
			return
		}
		if errors.Is(err, context.Canceled) {
			return // cooperative stop; job stays at its current status
		}
		os.RemoveAll(scratchDir)
		w.logger.Error("job failed", "job_id", jobID, "error", err)
		if failErr := w.store.FailJob(ctx, jobID, err.Error()); failErr != nil {
			w.logger.Error("failed to record job failure", "job_id", jobID, "error", failErr)
			return
		}
		w.bus.Publish(eventbus.JobFailed, map[string]any{"job_id": jobID, "error": err.Error()})
		return
	}
	os.RemoveAll(scratchDir)
}

// scratchDir is deterministic per job id so a paused or crash-resumed job
// finds its previously synthesized chapter WAVs.
func (w *Worker) scratchDir(jobID int64) string {
	root := w.cfg.ScratchRoot
	if root == "" {
		root = os.TempDir()
	}
	return filepath.Join(root, fmt.Sprintf("narrator-job-%d", jobID))
}

var errPausedMidJob = errors.New("job paused mid-processing")

func (w *Worker) runJob(ctx context.Context, jobID int64, scratchDir string) error {
	job, err := w.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	if err := w.store.StartJob(ctx, jobID, jobstore.StatusExtracting, 0); err != nil {
		return err
	}
	w.bus.Publish(eventbus.JobStarted, map[string]any{"job_id": jobID})

	book, err := epub.Extract(job.SourcePath)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	// A sidecar cover file recorded at enqueue time beats whatever the
	// archive embeds.
	cover := book.Cover
	if job.CoverPath != "" {
		if data, err := os.ReadFile(job.CoverPath); err == nil && len(data) > 0 {
			cover = data
		}
	}

	voice := job.Voice
	if voice == "" {
		voice = w.schedulingConfig(ctx).DefaultVoice
	}

	if err := w.store.StartJob(ctx, jobID, jobstore.StatusSynthesizing, len(book.Chapters)); err != nil {
		return err
	}

	if err := w.tts.Readiness(ctx); err != nil {
		return fmt.Errorf("tts readiness: %w", err)
	}

	chapters := make([]m4b.Chapter, 0, len(book.Chapters))
	for i, ch := range book.Chapters {
		idx := i + 1

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if w.state.Paused() {
			if err := w.store.UpdateProgress(ctx, jobID, jobstore.StatusPending, i); err != nil {
				return err
			}
			return errPausedMidJob
		}

		w.bus.Publish(eventbus.ChapterStarted, map[string]any{"job_id": jobID, "chapter": idx, "total": len(book.Chapters), "title": ch.Title})

		wavPath := filepath.Join(scratchDir, fmt.Sprintf("chapter_%03d.wav", idx))
		if _, err := w.tts.SynthesizeChapter(ctx, ch.Title, ch.Text, voice, wavPath, idx, len(book.Chapters), nil); err != nil {
			return fmt.Errorf("synthesize chapter %d: %w", idx, err)
		}

		chapters = append(chapters, m4b.Chapter{Title: ch.Title, WAVPath: wavPath})

		w.bus.Publish(eventbus.ChapterComplete, map[string]any{"job_id": jobID, "chapter": idx, "total": len(book.Chapters)})
		if err := w.store.UpdateProgress(ctx, jobID, jobstore.StatusSynthesizing, idx); err != nil {
			return err
		}
	}

	if err := w.store.UpdateProgress(ctx, jobID, jobstore.StatusBuilding, len(book.Chapters)); err != nil {
		return err
	}

	outM4B := filepath.Join(scratchDir, uuid.NewString()+".m4b")
	m4bMeta := m4b.Metadata{Title: book.Title, Author: book.Author}
	opts := w.m4bOpt
	opts.CoverImage = cover
	result, err := m4b.Build(ctx, scratchDir, chapters, m4bMeta, opts, outM4B)
	if err != nil {
		return fmt.Errorf("build m4b: %w", err)
	}

	finalPath, err := w.output.Write(output.WriteArgs{
		Author:      nonEmpty(job.Author, book.Author),
		Title:       nonEmpty(job.Title, book.Title),
		Series:      job.Series,
		Voice:       voice,
		Description: book.Description,
		Cover:       cover,
		TempM4BPath: outM4B,
	})
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	if err := w.store.CompleteJob(ctx, jobID, finalPath, float64(result.DurationMS)/1000.0, result.SizeBytes); err != nil {
		return err
	}
	w.bus.Publish(eventbus.JobCompleted, map[string]any{"job_id": jobID, "output_path": finalPath})
	return nil
}

func nonEmpty(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
