package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/api"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/library"
	"github.com/jzcodes/narrator/internal/svcctx"
)

// ConvertRequest is the optional request body for conversion endpoints.
type ConvertRequest struct {
	Voice string `json:"voice,omitempty"`
}

// ConvertResponse is the response for a single-book conversion request.
type ConvertResponse struct {
	Job *jobstore.Job `json:"job"`
}

// ConvertBatchRequest is the request body for batch conversion.
type ConvertBatchRequest struct {
	BookIDs []string `json:"book_ids"`
	Voice   string   `json:"voice,omitempty"`
}

// SkippedBook explains why a batch entry was not enqueued.
type SkippedBook struct {
	BookID string `json:"book_id"`
	Reason string `json:"reason"`
}

// ConvertBatchResponse is the response for batch conversion.
type ConvertBatchResponse struct {
	Enqueued []*jobstore.Job `json:"enqueued"`
	Skipped  []SkippedBook   `json:"skipped"`
}

// defaultVoice resolves the voice for a job that didn't specify one: the
// dynamic settings override first, then the static config default.
func defaultVoice(ctx context.Context) string {
	if store := svcctx.ConfigStoreFrom(ctx); store != nil {
		if entry, err := store.Get(ctx, "tts.default_voice"); err == nil && entry != nil {
			if v, ok := entry.Value.(string); ok && v != "" {
				return v
			}
		}
	}
	if cfg := svcctx.ConfigFrom(ctx); cfg != nil {
		return cfg.TTS.Voice
	}
	return ""
}

// enqueueBook runs the shared duplicate-guarded enqueue path for one book.
func enqueueBook(ctx context.Context, book library.Book, voice string) (*jobstore.Job, error) {
	store := svcctx.JobStoreFrom(ctx)
	lib := svcctx.LibraryFrom(ctx)

	dup, err := store.IsDuplicate(ctx, book.ID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, fmt.Errorf("%w: book %s", jobstore.ErrDuplicate, book.ID)
	}

	sourcePath, err := lib.GetSourcePath(ctx, book)
	if err != nil {
		return nil, err
	}

	// A sidecar cover file next to the source takes precedence over
	// whatever the archive embeds; resolution failure just means no hint.
	coverPath, err := lib.GetCoverPath(ctx, book)
	if err != nil {
		coverPath = ""
	}

	if voice == "" {
		voice = defaultVoice(ctx)
	}

	return store.Enqueue(ctx, jobstore.BookFields{
		LibraryBookID: book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Series:        book.Series,
		SeriesIndex:   book.SeriesIndex,
		Voice:         voice,
		SourcePath:    sourcePath,
		CoverPath:     coverPath,
	})
}

// ConvertBookEndpoint handles POST /books/{id}/convert.
type ConvertBookEndpoint struct{}

func (e *ConvertBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/books/{id}/convert", e.handler
}

func (e *ConvertBookEndpoint) RequiresInit() bool { return true }

func (e *ConvertBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "book id is required")
		return
	}

	var req ConvertRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	book, err := lib.GetBook(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	job, err := enqueueBook(r.Context(), book, req.Voice)
	if err != nil {
		writeJobStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ConvertResponse{Job: job})
}

func (e *ConvertBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "convert <book-id>",
		Short: "Enqueue a book for audiobook conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ConvertResponse
			path := "/books/" + args[0] + "/convert"
			if err := client.Post(cmd.Context(), path, ConvertRequest{Voice: voice}, &resp); err != nil {
				return err
			}
			return api.Output(resp.Job)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "TTS voice (defaults to the configured voice)")
	return cmd
}

// ConvertBatchEndpoint handles POST /books/convert-batch.
type ConvertBatchEndpoint struct{}

func (e *ConvertBatchEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/books/convert-batch", e.handler
}

func (e *ConvertBatchEndpoint) RequiresInit() bool { return true }

func (e *ConvertBatchEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ConvertBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.BookIDs) == 0 {
		writeError(w, http.StatusBadRequest, "book_ids is required")
		return
	}

	lib := svcctx.LibraryFrom(r.Context())
	out := svcctx.OutputFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	resp := ConvertBatchResponse{Enqueued: []*jobstore.Job{}, Skipped: []SkippedBook{}}
	for _, id := range req.BookIDs {
		book, err := lib.GetBook(r.Context(), id)
		if err != nil {
			resp.Skipped = append(resp.Skipped, SkippedBook{BookID: id, Reason: "not found"})
			continue
		}

		// Cheap pre-dequeue skip: the finished audiobook is already on
		// disk. Not a substitute for the duplicate guard below.
		if out != nil && out.Exists(book.Author, book.Title, book.Series) {
			resp.Skipped = append(resp.Skipped, SkippedBook{BookID: id, Reason: "output already exists"})
			continue
		}

		job, err := enqueueBook(r.Context(), book, req.Voice)
		if err != nil {
			resp.Skipped = append(resp.Skipped, SkippedBook{BookID: id, Reason: err.Error()})
			continue
		}
		resp.Enqueued = append(resp.Enqueued, job)
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (e *ConvertBatchEndpoint) Command(getServerURL func() string) *cobra.Command {
	var voice string
	cmd := &cobra.Command{
		Use:   "convert-batch <book-id>...",
		Short: "Enqueue multiple books for conversion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ConvertBatchResponse
			req := ConvertBatchRequest{BookIDs: args, Voice: voice}
			if err := client.Post(cmd.Context(), "/books/convert-batch", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "TTS voice (defaults to the configured voice)")
	return cmd
}
