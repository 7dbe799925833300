package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/api"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/svcctx"
)

// writeJobStoreError maps job store error kinds onto HTTP status codes:
// 404 for not-found, 400 for state conflicts, 409 for duplicates.
func writeJobStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobstore.ErrStateConflict):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobstore.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func jobIDFromPath(r *http.Request) (int64, error) {
	raw := r.PathValue("job_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

// CancelJobEndpoint handles DELETE /queue/{job_id}.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/queue/{job_id}", e.handler
}

func (e *CancelJobEndpoint) RequiresInit() bool { return true }

func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store := svcctx.JobStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "job store not initialized")
		return
	}

	if err := store.CancelJob(r.Context(), id); err != nil {
		writeJobStoreError(w, err)
		return
	}

	job, err := store.GetJob(r.Context(), id)
	if err != nil {
		writeJobStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/queue/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Job %s cancelled\n", args[0])
			return nil
		},
	}
}

// RetryJobEndpoint handles POST /queue/{job_id}/retry.
type RetryJobEndpoint struct{}

func (e *RetryJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/queue/{job_id}/retry", e.handler
}

func (e *RetryJobEndpoint) RequiresInit() bool { return true }

func (e *RetryJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	store := svcctx.JobStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "job store not initialized")
		return
	}

	job, err := store.RetryJob(r.Context(), id)
	if err != nil {
		writeJobStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job})
}

func (e *RetryJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp JobResponse
			if err := client.Post(cmd.Context(), "/queue/"+args[0]+"/retry", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp.Job)
		},
	}
}

// ReorderRequest is the request body for PATCH /queue/reorder.
type ReorderRequest struct {
	JobIDs []int64 `json:"job_ids"`
}

// ReorderQueueEndpoint handles PATCH /queue/reorder.
type ReorderQueueEndpoint struct{}

func (e *ReorderQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PATCH", "/queue/reorder", e.handler
}

func (e *ReorderQueueEndpoint) RequiresInit() bool { return true }

func (e *ReorderQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.JobIDs) == 0 {
		writeError(w, http.StatusBadRequest, "job_ids is required")
		return
	}

	store := svcctx.JobStoreFrom(r.Context())
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "job store not initialized")
		return
	}

	if err := store.Reorder(r.Context(), req.JobIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pending, err := store.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: pending})
}

func (e *ReorderQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <job-id>...",
		Short: "Reorder pending jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := strconv.ParseInt(a, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", a)
				}
				ids = append(ids, id)
			}

			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Patch(cmd.Context(), "/queue/reorder", ReorderRequest{JobIDs: ids}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
