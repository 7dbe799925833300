package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/api"
	"github.com/jzcodes/narrator/internal/eventbus"
	"github.com/jzcodes/narrator/internal/jobstore"
	"github.com/jzcodes/narrator/internal/svcctx"
)

// QueueResponse is the response for GET /queue.
type QueueResponse struct {
	Paused  bool                  `json:"paused"`
	Summary jobstore.QueueSummary `json:"summary"`
	Active  *jobstore.Job         `json:"active,omitempty"`
	Pending []*jobstore.Job       `json:"pending"`
}

// GetQueueEndpoint handles GET /queue.
type GetQueueEndpoint struct{}

func (e *GetQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/queue", e.handler
}

func (e *GetQueueEndpoint) RequiresInit() bool { return true }

func (e *GetQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	store := svcctx.JobStoreFrom(r.Context())
	state := svcctx.QueueStateFrom(r.Context())
	if store == nil || state == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not initialized")
		return
	}

	summary, err := store.QueueSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pending, err := store.ListPending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []*jobstore.Job{}
	}

	resp := QueueResponse{
		Paused:  state.Paused(),
		Summary: summary,
		Pending: pending,
	}
	if id := state.CurrentJob(); id != 0 {
		if job, err := store.GetJob(r.Context(), id); err == nil {
			resp.Active = job
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *GetQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the conversion queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp QueueResponse
			if err := client.Get(cmd.Context(), "/queue", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// PausedResponse reports the pause flag after a pause/resume call.
type PausedResponse struct {
	Paused bool `json:"paused"`
}

// PauseQueueEndpoint handles POST /queue/pause.
type PauseQueueEndpoint struct{}

func (e *PauseQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/queue/pause", e.handler
}

func (e *PauseQueueEndpoint) RequiresInit() bool { return true }

func (e *PauseQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	state := svcctx.QueueStateFrom(r.Context())
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not initialized")
		return
	}
	state.Pause()
	if bus := svcctx.EventBusFrom(r.Context()); bus != nil {
		bus.Publish(eventbus.QueuePaused, nil)
	}
	writeJSON(w, http.StatusOK, PausedResponse{Paused: true})
}

func (e *PauseQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the conversion worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PausedResponse
			if err := client.Post(cmd.Context(), "/queue/pause", nil, &resp); err != nil {
				return err
			}
			fmt.Println("Queue paused")
			return nil
		},
	}
}

// ResumeQueueEndpoint handles POST /queue/resume.
type ResumeQueueEndpoint struct{}

func (e *ResumeQueueEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/queue/resume", e.handler
}

func (e *ResumeQueueEndpoint) RequiresInit() bool { return true }

func (e *ResumeQueueEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	state := svcctx.QueueStateFrom(r.Context())
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not initialized")
		return
	}
	state.Resume()
	if bus := svcctx.EventBusFrom(r.Context()); bus != nil {
		bus.Publish(eventbus.QueueResumed, nil)
	}
	writeJSON(w, http.StatusOK, PausedResponse{Paused: false})
}

func (e *ResumeQueueEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the conversion worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp PausedResponse
			if err := client.Post(cmd.Context(), "/queue/resume", nil, &resp); err != nil {
				return err
			}
			fmt.Println("Queue resumed")
			return nil
		},
	}
}
