package endpoints

import (
	"bufio"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/svcctx"
)

// QueueEventsEndpoint handles GET /queue/events: a Server-Sent-Events
// stream of the event bus. The subscriber channel is bounded; if this
// client stops reading, the bus drops it rather than stalling the worker.
type QueueEventsEndpoint struct{}

func (e *QueueEventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/queue/events", e.handler
}

func (e *QueueEventsEndpoint) RequiresInit() bool { return true }

func (e *QueueEventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bus := svcctx.EventBusFrom(r.Context())
	if bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not initialized")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// An immediate comment frame so clients see the stream is live before
	// the first event arrives.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				// Dropped by the bus for falling behind.
				return
			}
			frame, err := evt.MarshalSSE()
			if err != nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (e *QueueEventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream queue events (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, getServerURL()+"/queue/events", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				fmt.Fprintln(os.Stdout, scanner.Text())
			}
			return scanner.Err()
		},
	}
}
