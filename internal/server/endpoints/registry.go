// Package endpoints defines every HTTP route the narrator server exposes.
// Each endpoint implements api.Endpoint, so the same definition serves as
// an HTTP handler and as a `narrator api ...` CLI subcommand.
package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/jzcodes/narrator/internal/api"
)

// All returns all endpoint instances in registration order.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health
		&HealthEndpoint{},

		// Library books
		&ListBooksEndpoint{},
		&ConvertBookEndpoint{},
		&ConvertBatchEndpoint{},

		// Queue
		&GetQueueEndpoint{},
		&PauseQueueEndpoint{},
		&ResumeQueueEndpoint{},
		&ReorderQueueEndpoint{},
		&CancelJobEndpoint{},
		&RetryJobEndpoint{},
		&QueueEventsEndpoint{},

		// Job history
		&ListJobsEndpoint{},
		&GetJobEndpoint{},

		// Settings
		&ListSettingsEndpoint{},
		&GetSettingEndpoint{},
		&UpdateSettingEndpoint{},
		&ResetSettingEndpoint{},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
