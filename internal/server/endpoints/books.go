package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/api"
	"github.com/jzcodes/narrator/internal/library"
	"github.com/jzcodes/narrator/internal/svcctx"
)

// ListBooksResponse is the response for listing library books.
type ListBooksResponse struct {
	Books []library.Book `json:"books"`
}

// ListBooksEndpoint handles GET /books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/books", e.handler
}

func (e *ListBooksEndpoint) RequiresInit() bool { return true }

func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	lib := svcctx.LibraryFrom(r.Context())
	if lib == nil {
		writeError(w, http.StatusServiceUnavailable, "library not initialized")
		return
	}

	books, err := lib.ListBooks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ListBooksResponse{Books: books})
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List books in the library",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListBooksResponse
			if err := client.Get(cmd.Context(), "/books", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
