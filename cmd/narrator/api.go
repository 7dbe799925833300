package main

import (
	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running narrator server via HTTP.

These commands require a running server (narrator serve).
Use --server to specify a custom server URL.

Examples:
  narrator api health                  # Check server health
  narrator api queue get               # Show the conversion queue
  narrator api books convert <id>      # Enqueue a book`,
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Library book commands",
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Conversion queue commands",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job history commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Runtime settings commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8282", "Server URL",
	)

	// Health at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))

	// Books as subcommand group
	booksCmd.AddCommand((&endpoints.ListBooksEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ConvertBookEndpoint{}).Command(getServerURL))
	booksCmd.AddCommand((&endpoints.ConvertBatchEndpoint{}).Command(getServerURL))

	// Queue as subcommand group
	queueCmd.AddCommand((&endpoints.GetQueueEndpoint{}).Command(getServerURL))
	queueCmd.AddCommand((&endpoints.PauseQueueEndpoint{}).Command(getServerURL))
	queueCmd.AddCommand((&endpoints.ResumeQueueEndpoint{}).Command(getServerURL))
	queueCmd.AddCommand((&endpoints.ReorderQueueEndpoint{}).Command(getServerURL))
	queueCmd.AddCommand((&endpoints.CancelJobEndpoint{}).Command(getServerURL))
	queueCmd.AddCommand((&endpoints.RetryJobEndpoint{}).Command(getServerURL))
	queueCmd.AddCommand((&endpoints.QueueEventsEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.ListJobsEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))

	// Settings as subcommand group
	settingsCmd.AddCommand((&endpoints.ListSettingsEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.GetSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.UpdateSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.ResetSettingEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(booksCmd)
	apiCmd.AddCommand(queueCmd)
	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(apiCmd)
}
