package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/config"
	"github.com/jzcodes/narrator/internal/home"
	"github.com/jzcodes/narrator/internal/server"
)

var serveListenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the narrator server",
	Long: `Start the narrator HTTP server and conversion worker.

The server exposes the conversion queue over a REST API plus a
Server-Sent-Events stream of worker progress, and processes queued jobs
one at a time in the background.

Examples:
  narrator serve                     # Start on default address :8282
  narrator serve --listen :3000      # Start on a custom port
  narrator serve --listen 0.0.0.0:8282`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: GetLogLevel(),
		}))

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// Load configuration
		// Priority: --config flag > ./config.yaml > ~/.narrator/config.yaml
		configFile := cfgFile
		if configFile == "" {
			if _, err := os.Stat("config.yaml"); err == nil {
				configFile = "config.yaml"
			} else {
				configFile = filepath.Join(h.Path(), "config.yaml")
			}
		}

		// Write default config if it doesn't exist
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			logger.Info("creating default config", "path", configFile)
			if err := config.WriteDefault(configFile); err != nil {
				logger.Warn("failed to write default config", "error", err)
			}
		}
		cfgMgr, err := config.NewManager(configFile)
		if err != nil {
			logger.Warn("config not loaded, using defaults", "error", err)
		} else {
			// Enable config hot-reload
			cfgMgr.WatchConfig()
			logger.Info("configuration loaded", "file", configFile)
		}

		listenAddr := serveListenAddr
		if listenAddr == "" && cfgMgr != nil {
			listenAddr = cfgMgr.Get().Server.ListenAddr
		}

		srv, err := server.New(server.Config{
			ListenAddr:    listenAddr,
			ConfigManager: cfgMgr,
			Logger:        logger,
			Home:          h,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "Address to listen on (default from config, :8282)")

	rootCmd.AddCommand(serveCmd)
}
