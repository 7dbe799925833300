package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jzcodes/narrator/internal/chunker"
	"github.com/jzcodes/narrator/internal/config"
	"github.com/jzcodes/narrator/internal/epub"
	"github.com/jzcodes/narrator/internal/m4b"
	"github.com/jzcodes/narrator/internal/output"
	"github.com/jzcodes/narrator/internal/ttsclient"
)

var (
	convertVoice  string
	convertOutDir string
)

var convertCmd = &cobra.Command{
	Use:   "convert <epub-file>",
	Short: "Convert a single EPUB to an M4B without the server",
	Long: `Convert one EPUB (or KEPUB) file directly: extract chapters,
synthesize them against the configured TTS endpoint, and assemble the
M4B in place. No job record is created; for queued, resumable
conversions use the server and 'narrator api books convert'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		epubPath := args[0]

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: GetLogLevel(),
		}))

		cfgMgr, err := config.NewManager(cfgFile)
		if err != nil {
			logger.Warn("config not loaded, using defaults", "error", err)
		}
		cfg := config.DefaultConfig()
		if cfgMgr != nil {
			cfg = cfgMgr.Get()
		}

		if err := m4b.CheckToolchain(); err != nil {
			return err
		}

		logger.Info("extracting chapters", "path", epubPath)
		book, err := epub.Extract(epubPath)
		if err != nil {
			return err
		}
		logger.Info("extraction complete", "title", book.Title, "author", book.Author, "chapters", len(book.Chapters))

		voice := convertVoice
		if voice == "" {
			voice = cfg.TTS.Voice
		}

		tts := ttsclient.New(ttsclient.Config{
			BaseURL:        cfg.TTS.BaseURL,
			APIKey:         config.ResolveEnvVars(cfg.TTS.APIKey),
			StartupTimeout: time.Duration(cfg.TTS.StartupTimeout) * time.Second,
			WarmupAttempts: cfg.TTS.WarmupAttempts,
			WarmupDelay:    time.Duration(cfg.TTS.WarmupDelay) * time.Second,
			MaxRetries:     cfg.TTS.MaxRetries,
			RestInterval:   cfg.TTS.RestInterval,
			RestDuration:   time.Duration(cfg.TTS.RestDuration) * time.Second,
			Cooldown:       time.Duration(cfg.TTS.Cooldown * float64(time.Second)),
			CrossfadeMS:    cfg.TTS.CrossfadeMS,
			DefaultVoice:   voice,
			Chunker: chunker.Options{
				TokenLimit:    cfg.Chunker.TokenLimit,
				TokenFloor:    cfg.Chunker.TokenFloor,
				CharsPerToken: cfg.Chunker.CharsPerToken,
			},
			Logger: logger,
		})

		if err := tts.Readiness(ctx); err != nil {
			return err
		}

		scratchDir, err := os.MkdirTemp("", "narrator-convert-*")
		if err != nil {
			return fmt.Errorf("create scratch dir: %w", err)
		}
		defer os.RemoveAll(scratchDir)

		chapters := make([]m4b.Chapter, 0, len(book.Chapters))
		for i, ch := range book.Chapters {
			idx := i + 1
			logger.Info("synthesizing chapter", "chapter", idx, "total", len(book.Chapters), "title", ch.Title)

			wavPath := filepath.Join(scratchDir, fmt.Sprintf("chapter_%03d.wav", idx))
			if _, err := tts.SynthesizeChapter(ctx, ch.Title, ch.Text, voice, wavPath, idx, len(book.Chapters), nil); err != nil {
				return err
			}
			chapters = append(chapters, m4b.Chapter{Title: ch.Title, WAVPath: wavPath})
		}

		logger.Info("building m4b", "chapters", len(chapters))
		tempM4B := filepath.Join(scratchDir, "book.m4b")
		result, err := m4b.Build(ctx, scratchDir, chapters,
			m4b.Metadata{Title: book.Title, Author: book.Author},
			m4b.Options{AACBitrate: cfg.M4B.AACBitrate, Cleanup: cfg.M4B.Cleanup, CoverImage: book.Cover},
			tempM4B,
		)
		if err != nil {
			return err
		}

		outDir := convertOutDir
		if outDir == "" {
			outDir = cfg.Library.OutputDir
		}
		if outDir == "" {
			outDir = "."
		}

		writer := output.New(outDir)
		finalPath, err := writer.Write(output.WriteArgs{
			Author:      book.Author,
			Title:       book.Title,
			Voice:       voice,
			Description: book.Description,
			Cover:       book.Cover,
			TempM4BPath: result.Path,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %s (%d chapters, %s)\n", finalPath, result.ActualChapters,
			(time.Duration(result.DurationMS) * time.Millisecond).Round(time.Second))
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertVoice, "voice", "", "TTS voice (defaults to the configured voice)")
	convertCmd.Flags().StringVar(&convertOutDir, "out", "", "Output root directory (defaults to the configured library output)")

	rootCmd.AddCommand(convertCmd)
}
