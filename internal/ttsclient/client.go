// Package ttsclient is a resilient adapter to a remote Kokoro-compatible
// neural TTS endpoint. It warms the endpoint up, chunks
// chapter text, retries by full re-handshake rather than fixed backoff
// (the service is observed to crash and restart under GPU load), and
// reassembles the resulting audio with a short crossfade.
package ttsclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/avast/retry-go/v4"
	"github.com/go-audio/audio"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jzcodes/narrator/internal/chunker"
)

// Model is the fixed identifier sent in every synthesis request body.
const Model = "kokoro"

const primingSentence = "This is a test of the text to speech system."

// Config controls endpoint location and retry/warm-up timing.
type Config struct {
	BaseURL string
	APIKey  string

	StartupTimeout time.Duration // default 300s
	WarmupAttempts int           // default 3
	WarmupDelay    time.Duration // default 15s

	MaxRetries   int           // default 5
	RestInterval int           // chunks between VRAM-recovery pauses, default 10
	RestDuration time.Duration // default 5s
	Cooldown     time.Duration // default 1s between successful chunks
	CrossfadeMS  int           // default 50ms

	DefaultVoice string // fallback voice for warm-up priming calls

	Chunker chunker.Options

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 300 * time.Second
	}
	if c.WarmupAttempts <= 0 {
		c.WarmupAttempts = 3
	}
	if c.WarmupDelay <= 0 {
		c.WarmupDelay = 15 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RestInterval <= 0 {
		c.RestInterval = 10
	}
	if c.RestDuration <= 0 {
		c.RestDuration = 5 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = time.Second
	}
	if c.CrossfadeMS <= 0 {
		c.CrossfadeMS = 50
	}
	if c.Chunker == (chunker.Options{}) {
		c.Chunker = chunker.DefaultOptions()
	}
	if c.DefaultVoice == "" {
		c.DefaultVoice = "af_heart"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Client is a TTSClient: readiness probing, warm-up, and
// per-chapter synthesis against one Kokoro-compatible endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	oai        openai.Client
}

// New builds a Client. The OpenAI SDK client is pointed at BaseURL/v1/
// because the endpoint speaks the OpenAI audio-speech wire contract.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()

	httpClient := &http.Client{}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/") + "/v1/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // ttsclient owns its own retry/rehandshake policy
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		oai:        openai.NewClient(opts...),
	}
}

// ProgressFunc reports chunk-level synthesis progress within one chapter.
type ProgressFunc func(chunkIndex, chunkTotal int)

// Readiness polls GET {base}/v1/audio/voices every 5s until it succeeds or
// StartupTimeout elapses, then issues up to WarmupAttempts priming POSTs,
// re-polling voices between attempts.
func (c *Client) Readiness(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.StartupTimeout)
	for {
		if err := c.pollVoices(ctx); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: voices endpoint never became ready within %s", ErrUnavailable, c.cfg.StartupTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.WarmupAttempts; attempt++ {
		if err := c.pollVoices(ctx); err != nil {
			lastErr = err
		} else if err := c.warmupOnce(ctx); err != nil {
			lastErr = err
		} else {
			return nil
		}

		if attempt < c.cfg.WarmupAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.WarmupDelay):
			}
		}
	}
	return fmt.Errorf("%w: warm-up failed after %d attempts: %v", ErrUnavailable, c.cfg.WarmupAttempts, lastErr)
}

func (c *Client) pollVoices(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.BaseURL+"/v1/audio/voices", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("voices endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) warmupOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	_, err := c.speak(reqCtx, primingSentence, c.cfg.DefaultVoice)
	return err
}

// speak performs a single POST /v1/audio/speech call and returns the raw
// WAV response body.
func (c *Client) speak(ctx context.Context, text, voice string) ([]byte, error) {
	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(Model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatWAV,
	}
	resp, err := c.oai.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readAll(resp.Body)
}

// titleUtterance builds the title chunk spoken before chapter body
// text: ALL-CAPS titles are Title-Cased so they aren't shouted, anything
// else is spoken literally, suffixed with a period.
func titleUtterance(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return ""
	}
	if isAllCaps(t) {
		return strings.Title(strings.ToLower(t)) + "." //nolint:staticcheck // naive word-boundary casing is what we want for spoken titles
	}
	return t + "."
}

func isAllCaps(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

// SynthesizeChapter turns one chapter's text into a single WAV file at
// outPath. If outPath already exists,
// synthesis is skipped and outPath is returned unchanged. The output
// path is the idempotence fingerprint, adequate because chunks are
// deterministic given the input text and voice.
func (c *Client) SynthesizeChapter(ctx context.Context, title, text, voice, outPath string, idx, total int, onProgress ProgressFunc) (string, error) {
	if _, err := os.Stat(outPath); err == nil {
		return outPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat %s: %w", outPath, err)
	}

	var chunks []string
	if t := titleUtterance(title); t != "" {
		chunks = append(chunks, t)
	}
	chunks = append(chunks, chunker.Chunk(text, c.cfg.Chunker)...)

	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: chapter %d/%d produced no synthesizable text", ErrSynthesis, idx, total)
	}

	segments := make([]*audio.IntBuffer, 0, len(chunks))
	for i, chunk := range chunks {
		pos := i + 1 // 1-based chunk position

		if pos > 1 && (pos-1)%c.cfg.RestInterval == 0 {
			if err := sleepCtx(ctx, c.cfg.RestDuration); err != nil {
				return "", err
			}
		}

		raw, err := c.synthesizeChunkWithRetry(ctx, chunk, voice)
		if err != nil {
			return "", fmt.Errorf("%w: chapter %d/%d chunk %d/%d: %v", ErrSynthesis, idx, total, pos, len(chunks), err)
		}

		buf, err := decodeWAV(raw)
		if err != nil {
			return "", fmt.Errorf("%w: chapter %d/%d chunk %d/%d: %v", ErrSynthesis, idx, total, pos, len(chunks), err)
		}
		segments = append(segments, buf)

		if onProgress != nil {
			onProgress(pos, len(chunks))
		}

		if pos < len(chunks) {
			if err := sleepCtx(ctx, c.cfg.Cooldown); err != nil {
				return "", err
			}
		}
	}

	if len(segments) == 0 {
		return "", fmt.Errorf("%w: zero segments produced for chapter %d/%d", ErrSynthesis, idx, total)
	}

	merged, err := crossfadeConcat(segments, c.cfg.CrossfadeMS)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	if err := encodeWAV(merged, outPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	return outPath, nil
}

// synthesizeChunkWithRetry posts one chunk, retrying up to MaxRetries on
// transport/HTTP error. Each retry re-runs Readiness first — the endpoint
// may have crashed and restarted, so reopening the connection alone isn't
// sufficient.
func (c *Client) synthesizeChunkWithRetry(ctx context.Context, text, voice string) ([]byte, error) {
	var result []byte
	attempt := 0

	err := retry.Do(
		func() error {
			attempt++
			if attempt > 1 {
				if err := c.Readiness(ctx); err != nil {
					return err
				}
			}

			reqCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()

			data, err := c.speak(reqCtx, text, voice)
			if err != nil {
				return err
			}
			result = data
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries)),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.cfg.Logger.Warn("tts chunk synthesis failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
