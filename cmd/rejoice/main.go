package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/api"
	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/internal/capture"
	"github.com/benjamayden/rejoice-slim/internal/clipboard"
	"github.com/benjamayden/rejoice-slim/internal/config"
	"github.com/benjamayden/rejoice-slim/internal/metrics"
	"github.com/benjamayden/rejoice-slim/internal/segmenter"
	"github.com/benjamayden/rejoice-slim/internal/session"
	"github.com/benjamayden/rejoice-slim/internal/storage/sqlite"
	"github.com/benjamayden/rejoice-slim/internal/transcription"
	"github.com/benjamayden/rejoice-slim/internal/websocket"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	recoverFlag := flag.Bool("recover", false, "Re-transcribe interrupted sessions from their recordings and exit")
	noStart := flag.Bool("no-start", false, "Do not start recording immediately; wait for API calls")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting rejoice",
		logger.String("version", Version),
		logger.String("provider", cfg.Transcription.Provider))

	// Storage
	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err))
			os.Exit(1)
		}
	}
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to open database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	sessionStorage, err := sqlite.NewSessionStorage(db, log)
	if err != nil {
		log.Error("Failed to initialize session storage", logger.Error(err))
		os.Exit(1)
	}
	transcriptStorage, err := sqlite.NewTranscriptStorage(db, cfg.Storage.TranscriptsDir, log)
	if err != nil {
		log.Error("Failed to initialize transcript storage", logger.Error(err))
		os.Exit(1)
	}

	// Audio pipeline
	buf := audio.NewRingBuffer(int(cfg.Audio.BufferCapacitySecs), cfg.Audio.SampleRate, cfg.Audio.Channels, log)

	source, err := capture.New(cfg.Audio, buf, log)
	if err != nil {
		log.Error("Failed to create capture source", logger.Error(err))
		os.Exit(1)
	}

	seg, err := segmenter.NewVolumeSegmenter(buf, segmenter.Config{
		MinSegmentDuration:    cfg.Segmenter.MinSegmentSecs,
		TargetSegmentDuration: cfg.Segmenter.TargetSegmentSecs,
		MaxSegmentDuration:    cfg.Segmenter.MaxSegmentSecs,
		AnalysisWindow:        cfg.Segmenter.VolumeWindowSecs,
		SilenceThreshold:      cfg.Segmenter.SilenceThreshold,
		VolumeDropThreshold:   cfg.Segmenter.VolumeDropRatio,
		MinPauseDuration:      cfg.Segmenter.MinPauseSecs,
		LookbackWindow:        cfg.Segmenter.PauseLookbackSecs,
	}, log)
	if err != nil {
		log.Error("Invalid segmenter configuration", logger.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transcriber, err := newTranscriber(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create transcriber", logger.Error(err))
		os.Exit(1)
	}

	var clip transcription.Clipboard
	if cfg.Clipboard.AutoCopy {
		clip = clipboard.New(log)
	}

	if cfg.Audio.MasterRecordingDir != "" {
		if err := os.MkdirAll(cfg.Audio.MasterRecordingDir, 0o755); err != nil {
			log.Error("Failed to create recordings directory", logger.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Storage.TranscriptsDir != "" {
		if err := os.MkdirAll(cfg.Storage.TranscriptsDir, 0o755); err != nil {
			log.Error("Failed to create transcripts directory", logger.Error(err))
			os.Exit(1)
		}
	}

	m := metrics.New()

	assembler := transcription.NewAssembler(ctx, transcriber, transcriptStorage, clip,
		cfg.Clipboard.AutoCopy, transcription.Config{
			EmptySegmentThreshold: cfg.Transcription.EmptySegmentThreshold,
			EmptySegmentMinChars:  cfg.Transcription.EmptySegmentMinChars,
		}, log)

	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	sess := session.New(session.Config{
		PollInterval:       time.Duration(cfg.Session.PollIntervalMs) * time.Millisecond,
		StallTimeout:       time.Duration(cfg.Session.StallTimeoutSecs * float64(time.Second)),
		MinStreamingSecs:   cfg.Session.MinStreamingSecs,
		SilenceTimeoutSecs: cfg.Session.SilenceTimeoutSecs,
		DedupePhrases:      cfg.Session.DedupeRepeatedPhrases,
		MasterRecordingDir: cfg.Audio.MasterRecordingDir,
		KeepRecording:      cfg.Storage.KeepSessionAudio,
	}, buf, source, seg, assembler, transcriber, transcriptStorage, clip, sessionStorage, m, log)
	sess.SetEventSink(wsServer)

	if *recoverFlag {
		recoverSessions(sess, sessionStorage, log)
		return
	}

	// HTTP server
	var server *http.Server
	if cfg.Server.Enabled {
		router := api.NewRouter(sess, transcriptStorage, sessionStorage, wsServer, cfg, log)
		server = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		go func() {
			log.Info("Starting HTTP server", logger.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error", logger.Error(err))
			}
		}()
	}

	if !*noStart {
		if _, err := sess.Start(); err != nil {
			log.Error("Failed to start recording", logger.Error(err))
			os.Exit(1)
		}
	}

	// Wait for interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	if sess.IsActive() {
		result, err := sess.Stop(session.StopReasonUser)
		if err != nil {
			log.Error("Failed to finalize transcript", logger.Error(err))
		} else if result != nil && result.HasContent {
			fmt.Println()
			fmt.Println(result.Text)
			if result.FilePath != "" {
				log.Info("Transcript saved", logger.String("path", result.FilePath))
			}
		} else {
			log.Warn("No transcript produced")
		}
	}

	cancel()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", logger.Error(err))
		}
	}

	log.Info("Shutdown complete")
}

// newTranscriber builds the configured transcription backend
func newTranscriber(ctx context.Context, cfg *config.Config, log *logger.Logger) (transcription.Transcriber, error) {
	tcfg := transcription.Config{
		Provider:       cfg.Transcription.Provider,
		Language:       cfg.Transcription.Language,
		SampleRate:     cfg.Audio.SampleRate,
		TimeoutSeconds: cfg.Transcription.TimeoutSecs,
	}

	switch cfg.Transcription.Provider {
	case "openai":
		tcfg.APIKey = cfg.Transcription.OpenAIAPIKey
		tcfg.BaseURL = cfg.Transcription.OpenAIBaseURL
		tcfg.Model = cfg.Transcription.OpenAIModel
		if tcfg.APIKey == "" {
			return nil, fmt.Errorf("openai_api_key is required (config or OPENAI_API_KEY)")
		}
		return transcription.NewOpenAIClient(tcfg, log), nil
	case "gemini":
		tcfg.APIKey = cfg.Transcription.GeminiAPIKey
		tcfg.Model = cfg.Transcription.GeminiModel
		if tcfg.APIKey == "" {
			return nil, fmt.Errorf("gemini_api_key is required (config or GEMINI_API_KEY)")
		}
		return transcription.NewGeminiClient(ctx, tcfg, log)
	default:
		return nil, fmt.Errorf("unknown transcription provider: %s", cfg.Transcription.Provider)
	}
}

// recoverSessions re-transcribes every interrupted session that left a
// recording behind
func recoverSessions(sess *session.Session, storage *sqlite.SessionStorage, log *logger.Logger) {
	records, err := storage.ListRecoverable()
	if err != nil {
		log.Error("Failed to list recoverable sessions", logger.Error(err))
		os.Exit(1)
	}
	if len(records) == 0 {
		log.Info("No interrupted sessions found")
		return
	}

	for _, rec := range records {
		log.Info("Recovering session",
			logger.String("session_id", rec.ID),
			logger.String("audio_path", rec.AudioPath))

		result, err := sess.TranscribeFile(rec.ID, rec.AudioPath)
		if err != nil {
			log.Error("Recovery failed", logger.String("session_id", rec.ID), logger.Error(err))
			continue
		}

		if err := storage.CompleteSession(rec.ID, result.TotalDuration, 1, false); err != nil {
			log.Error("Failed to mark session recovered", logger.Error(err))
		}

		if result.HasContent {
			fmt.Printf("--- %s ---\n%s\n\n", rec.ID, result.Text)
		} else {
			log.Warn("Recovered session produced no text", logger.String("session_id", rec.ID))
		}
	}
}
