// Command voicetutor joins a room, transcribes every student's speech turn by
// turn, publishes the transcripts, and optionally answers them as a tutor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aulavoz/voicetutor/internal/app"
	"github.com/aulavoz/voicetutor/internal/config"
	"github.com/aulavoz/voicetutor/internal/document"
	"github.com/aulavoz/voicetutor/internal/health"
	"github.com/aulavoz/voicetutor/internal/observe"
	"github.com/aulavoz/voicetutor/internal/transcript"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicetutor: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicetutor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voicetutor starting",
		"version", version,
		"config", *configPath,
		"room", cfg.Room.RoomName,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voicetutor", ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)
	built, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithCorrector(transcript.NewCorrector(cfg.Pipeline.Vocabulary)),
	}
	for _, c := range built.closers {
		opts = append(opts, app.WithCloser(c))
	}

	// ── Documents ─────────────────────────────────────────────────────────────
	if cfg.Tutor.Enabled && cfg.Tutor.DocumentPath != "" {
		store, err := document.NewStore(document.StoreConfig{
			Dir: cfg.Tutor.DocumentPath,
			Summarizer: document.NewSummarizer(built.providers.LLM,
				document.WithChunkSize(cfg.Tutor.ChunkSize),
				document.WithMetrics(metrics),
			),
		})
		if err != nil {
			slog.Error("failed to open document store", "error", err)
			return 1
		}
		opts = append(opts, app.WithDocuments(store))
		if cfg.Tutor.Preload {
			go func() {
				if err := store.Preload(ctx, document.DefaultParallelism); err != nil && ctx.Err() == nil {
					slog.Error("document preload failed", "error", err)
				}
			}()
		}
	}

	application, err := app.New(ctx, cfg, built.providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	// ── HTTP: metrics and probes ──────────────────────────────────────────────
	checkers := []health.Checker{{Name: "room", Check: application.RoomCheck}}
	for _, kind := range []string{"stt", "llm", "tts"} {
		if bs := built.breakers[kind]; len(bs) > 0 {
			checkers = append(checkers, health.BreakerChecker(kind, bs...))
		}
	}
	probes := health.New(checkers, health.WithSessionCount(application.SessionCount))

	var srv *http.Server
	if cfg.Server.ListenAddr != config.Disabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.Handler)
		probes.Register(mux)
		srv = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server failed", "addr", srv.Addr, "error", err)
			}
		}()
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		d := config.Diff(old, next)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.Apply(d, next)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}

	printStartupSummary(cfg)
	slog.Info("ready, press Ctrl+C to shut down")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	probes.SetDraining(true)
	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		code = 1
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "error", err)
		}
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "error", err)
	}
	slog.Info("goodbye")
	return code
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicetutor startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Room", cfg.Room.RoomName)
	printProvider("STT", cfg.Providers.STT, len(cfg.Providers.STTFallbacks))
	printProvider("LLM", cfg.Providers.LLM, len(cfg.Providers.LLMFallbacks))
	printProvider("TTS", cfg.Providers.TTS, 0)
	printRow("Audio", cfg.Providers.Audio.Name)
	printRow("Turn", fmt.Sprintf("%s / %v", cfg.Pipeline.TimerMode, cfg.Pipeline.QuietInterval))
	if cfg.Tutor.Enabled {
		printRow("Tutor", fmt.Sprintf("on, %d sentences", cfg.Tutor.MaxSentences))
	} else {
		printRow("Tutor", "(disabled)")
	}
	printRow("Vocabulary", fmt.Sprintf("%d terms", len(cfg.Pipeline.Vocabulary)))
	if cfg.Server.ListenAddr != config.Disabled {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, e config.ProviderEntry, fallbacks int) {
	value := e.Name
	switch {
	case value == "":
		value = "(not configured)"
	case e.Model != "":
		value = e.Name + " / " + e.Model
	}
	if fallbacks > 0 {
		value = fmt.Sprintf("%s +%d", value, fallbacks)
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}
