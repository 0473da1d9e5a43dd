// Command parley is the main entry point for the Parley voice transport
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := &slog.LevelVar{}
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("parley starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	registry := config.DefaultRegistry()

	srv, err := server.New(cfg, registry, server.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Log level changes apply live; provider changes are logged by the
	// watcher and need a restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		if d := config.Diff(old, new); d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := shutdownMetrics(shutdownCtx); err != nil {
		slog.Warn("metrics shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// printStartupSummary logs the effective configuration at a glance.
func printStartupSummary(cfg *config.Config) {
	f := cfg.Voice.Format.Format()
	slog.Info("voice pipeline",
		"asr", cfg.Providers.ASR.Name,
		"tts", orNone(cfg.Providers.TTS.Name),
		"llm", orNone(cfg.Providers.LLM.Name),
		"codec", f.Codec,
		"sample_rate", f.SampleRate,
		"frame_duration", f.FrameDuration,
		"vad", cfg.Voice.VAD.Enabled,
		"echo_suppression", cfg.Voice.Echo.Enabled,
	)
	if n := len(cfg.RTC.ICEServers); n > 0 {
		slog.Info("rtc signaling enabled", "ice_servers", n, "codec", cfg.RTC.Codec)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// slogLevel maps the config log level to slog's.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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
