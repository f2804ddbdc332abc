// Command scriptcoach runs the credential-holding proxy that the practice
// client talks to. It forwards dialogue requests to Anthropic and speech
// requests to ElevenLabs using server-side API keys.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/scriptcoach/internal/app"
	"github.com/MrWong99/scriptcoach/internal/config"
	"github.com/MrWong99/scriptcoach/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to a YAML configuration file (optional; environment variables are always read)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scriptcoach: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scriptcoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("scriptcoach starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithLevelVar(level),
		app.WithMetricsHandler(tel.Handler()),
	}

	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg)
	warnMissingKeys(cfg)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or builds the config from the environment alone
// when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return config.Load(path)
}

// warnMissingKeys logs one warning per upstream without a credential. The
// server still starts; requests to that upstream fail upstream-side.
func warnMissingKeys(cfg *config.Config) {
	if cfg.Upstream.Anthropic.APIKey == "" {
		slog.Warn("no Anthropic API key configured", "env", config.EnvAnthropicAPIKey)
	}
	if cfg.Upstream.ElevenLabs.APIKey == "" {
		slog.Warn("no ElevenLabs API key configured", "env", config.EnvElevenLabsAPIKey)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      Scriptcoach — proxy server       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("Anthropic key", keyStatus(cfg.Upstream.Anthropic.APIKey))
	printRow("ElevenLabs key", keyStatus(cfg.Upstream.ElevenLabs.APIKey))
	printRow("Static dir", orNone(cfg.Server.StaticDir))
	printRow("Default voice", orNone(cfg.Upstream.ElevenLabs.DefaultVoiceID))
	if cfg.Server.TLS != nil {
		printRow("TLS", "enabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func keyStatus(key string) string {
	if key == "" {
		return "missing"
	}
	return "configured"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
