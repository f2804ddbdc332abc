// Command practice is the interactive role-play client. The model plays a
// prospect in a chosen real-estate scenario, its replies are voiced, and the
// agent answers by speaking (or typing) until ending the session for
// feedback and self-rating.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/scriptcoach/internal/app"
	"github.com/MrWong99/scriptcoach/internal/config"
	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/internal/practice"
	"github.com/MrWong99/scriptcoach/internal/resilience"
	"github.com/MrWong99/scriptcoach/pkg/audio"
	"github.com/MrWong99/scriptcoach/pkg/audio/command"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt/typed"
)

// keywordBoost is applied to every configured recognition keyword.
const keywordBoost = 2

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to a YAML configuration file (optional)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9091)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg, err = config.LoadFromReader(strings.NewReader(""))
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "practice: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr so they do not interleave with the conversation.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.SlogLevel(cfg.Server.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "scriptcoach-practice"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	if *metricsAddr != "" {
		stopMetrics, err := serveMetrics(*metricsAddr, tel.Handler())
		if err != nil {
			slog.Error("failed to serve metrics", "err", err)
			return 1
		}
		defer stopMetrics()
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	client := &http.Client{}
	keyboard := typed.New()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, client, keyboard)

	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Upstream.Breaker.MaxFailures,
		ResetTimeout: cfg.Upstream.Breaker.ResetTimeout,
		HalfOpenMax:  cfg.Upstream.Breaker.HalfOpenMax,
	}}
	llmProvider, llmName, err := buildLLM(cfg.Providers.LLM, reg, fb)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	ttsProvider, err := buildTTS(cfg.Providers.TTS, reg, fb)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	sttProvider, err := buildSTT(cfg.Providers.STT, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Practice components ───────────────────────────────────────────────────
	pc := cfg.Practice
	dialogue := practice.NewDialogueClient(llmProvider,
		practice.WithModel(pc.Model),
		practice.WithMaxTokens(pc.ReplyMaxTokens, pc.AssessmentMaxTokens),
		practice.WithRequestTimeout(pc.RequestTimeout),
		practice.WithProviderName(llmName),
		practice.WithDialogueMetrics(metrics),
	)
	voice := practice.NewVoiceClient(ttsProvider, command.NewPlayer(pc.Player.Command),
		practice.WithVoiceSettings(pc.Voice.ModelID, pc.Voice.Stability, pc.Voice.SimilarityBoost),
		practice.WithSynthesisTimeout(pc.SynthesisTimeout),
		practice.WithVoiceMetrics(metrics),
	)

	captureOpts := []practice.CaptureOption{
		practice.WithRecognition(pc.Capture.Language, keywords(pc.Capture.Keywords)),
		practice.WithCaptureMetrics(metrics),
	}
	if pc.Capture.Enabled && sttProvider != stt.Provider(keyboard) {
		format := audio.DefaultCaptureFormat
		if pc.Capture.SampleRate > 0 {
			format.SampleRate = pc.Capture.SampleRate
		}
		mic := command.NewFFmpegCapture(pc.Capture.Command, pc.Capture.InputFormat, pc.Capture.InputDevice)
		captureOpts = append(captureOpts, practice.WithMicrophone(mic, format))
	}
	capture := practice.NewSpeechCapture(sttProvider, captureOpts...)

	orch := practice.NewOrchestrator(dialogue, voice, capture, practice.WithOrchestratorMetrics(metrics))
	defer orch.Close()

	var kb *typed.Provider
	if sttProvider == stt.Provider(keyboard) {
		kb = keyboard
	}
	sh := newShell(orch, kb, os.Stdout)

	slog.Info("practice client ready",
		"llm", providerNames(cfg.Providers.LLM),
		"tts", providerNames(cfg.Providers.TTS),
		"stt", cfg.Providers.STT.Name,
	)

	if err := sh.Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("input error", "err", err)
		return 1
	}
	return 0
}

// serveMetrics exposes h at /metrics on addr in the background.
func serveMetrics(addr string, h http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", h)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: config.DefaultReadHeaderTimeout}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func keywords(words []string) []stt.KeywordBoost {
	out := make([]stt.KeywordBoost, 0, len(words))
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, stt.KeywordBoost{Keyword: w, Boost: keywordBoost})
		}
	}
	return out
}

func providerNames(entries []config.ProviderEntry) string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return strings.Join(names, ",")
}
