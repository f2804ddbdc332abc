// Package app wires the scriptcoach proxy server together: upstream proxy,
// health probes, Prometheus scrape endpoint and the HTTP server lifecycle.
//
// New builds everything from a [config.Config]; Run serves until its context
// is cancelled and then shuts the listener down gracefully. Tests inject a
// listener, HTTP client and metrics via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/scriptcoach/internal/config"
	"github.com/MrWong99/scriptcoach/internal/health"
	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/internal/proxy"
	"github.com/MrWong99/scriptcoach/internal/resilience"
)

// App owns the proxy server and everything it serves.
type App struct {
	cfg     *config.Config
	proxy   *proxy.Server
	handler http.Handler
	srv     *http.Server

	listener       net.Listener
	client         *http.Client
	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithListener serves on ln instead of listening on cfg.Server.ListenAddr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.client = c }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLevelVar lets config reloads change the log level of the handler
// built around lv.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the proxy, health probes and HTTP server from cfg. It does not
// start listening.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.client == nil {
		a.client = &http.Client{}
	}

	up := cfg.Upstream
	p, err := proxy.New(proxy.Config{
		AnthropicAPIKey:   up.Anthropic.APIKey,
		AnthropicBaseURL:  up.Anthropic.BaseURL,
		AnthropicVersion:  up.Anthropic.Version,
		ElevenLabsAPIKey:  up.ElevenLabs.APIKey,
		ElevenLabsBaseURL: up.ElevenLabs.BaseURL,
		DefaultVoiceID:    up.ElevenLabs.DefaultVoiceID,
		StaticDir:         cfg.Server.StaticDir,
		UpstreamTimeout:   up.Timeout,
	},
		proxy.WithHTTPClient(a.client),
		proxy.WithMetrics(a.metrics),
		proxy.WithBreakerConfig(resilience.CircuitBreakerConfig{
			MaxFailures:  up.Breaker.MaxFailures,
			ResetTimeout: up.Breaker.ResetTimeout,
			HalfOpenMax:  up.Breaker.HalfOpenMax,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build proxy: %w", err)
	}
	a.proxy = p

	checkers := []health.Checker{
		health.Credential("anthropic", p.AnthropicKey),
		health.Credential("elevenlabs", p.ElevenLabsKey),
	}
	for _, cb := range p.Breakers() {
		checkers = append(checkers, health.Breaker(cb))
	}

	mux := http.NewServeMux()
	p.Register(mux)
	health.New(checkers).Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	a.handler = observe.Middleware(a.metrics)(proxy.CORS(mux))

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the server fails, then shuts the
// server down within cfg.Server.ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.srv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.srv.Addr, err)
		}
	}
	slog.Info("proxy listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable parts of next: log level and
// upstream credentials. Settings that need a restart are logged.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CredentialsChanged {
		a.proxy.SetCredentials(next.Upstream.Anthropic.APIKey, next.Upstream.ElevenLabs.APIKey)
		slog.Info("upstream credentials reloaded",
			"anthropic", configured(next.Upstream.Anthropic.APIKey),
			"elevenlabs", configured(next.Upstream.ElevenLabs.APIKey),
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart to take effect", "settings", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the registered closers in order. If ctx expires first the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = err
				return
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// SlogLevel maps a config log level to its slog equivalent.
func SlogLevel(l config.LogLevel) slog.Level {
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

func configured(key string) string {
	if key == "" {
		return "no"
	}
	return "yes"
}
