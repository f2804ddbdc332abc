// Package proxy implements the credential-holding HTTP proxy in front of the
// Anthropic Messages API and the ElevenLabs voice API.
//
// Routes:
//
//	POST /api/anthropic               forwards {model, max_tokens, system, messages}
//	GET  /api/elevenlabs/voices       returns the voice catalogue
//	POST /api/elevenlabs/tts/{voiceId} returns synthesised audio/mpeg
//	POST /api/speak                   synthesises with the configured default voice
//
// The server's own credentials are always used; keys sent by clients are
// ignored. Each upstream sits behind its own circuit breaker.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/internal/resilience"
)

// Upstream defaults.
const (
	DefaultAnthropicBaseURL  = "https://api.anthropic.com"
	DefaultAnthropicVersion  = "2023-06-01"
	DefaultElevenLabsBaseURL = "https://api.elevenlabs.io"
	DefaultUpstreamTimeout   = 60 * time.Second
	DefaultMaxBodyBytes      = 1 << 20

	upstreamAnthropic  = "anthropic"
	upstreamElevenLabs = "elevenlabs"
)

// errUpstreamStatus marks a 5xx answer so the breaker counts it while the
// response itself is still passed through.
var errUpstreamStatus = errors.New("upstream returned a server error")

// Config holds upstream locations and credentials.
type Config struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string

	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string

	// DefaultVoiceID enables POST /api/speak when non-empty.
	DefaultVoiceID string

	// StaticDir, when non-empty, is served at "/".
	StaticDir string

	// UpstreamTimeout bounds each upstream round trip.
	UpstreamTimeout time.Duration

	// MaxBodyBytes caps request bodies accepted from clients.
	MaxBodyBytes int64
}

// Server serves the proxy routes.
type Server struct {
	cfg       Config
	keys      atomic.Pointer[credentials]
	client    *http.Client
	metrics   *observe.Metrics
	anthropic *resilience.CircuitBreaker
	eleven    *resilience.CircuitBreaker
}

type credentials struct {
	anthropic  string
	elevenLabs string
}

// Option configures a [Server].
type Option func(*serverOptions)

type serverOptions struct {
	client  *http.Client
	metrics *observe.Metrics
	breaker resilience.CircuitBreakerConfig
}

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *serverOptions) { o.client = c }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *serverOptions) { o.metrics = m }
}

// WithBreakerConfig tunes the per-upstream circuit breakers. Name is set
// per upstream.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *serverOptions) { o.breaker = cfg }
}

// New validates cfg, applies defaults and returns a Server.
func New(cfg Config, opts ...Option) (*Server, error) {
	if cfg.AnthropicBaseURL == "" {
		cfg.AnthropicBaseURL = DefaultAnthropicBaseURL
	}
	if cfg.AnthropicVersion == "" {
		cfg.AnthropicVersion = DefaultAnthropicVersion
	}
	if cfg.ElevenLabsBaseURL == "" {
		cfg.ElevenLabsBaseURL = DefaultElevenLabsBaseURL
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	for name, raw := range map[string]string{"anthropic": cfg.AnthropicBaseURL, "elevenlabs": cfg.ElevenLabsBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("proxy: invalid %s base URL %q", name, raw)
		}
	}
	cfg.AnthropicBaseURL = strings.TrimRight(cfg.AnthropicBaseURL, "/")
	cfg.ElevenLabsBaseURL = strings.TrimRight(cfg.ElevenLabsBaseURL, "/")

	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{}
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	breaker := func(name string) *resilience.CircuitBreaker {
		bc := o.breaker
		bc.Name = name
		if bc.OnStateChange == nil {
			bc.OnStateChange = func(name string, from, to resilience.State) {
				slog.Info("upstream breaker state changed", "upstream", name, "from", from, "to", to)
			}
		}
		return resilience.NewCircuitBreaker(bc)
	}

	s := &Server{
		cfg:       cfg,
		client:    o.client,
		metrics:   o.metrics,
		anthropic: breaker(upstreamAnthropic),
		eleven:    breaker(upstreamElevenLabs),
	}
	s.SetCredentials(cfg.AnthropicAPIKey, cfg.ElevenLabsAPIKey)
	return s, nil
}

// AnthropicKey returns the key currently sent to Anthropic.
func (s *Server) AnthropicKey() string { return s.keys.Load().anthropic }

// ElevenLabsKey returns the key currently sent to ElevenLabs.
func (s *Server) ElevenLabsKey() string { return s.keys.Load().elevenLabs }

// SetCredentials replaces both upstream keys. Requests already in flight keep
// the keys they started with.
func (s *Server) SetCredentials(anthropic, elevenLabs string) {
	s.keys.Store(&credentials{anthropic: anthropic, elevenLabs: elevenLabs})
}

// Breakers returns the per-upstream breakers, for readiness reporting.
func (s *Server) Breakers() []*resilience.CircuitBreaker {
	return []*resilience.CircuitBreaker{s.anthropic, s.eleven}
}

// Handler returns the proxy routes wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return CORS(mux)
}

// Register adds the proxy routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/anthropic", s.handleAnthropic)
	mux.HandleFunc("GET /api/elevenlabs/voices", s.handleVoices)
	mux.HandleFunc("POST /api/elevenlabs/tts/{voiceId}", s.handleTTS)
	if s.cfg.DefaultVoiceID != "" {
		mux.HandleFunc("POST /api/speak", s.handleSpeak)
	}
	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

// CORS allows any origin and answers preflight requests with 204.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- handlers ----

// messagesRequest lists the only fields forwarded to Anthropic. Anything
// else in the client body, including an API key, is dropped.
type messagesRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    json.RawMessage `json:"system,omitempty"`
	Messages  json.RawMessage `json:"messages"`
}

func (s *Server) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	var in messagesRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	body, err := json.Marshal(in)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp, ok := s.roundTrip(w, r, s.anthropic, "messages", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.AnthropicBaseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", s.keys.Load().anthropic)
		req.Header.Set("anthropic-version", s.cfg.AnthropicVersion)
		return req, nil
	})
	if !ok {
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		observe.Logger(r.Context()).Warn("proxy: copy anthropic response", "err", err)
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.roundTrip(w, r, s.eleven, "voices", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.ElevenLabsBaseURL+"/v1/voices", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("xi-api-key", s.keys.Load().elevenLabs)
		return req, nil
	})
	if !ok {
		return
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		writeUpstreamError(w, resp, "ElevenLabs API error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	s.synthesize(w, r, r.PathValue("voiceId"), "tts")
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	s.synthesize(w, r, s.cfg.DefaultVoiceID, "speak")
}

func (s *Server) synthesize(w http.ResponseWriter, r *http.Request, voiceID, route string) {
	if voiceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "voice ID is required"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	target := s.cfg.ElevenLabsBaseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID)
	resp, ok := s.roundTrip(w, r, s.eleven, route, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		req.Header.Set("xi-api-key", s.keys.Load().elevenLabs)
		return req, nil
	})
	if !ok {
		return
	}
	defer resp.Body.Close()

	if !success(resp.StatusCode) {
		writeUpstreamError(w, resp, "ElevenLabs TTS error")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		observe.Logger(r.Context()).Warn("proxy: copy audio", "err", err)
	}
}

// roundTrip performs one upstream call through cb. When it returns false the
// error response has already been written.
func (s *Server) roundTrip(w http.ResponseWriter, r *http.Request, cb *resilience.CircuitBreaker, route string, build func(context.Context) (*http.Request, error)) (*http.Response, bool) {
	upstream := cb.Name()
	ctx, span := observe.StartSpan(r.Context(), "proxy."+upstream+"."+route)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	log := observe.Logger(ctx).With("upstream", upstream, "route", route)

	var resp *http.Response
	start := time.Now()
	err := cb.Execute(func() error {
		req, err := build(ctx)
		if err != nil {
			return err
		}
		resp, err = s.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return errUpstreamStatus
		}
		return nil
	})
	s.metrics.UpstreamDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("upstream", upstream), observe.Attr("route", route)))

	switch {
	case err == nil, errors.Is(err, errUpstreamStatus):
		log.Debug("upstream answered", "status", resp.StatusCode, "duration", time.Since(start))
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, true
	case errors.Is(err, resilience.ErrCircuitOpen):
		cancel()
		s.metrics.RecordCircuitRejection(ctx, upstream)
		log.Warn("upstream rejected by open circuit")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": fmt.Sprintf("%s is temporarily unavailable: %v", upstream, err),
		})
		return nil, false
	default:
		cancel()
		observe.FailSpan(span, err)
		log.Error("upstream request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
}

// cancelOnClose releases the upstream context once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func success(status int) bool { return status >= 200 && status <= 299 }

func writeUpstreamError(w http.ResponseWriter, resp *http.Response, label string) {
	details, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	slog.Warn("proxy: upstream error", "status", resp.StatusCode, "label", label)
	writeJSON(w, resp.StatusCode, map[string]string{"error": label, "details": string(details)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
