// Package config provides the configuration schema, loader, and provider
// registry shared by the scriptcoach proxy server and the practice client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Providers ProvidersConfig `yaml:"providers"`
	Practice  PracticeConfig  `yaml:"practice"`
}

// ServerConfig holds network and logging settings for the proxy server.
type ServerConfig struct {
	// ListenAddr is the TCP address the proxy listens on. Default ":3000".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// StaticDir is served at "/" when non-empty (the browser front-end).
	StaticDir string `yaml:"static_dir"`

	// ReadHeaderTimeout bounds how long a client may take to send headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig configures the third-party APIs the proxy forwards to.
type UpstreamConfig struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`

	// Timeout bounds each upstream round trip. Default 60s.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker tunes the per-upstream circuit breakers.
	Breaker BreakerConfig `yaml:"breaker"`
}

// AnthropicConfig configures the Messages API upstream.
type AnthropicConfig struct {
	// APIKey may be left empty in YAML and supplied via ANTHROPIC_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Version string `yaml:"version"`
}

// ElevenLabsConfig configures the voice API upstream.
type ElevenLabsConfig struct {
	// APIKey may be left empty in YAML and supplied via ELEVENLABS_API_KEY.
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`

	// DefaultVoiceID enables POST /api/speak.
	DefaultVoiceID string `yaml:"default_voice_id"`
}

// BreakerConfig mirrors resilience.CircuitBreakerConfig's tunables.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProvidersConfig selects the practice client's backends. LLM and TTS are
// ordered: the first entry is primary and the rest are fallbacks.
type ProvidersConfig struct {
	LLM []ProviderEntry `yaml:"llm"`
	TTS []ProviderEntry `yaml:"tts"`
	STT ProviderEntry   `yaml:"stt"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds. Name selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g. "proxy", "anthropic",
	// "elevenlabs", "deepgram").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the "proxy"
	// providers it is the scriptcoach server address.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// PracticeConfig tunes the practice client.
type PracticeConfig struct {
	// Model is the default dialogue model.
	Model               string        `yaml:"model"`
	ReplyMaxTokens      int           `yaml:"reply_max_tokens"`
	AssessmentMaxTokens int           `yaml:"assessment_max_tokens"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	SynthesisTimeout    time.Duration `yaml:"synthesis_timeout"`

	Voice   VoiceSettings `yaml:"voice"`
	Player  PlayerConfig  `yaml:"player"`
	Capture CaptureConfig `yaml:"capture"`
}

// VoiceSettings are sent with every synthesis request.
type VoiceSettings struct {
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
}

// PlayerConfig selects the external audio player.
type PlayerConfig struct {
	// Command is the program and arguments; the clip is written to stdin.
	Command []string `yaml:"command"`
}

// CaptureConfig configures microphone capture and recognition hints.
type CaptureConfig struct {
	// Enabled turns on ffmpeg microphone capture. When false, the recognizer
	// receives no audio (typed-line recognizers do not need any).
	Enabled     bool   `yaml:"enabled"`
	Command     string `yaml:"command"`
	InputFormat string `yaml:"input_format"`
	InputDevice string `yaml:"input_device"`
	SampleRate  int    `yaml:"sample_rate"`
	Language    string `yaml:"language"`

	// Keywords boost domain vocabulary such as "FSBO" or "escrow".
	Keywords []string `yaml:"keywords"`
}
