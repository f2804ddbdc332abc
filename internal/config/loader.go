package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that supply secrets. A non-empty value overrides the
// YAML.
const (
	EnvAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	EnvElevenLabsAPIKey = "ELEVENLABS_API_KEY"
	EnvDeepgramAPIKey   = "DEEPGRAM_API_KEY"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":3000"
	DefaultReadHeaderTimeout   = 10 * time.Second
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultUpstreamTimeout     = 60 * time.Second
	DefaultPracticeModel       = "claude-sonnet-4-20250514"
	DefaultReplyMaxTokens      = 1024
	DefaultAssessmentMaxTokens = 2048
	DefaultRequestTimeout      = 60 * time.Second
	DefaultSynthesisTimeout    = 30 * time.Second
	DefaultVoiceModelID        = "eleven_monolingual_v1"
	DefaultStability           = 0.5
	DefaultSimilarityBoost     = 0.75
	DefaultLanguage            = "en-US"
	DefaultProxyURL            = "http://localhost:3000"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm": {"proxy", "anthropic", "openai", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "openai-compatible"},
	"tts": {"proxy", "elevenlabs", "coqui"},
	"stt": {"deepgram", "whisper", "typed"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with secrets overlaid from the environment and defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment secrets,
// applies defaults and validates the result. An empty document is valid.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secrets from lookup (usually [os.LookupEnv]). Upstream
// keys are always overridden by a non-empty variable; provider entries only
// receive a key when they have none of their own.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(name string) string {
		v, ok := lookup(name)
		if !ok {
			return ""
		}
		return v
	}

	anthropicKey := get(EnvAnthropicAPIKey)
	elevenKey := get(EnvElevenLabsAPIKey)
	if anthropicKey != "" {
		cfg.Upstream.Anthropic.APIKey = anthropicKey
	}
	if elevenKey != "" {
		cfg.Upstream.ElevenLabs.APIKey = elevenKey
	}

	for i := range cfg.Providers.LLM {
		e := &cfg.Providers.LLM[i]
		if e.Name == "anthropic" && e.APIKey == "" {
			e.APIKey = anthropicKey
		}
	}
	for i := range cfg.Providers.TTS {
		e := &cfg.Providers.TTS[i]
		if e.Name == "elevenlabs" && e.APIKey == "" {
			e.APIKey = elevenKey
		}
	}
	if cfg.Providers.STT.Name == "deepgram" && cfg.Providers.STT.APIKey == "" {
		cfg.Providers.STT.APIKey = get(EnvDeepgramAPIKey)
	}
}

// ApplyDefaults fills zero values. With no providers configured the practice
// client talks to a local proxy and reads typed lines as speech.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.ReadHeaderTimeout <= 0 {
		s.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = DefaultUpstreamTimeout
	}

	p := &cfg.Providers
	if len(p.LLM) == 0 {
		p.LLM = []ProviderEntry{{Name: "proxy", BaseURL: DefaultProxyURL}}
	}
	if len(p.TTS) == 0 {
		p.TTS = []ProviderEntry{{Name: "proxy", BaseURL: DefaultProxyURL}}
	}
	if p.STT.Name == "" {
		p.STT.Name = "typed"
	}

	pr := &cfg.Practice
	if pr.Model == "" {
		pr.Model = DefaultPracticeModel
	}
	if pr.ReplyMaxTokens <= 0 {
		pr.ReplyMaxTokens = DefaultReplyMaxTokens
	}
	if pr.AssessmentMaxTokens <= 0 {
		pr.AssessmentMaxTokens = DefaultAssessmentMaxTokens
	}
	if pr.RequestTimeout <= 0 {
		pr.RequestTimeout = DefaultRequestTimeout
	}
	if pr.SynthesisTimeout <= 0 {
		pr.SynthesisTimeout = DefaultSynthesisTimeout
	}
	if pr.Voice.ModelID == "" {
		pr.Voice.ModelID = DefaultVoiceModelID
	}
	if pr.Voice.Stability == 0 {
		pr.Voice.Stability = DefaultStability
	}
	if pr.Voice.SimilarityBoost == 0 {
		pr.Voice.SimilarityBoost = DefaultSimilarityBoost
	}
	if pr.Capture.Language == "" {
		pr.Capture.Language = DefaultLanguage
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if b := cfg.Upstream.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("upstream.breaker values must not be negative"))
	}

	for i, e := range cfg.Providers.LLM {
		errs = append(errs, validateEntry(fmt.Sprintf("providers.llm[%d]", i), "llm", e)...)
	}
	for i, e := range cfg.Providers.TTS {
		errs = append(errs, validateEntry(fmt.Sprintf("providers.tts[%d]", i), "tts", e)...)
	}
	if cfg.Providers.STT.Name != "" {
		errs = append(errs, validateEntry("providers.stt", "stt", cfg.Providers.STT)...)
	}

	v := cfg.Practice.Voice
	if v.Stability < 0 || v.Stability > 1 {
		errs = append(errs, fmt.Errorf("practice.voice.stability %.2f is out of range [0, 1]", v.Stability))
	}
	if v.SimilarityBoost < 0 || v.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("practice.voice.similarity_boost %.2f is out of range [0, 1]", v.SimilarityBoost))
	}
	if cfg.Practice.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("practice.capture.sample_rate %d must not be negative", cfg.Practice.Capture.SampleRate))
	}

	if cfg.Upstream.Anthropic.APIKey == "" {
		slog.Debug("no Anthropic API key configured; the proxy will forward requests without one")
	}

	return errors.Join(errs...)
}

// needsBaseURL names providers that have no sensible default endpoint.
var needsBaseURL = []string{"proxy", "openai-compatible", "whisper", "coqui"}

func validateEntry(path, kind string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	if slices.Contains(needsBaseURL, e.Name) && e.BaseURL == "" {
		return []error{fmt.Errorf("%s.base_url is required for the %s provider", path, e.Name)}
	}
	warnUnknownProvider(kind, e.Name)
	return nil
}

// warnUnknownProvider logs a warning if name is not in [ValidProviderNames].
func warnUnknownProvider(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
