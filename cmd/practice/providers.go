package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/scriptcoach/internal/config"
	"github.com/MrWong99/scriptcoach/internal/resilience"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm/anyllm"
	openaicompat "github.com/MrWong99/scriptcoach/pkg/provider/llm/openai"
	llmproxy "github.com/MrWong99/scriptcoach/pkg/provider/llm/proxy"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt/deepgram"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt/typed"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt/whisper"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts/coqui"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts/elevenlabs"
	ttsproxy "github.com/MrWong99/scriptcoach/pkg/provider/tts/proxy"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every provider that ships with scriptcoach
// into reg. keyboard is the shared typed recognizer; the shell feeds it.
func registerBuiltinProviders(reg *config.Registry, client *http.Client, keyboard *typed.Provider) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("proxy", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []llmproxy.Option{llmproxy.WithHTTPClient(client)}
		if entry.Model != "" {
			opts = append(opts, llmproxy.WithModel(entry.Model))
		}
		return llmproxy.New(entry.BaseURL, opts...)
	})

	// Direct backends share one pattern: optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.SupportedProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			model := entry.Model
			if model == "" {
				model = config.DefaultPracticeModel
			}
			return anyllm.New(providerName, model, opts...)
		})
	}

	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		model := entry.Model
		if model == "" {
			model = config.DefaultPracticeModel
		}
		opts := []openaicompat.Option{openaicompat.WithHTTPClient(client)}
		if entry.APIKey != "" {
			opts = append(opts, openaicompat.WithAPIKey(entry.APIKey))
		}
		return openaicompat.New(entry.BaseURL, model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("proxy", func(entry config.ProviderEntry) (tts.Provider, error) {
		return ttsproxy.New(entry.BaseURL, ttsproxy.WithHTTPClient(client))
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithHTTPClient(client)}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithHTTPClient(client)}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{whisper.WithHTTPClient(client)}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("typed", func(config.ProviderEntry) (stt.Provider, error) {
		return keyboard, nil
	})

	for _, kind := range []string{"llm", "tts", "stt"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildLLM creates every configured LLM entry in order and chains them
// behind per-entry circuit breakers. The first entry is the primary.
func buildLLM(entries []config.ProviderEntry, reg *config.Registry, fb resilience.FallbackConfig) (llm.Provider, string, error) {
	var group *resilience.LLMFallback
	for i, entry := range entries {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, "", fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		name := entryName(i, entry)
		if group == nil {
			group = resilience.NewLLMFallback(p, name, fb)
		} else {
			group.AddFallback(name, p)
		}
		slog.Info("provider created", "kind", "llm", "name", name)
	}
	if group == nil {
		return nil, "", errors.New("no llm provider configured")
	}
	return group, entries[0].Name, nil
}

// buildTTS is the TTS counterpart of buildLLM.
func buildTTS(entries []config.ProviderEntry, reg *config.Registry, fb resilience.FallbackConfig) (tts.Provider, error) {
	var group *resilience.TTSFallback
	for i, entry := range entries {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		name := entryName(i, entry)
		if group == nil {
			group = resilience.NewTTSFallback(p, name, fb)
		} else {
			group.AddFallback(name, p)
		}
		slog.Info("provider created", "kind", "tts", "name", name)
	}
	if group == nil {
		return nil, errors.New("no tts provider configured")
	}
	return group, nil
}

// buildSTT creates the recognizer. An unregistered name leaves speech
// capture unsupported rather than failing startup.
func buildSTT(entry config.ProviderEntry, reg *config.Registry) (stt.Provider, error) {
	p, err := reg.CreateSTT(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("speech recognition unavailable", "name", entry.Name, "err", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name)
	return p, nil
}

// entryName keeps breaker names unique when the same provider appears twice.
func entryName(i int, e config.ProviderEntry) string {
	if i == 0 {
		return e.Name
	}
	return fmt.Sprintf("%s#%d", e.Name, i)
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
