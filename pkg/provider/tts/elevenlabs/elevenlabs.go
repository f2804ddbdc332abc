// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs REST API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	voicesPath     = "/v1/voices"
	ttsPathFmt     = "/v1/text-to-speech/%s"

	maxErrorBody = 64 << 10
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (default https://api.elevenlabs.io).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// synthesisBody is the JSON body of POST /v1/text-to-speech/{voice_id}.
type synthesisBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ---- ListVoices ----

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	const op = "elevenlabs list voices"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	data, err := p.do(op, req)
	if err != nil {
		return nil, err
	}
	profiles, err := ParseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// ---- Synthesize ----

// Synthesize renders req.Text and returns MP3 audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	const op = "elevenlabs synthesize"

	body, err := EncodeSynthesisRequest(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+SynthesisPath(req.VoiceID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	return p.do(op, httpReq)
}

// do executes req and returns the body of a 2xx response. Failures are
// classified with the failure taxonomy.
func (p *Provider) do(op string, req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, failure.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, failure.Remote(op, resp.StatusCode, ErrorDetail(data))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Classify(op, err)
	}
	return data, nil
}

// ---- helpers ----

// SynthesisPath returns the API path for synthesising with voiceID.
func SynthesisPath(voiceID string) string {
	return fmt.Sprintf(ttsPathFmt, url.PathEscape(voiceID))
}

// EncodeSynthesisRequest validates req and encodes it as the JSON body
// ElevenLabs expects. Default settings are applied for an empty model.
func EncodeSynthesisRequest(req tts.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New("synthesis text must not be empty")
	}
	if req.VoiceID == "" {
		return nil, errors.New("voice ID must not be empty")
	}
	req = req.WithDefaults()
	return json.Marshal(synthesisBody{
		Text:    req.Text,
		ModelID: req.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       req.Stability,
			SimilarityBoost: req.SimilarityBoost,
		},
	})
}

// ParseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func ParseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}

// ErrorDetail pulls a message out of an ElevenLabs (or proxy) error body.
// Recognised shapes:
//
//	{"detail":{"status":"...","message":"..."}}
//	{"detail":"..."}
//	{"error":"...","details":"..."}
//
// It returns "" when nothing is found.
func ErrorDetail(data []byte) string {
	var env struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Details string          `json:"details"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return strings.TrimSpace(string(data))
	}

	if len(env.Detail) > 0 {
		var s string
		if err := json.Unmarshal(env.Detail, &s); err == nil {
			return s
		}
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(env.Detail, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
	}
	switch {
	case env.Error != "" && env.Details != "":
		return env.Error + ": " + env.Details
	case env.Error != "":
		return env.Error
	}
	return ""
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
