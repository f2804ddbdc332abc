// Package coqui provides a tts.Provider backed by a locally running Coqui TTS
// server, so the practice client can voice the prospect without a cloud
// account.
//
// Two server flavours are supported. The standard server
// (ghcr.io/coqui-ai/tts) synthesises via GET /api/tts and describes its
// model at GET /details. The XTTS v2 API server synthesises via
// POST /tts_to_audio/ and lists voices at GET /studio_speakers. Both return
// WAV, which is handed to the player unchanged.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	maxErrorBody    = 4 << 10

	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"

	// SingleSpeakerID is the voice ID reported for single-speaker models.
	// Synthesising with it omits the speaker parameter.
	SingleSpeakerID = "default"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeStandard targets the standard Coqui TTS server. Default.
	APIModeStandard APIMode = "standard"
	// APIModeXTTS targets the XTTS v2 API server.
	APIModeXTTS APIMode = "xtts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithAPIMode selects the server flavour.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider against a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New returns a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// ---- ListVoices ----

// ListVoices implements tts.Provider. Voices are sorted by name.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var speakers map[string]json.RawMessage
		if err := p.getJSON(ctx, studioSpeakersEndpoint, &speakers); err != nil {
			return nil, err
		}
		return profiles(slices.Sorted(maps.Keys(speakers)), "studio", ""), nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) == 0 {
		v := profiles([]string{SingleSpeakerID}, "single-speaker", details.ModelName)
		if details.ModelName != "" {
			v[0].Name = details.ModelName
		}
		return v, nil
	}
	return profiles(slices.Sorted(slices.Values(details.Speakers)), "speaker", details.ModelName), nil
}

func profiles(names []string, kind, model string) []tts.VoiceProfile {
	out := make([]tts.VoiceProfile, 0, len(names))
	for _, n := range names {
		meta := map[string]string{"type": kind}
		if model != "" {
			meta["model_name"] = model
		}
		out = append(out, tts.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: meta})
	}
	return out
}

// ---- Synthesize ----

// Synthesize implements tts.Provider and returns a WAV clip. The ElevenLabs
// voice settings and model ID have no Coqui equivalent and are ignored.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, failure.UserInput("Nothing to speak.")
	}

	var (
		httpReq *http.Request
		err     error
	)
	if p.apiMode == APIModeXTTS {
		body, _ := json.Marshal(map[string]string{
			"text":        req.Text,
			"speaker_wav": req.VoiceID,
			"language":    p.language,
		})
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	} else {
		q := url.Values{"text": {req.Text}}
		if req.VoiceID != "" && req.VoiceID != SingleSpeakerID {
			q.Set("speaker_id", req.VoiceID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.do(httpReq, "coqui synthesize")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Transport("coqui synthesize", err)
	}
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, failure.Remote("coqui synthesize", resp.StatusCode, "response is not a WAV file")
	}
	return wav, nil
}

// ---- helpers ----

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	op := "coqui GET " + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return failure.Classify(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// do sends req and converts failures into the error taxonomy. The caller
// closes the body of a successful response.
func (p *Provider) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, failure.Transport(op, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, failure.Remote(op, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}
