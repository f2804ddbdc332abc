// Package proxy provides a tts.Provider that talks to the scriptcoach proxy
// server's ElevenLabs routes. The proxy injects the ElevenLabs credential, so
// this client sends none.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts/elevenlabs"
)

const (
	voicesPath   = "/api/elevenlabs/voices"
	ttsPrefix    = "/api/elevenlabs/tts/"
	maxErrorBody = 64 << 10
)

// Option is a functional option for configuring the proxy Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider against the proxy's ElevenLabs routes.
type Provider struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider for the proxy at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("tts proxy: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+voicesPath, nil)
	if err != nil {
		return nil, fmt.Errorf("tts proxy: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	data, err := p.do("tts proxy list voices", req)
	if err != nil {
		return nil, err
	}
	voices, err := elevenlabs.ParseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("tts proxy: list voices decode: %w", err)
	}
	return voices, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	body, err := elevenlabs.EncodeSynthesisRequest(req)
	if err != nil {
		return nil, fmt.Errorf("tts proxy: %w", err)
	}
	u := p.baseURL + ttsPrefix + url.PathEscape(req.VoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts proxy: synthesize: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	return p.do("tts proxy synthesize", httpReq)
}

func (p *Provider) do(op string, req *http.Request) ([]byte, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, failure.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, failure.Remote(op, resp.StatusCode, elevenlabs.ErrorDetail(data))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failure.Classify(op, err)
	}
	return data, nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
