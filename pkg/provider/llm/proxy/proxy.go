// Package proxy provides an llm.Provider that talks to the scriptcoach proxy
// server's POST /api/anthropic endpoint. The proxy holds the Anthropic
// credential, so this client never sends one.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm"
)

const (
	endpointPath = "/api/anthropic"
	defaultModel = "claude-sonnet-4-20250514"

	// maxErrorBody bounds how much of a failed response is read for the
	// error detail.
	maxErrorBody = 64 << 10
)

// Option is a functional option for configuring the proxy Provider.
type Option func(*Provider)

// WithModel sets the default model used when a request does not name one.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements llm.Provider against the proxy's Anthropic route.
type Provider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates a Provider for the proxy at baseURL (e.g. "http://localhost:3001").
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("llm proxy: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- wire types ----

// messagesRequest is the body accepted by POST /api/anthropic.
type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// messagesResponse is the subset of the Anthropic Messages response we read.
type messagesResponse struct {
	Content []contentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// errorEnvelope matches both the upstream shape {"error":{"message":...}}
// and the proxy's own {"error":"..."}.
type errorEnvelope struct {
	Error json.RawMessage `json:"error"`
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	const op = "llm proxy completion"

	body, err := json.Marshal(buildRequest(p.model, req))
	if err != nil {
		return nil, fmt.Errorf("llm proxy: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpointPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm proxy: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, failure.Transport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, failure.Remote(op, resp.StatusCode, errorDetail(data))
	}

	var mr messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, failure.Classify(op, fmt.Errorf("decode response: %w", err))
	}
	if len(mr.Content) == 0 {
		return nil, failure.Remote(op, resp.StatusCode, "empty content in response")
	}

	return &llm.CompletionResponse{
		Content: mr.Content[0].Text,
		Usage: llm.Usage{
			PromptTokens:     mr.Usage.InputTokens,
			CompletionTokens: mr.Usage.OutputTokens,
			TotalTokens:      mr.Usage.InputTokens + mr.Usage.OutputTokens,
		},
	}, nil
}

// buildRequest converts a CompletionRequest to the proxy wire body.
func buildRequest(defaultModel string, req llm.CompletionRequest) messagesRequest {
	model := defaultModel
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}
	return messagesRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    req.SystemPrompt,
		Messages:  msgs,
	}
}

// errorDetail extracts a human-readable message from an error body. It
// returns "" when nothing useful is found, letting failure.Remote fall back
// to "HTTP <status>".
func errorDetail(data []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Error) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
