package practice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/scriptcoach/internal/resilience"
	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/scriptcoach/pkg/provider/llm/mock"
	llmproxy "github.com/MrWong99/scriptcoach/pkg/provider/llm/proxy"
)

func TestDialogueClient_OpeningReply(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello? Who's this?"}}
	c := NewDialogueClient(p, WithDialogueMetrics(testMetrics(t)))
	fsbo := mustScenario(t, "fsbo")

	got, err := c.Reply(context.Background(), ReplyRequest{Scenario: fsbo, Opening: true})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if got != "Hello? Who's this?" {
		t.Errorf("Reply = %q", got)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	req := calls[0].Req
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "Begin the conversation." {
		t.Errorf("Messages = %+v, want single synthetic opening turn", req.Messages)
	}
	if !strings.Contains(req.SystemPrompt, fsbo.Prompt) {
		t.Error("system prompt does not contain the FSBO prompt verbatim")
	}
	if !strings.HasPrefix(req.SystemPrompt, "You are role-playing as a prospect in a real estate scenario: FSBO (For Sale By Owner).") {
		t.Errorf("unexpected system prompt prefix: %q", req.SystemPrompt[:80])
	}
	if !strings.Contains(req.SystemPrompt, "- Start the conversation as this character would naturally begin") {
		t.Error("opening guideline missing")
	}
	if strings.Contains(req.SystemPrompt, "Additional context:") {
		t.Error("additional context should be omitted without custom details")
	}
	if req.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", req.Model, DefaultModel)
	}
	if req.MaxTokens != DefaultReplyMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultReplyMaxTokens)
	}
}

func TestDialogueClient_ContinuationSendsHistoryVerbatim(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Fine."}}
	c := NewDialogueClient(p, WithDialogueMetrics(testMetrics(t)))
	history := []Turn{
		{Role: RoleAssistant, Content: "Hello?"},
		{Role: RoleUser, Content: "Hi"},
	}

	if _, err := c.Reply(context.Background(), ReplyRequest{
		History:       history,
		Scenario:      mustScenario(t, "expired"),
		CustomDetails: "  Listed at $450k in Austin  ",
	}); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	req := p.Calls()[0].Req
	if len(req.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(req.Messages))
	}
	for i, m := range req.Messages {
		if m.Role != string(history[i].Role) || m.Content != history[i].Content {
			t.Errorf("Messages[%d] = %+v, want %+v", i, m, history[i])
		}
	}
	if !strings.Contains(req.SystemPrompt, "Additional context: Listed at $450k in Austin\n") {
		t.Errorf("custom details missing from system prompt:\n%s", req.SystemPrompt)
	}
	if !strings.Contains(req.SystemPrompt, "- Continue the conversation based on what the agent just said") {
		t.Error("continuation guideline missing")
	}
}

func TestDialogueClient_Assess(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "**Strengths:** ..."}}
	c := NewDialogueClient(p, WithDialogueMetrics(testMetrics(t)))

	got, err := c.Assess(context.Background(), mustScenario(t, "buyer"), []Turn{
		{Role: RoleAssistant, Content: "Hi, I'm looking for a house."},
		{Role: RoleUser, Content: "Great, let's talk about pre-approval."},
	})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if got != "**Strengths:** ..." {
		t.Errorf("Assess = %q", got)
	}

	req := p.Calls()[0].Req
	if req.SystemPrompt != "" {
		t.Errorf("assessment must not send a system prompt, got %q", req.SystemPrompt)
	}
	if req.MaxTokens != DefaultAssessmentMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, DefaultAssessmentMaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Fatalf("Messages = %+v, want one user message", req.Messages)
	}
	body := req.Messages[0].Content
	for _, want := range []string{
		"for a Buyer Consultation scenario",
		"Prospect: Hi, I'm looking for a house.\n\nAgent: Great, let's talk about pre-approval.",
		"**Strengths:**",
		"**Areas for Improvement:**",
		"**Key Suggestions:**",
		"**Overall Assessment:**",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("assessment prompt missing %q", want)
		}
	}
}

func TestDialogueClient_Options(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	c := NewDialogueClient(p,
		WithDialogueMetrics(testMetrics(t)),
		WithModel("claude-3-5-haiku-latest"),
		WithMaxTokens(256, 0),
	)
	sc := mustScenario(t, "circle")
	_, _ = c.Reply(context.Background(), ReplyRequest{Scenario: sc, Opening: true})
	_, _ = c.Assess(context.Background(), sc, nil)

	calls := p.Calls()
	if calls[0].Req.Model != "claude-3-5-haiku-latest" || calls[0].Req.MaxTokens != 256 {
		t.Errorf("reply request = %+v", calls[0].Req)
	}
	if calls[1].Req.MaxTokens != DefaultAssessmentMaxTokens {
		t.Errorf("assessment MaxTokens = %d, want default", calls[1].Req.MaxTokens)
	}
}

func TestDialogueClient_ErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		isClass func(error) bool
	}{
		{"remote passthrough", failure.Remote("proxy", 401, "invalid x-api-key"), failure.IsRemote},
		{"transport passthrough", failure.Transport("proxy", errors.New("connection refused")), failure.IsTransport},
		{"unclassified becomes remote", errors.New("overloaded"), failure.IsRemote},
		{"deadline becomes transport", context.DeadlineExceeded, failure.IsTransport},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{CompleteErr: tc.err}
			c := NewDialogueClient(p, WithDialogueMetrics(testMetrics(t)))
			_, err := c.Reply(context.Background(), ReplyRequest{Scenario: mustScenario(t, "fsbo")})
			if !tc.isClass(err) {
				t.Fatalf("unexpected classification for %v", err)
			}
		})
	}
}

func TestDialogueClient_TimeoutIsTransport(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{Gate: make(chan struct{})}
	c := NewDialogueClient(p,
		WithDialogueMetrics(testMetrics(t)),
		WithRequestTimeout(20*time.Millisecond),
	)

	start := time.Now()
	_, err := c.Reply(context.Background(), ReplyRequest{Scenario: mustScenario(t, "fsbo")})
	if !failure.IsTransport(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout was not applied")
	}
}

func TestDialogueClient_NilResponseIsRemote(t *testing.T) {
	t.Parallel()

	c := NewDialogueClient(&llmmock.Provider{}, WithDialogueMetrics(testMetrics(t)))
	_, err := c.Reply(context.Background(), ReplyRequest{Scenario: mustScenario(t, "fsbo")})
	if !failure.IsRemote(err) {
		t.Fatalf("expected RemoteServiceError, got %v", err)
	}
}

func TestDialogueClient_ProxyDownPastBreakerLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p, err := llmproxy.New(addr)
	if err != nil {
		t.Fatalf("llmproxy.New: %v", err)
	}
	c := NewDialogueClient(resilience.NewLLMFallback(p, "proxy", resilience.FallbackConfig{}),
		WithDialogueMetrics(testMetrics(t)))

	const want = "Cannot connect to server. Make sure the server is running."
	for i := range 7 {
		_, err := c.Reply(context.Background(), ReplyRequest{Scenario: mustScenario(t, "fsbo"), Opening: true})
		if !failure.IsTransport(err) {
			t.Fatalf("call %d: expected TransportError, got %v", i, err)
		}
		if got := failure.UserMessage(err); got != want {
			t.Errorf("call %d: UserMessage = %q, want %q", i, got, want)
		}
		if i >= 5 && !errors.Is(err, resilience.ErrCircuitOpen) {
			t.Errorf("call %d: expected the open breaker to short-circuit, got %v", i, err)
		}
	}
}

func TestDialogueClient_RejectedKeyKeepsDetail(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{CompleteErr: failure.Remote("proxy", 401, "invalid x-api-key")}
	c := NewDialogueClient(resilience.NewLLMFallback(p, "proxy", resilience.FallbackConfig{}),
		WithDialogueMetrics(testMetrics(t)))

	for i := range 7 {
		_, err := c.Reply(context.Background(), ReplyRequest{Scenario: mustScenario(t, "fsbo"), Opening: true})
		if got := failure.UserMessage(err); got != "API returned an error: invalid x-api-key" {
			t.Fatalf("call %d: UserMessage = %q", i, got)
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatalf("call %d: rejected requests must not open the breaker", i)
		}
	}
	if len(p.Calls()) != 7 {
		t.Errorf("calls = %d, want 7", len(p.Calls()))
	}
}
