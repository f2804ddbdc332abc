package practice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm"
)

// Dialogue defaults.
const (
	DefaultModel               = "claude-sonnet-4-20250514"
	DefaultReplyMaxTokens      = 1024
	DefaultAssessmentMaxTokens = 2048
	DefaultRequestTimeout      = 60 * time.Second

	// openingInstruction is the synthetic user turn sent when the prospect
	// speaks first.
	openingInstruction = "Begin the conversation."

	// AssessmentFallback replaces the assessment when it cannot be generated.
	AssessmentFallback = "Unable to generate AI feedback. Please review the conversation manually."
)

// ReplyRequest is the input to [DialogueClient.Reply].
type ReplyRequest struct {
	// History is the committed conversation, oldest first.
	History []Turn

	Scenario      Scenario
	CustomDetails string

	// Opening asks the prospect to start the conversation.
	Opening bool
}

// DialogueClient builds role-play prompts and asks a language model for the
// prospect's replies and for the end-of-session assessment.
type DialogueClient struct {
	llm                 llm.Provider
	providerName        string
	model               string
	replyMaxTokens      int
	assessmentMaxTokens int
	timeout             time.Duration
	metrics             *observe.Metrics
}

// DialogueOption configures a [DialogueClient].
type DialogueOption func(*DialogueClient)

// WithModel sets the model name sent with every request.
func WithModel(model string) DialogueOption {
	return func(c *DialogueClient) { c.model = model }
}

// WithMaxTokens sets the completion caps for replies and assessments.
// Non-positive values keep the defaults.
func WithMaxTokens(reply, assessment int) DialogueOption {
	return func(c *DialogueClient) {
		if reply > 0 {
			c.replyMaxTokens = reply
		}
		if assessment > 0 {
			c.assessmentMaxTokens = assessment
		}
	}
}

// WithRequestTimeout bounds each model call. A non-positive value keeps the
// default.
func WithRequestTimeout(d time.Duration) DialogueOption {
	return func(c *DialogueClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithDialogueMetrics overrides the metrics sink.
func WithDialogueMetrics(m *observe.Metrics) DialogueOption {
	return func(c *DialogueClient) { c.metrics = m }
}

// WithProviderName labels metrics and logs with the backend name.
func WithProviderName(name string) DialogueOption {
	return func(c *DialogueClient) { c.providerName = name }
}

// NewDialogueClient returns a client backed by p.
func NewDialogueClient(p llm.Provider, opts ...DialogueOption) *DialogueClient {
	c := &DialogueClient{
		llm:                 p,
		providerName:        "llm",
		model:               DefaultModel,
		replyMaxTokens:      DefaultReplyMaxTokens,
		assessmentMaxTokens: DefaultAssessmentMaxTokens,
		timeout:             DefaultRequestTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Reply asks the model for the prospect's next line. Errors are
// *failure.TransportError or *failure.RemoteServiceError.
func (c *DialogueClient) Reply(ctx context.Context, req ReplyRequest) (string, error) {
	messages := make([]llm.Message, 0, max(len(req.History), 1))
	for _, t := range req.History {
		messages = append(messages, llm.Message{Role: string(t.Role), Content: t.Content})
	}
	if len(messages) == 0 {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: openingInstruction})
	}

	return c.complete(ctx, "reply", llm.CompletionRequest{
		Model:        c.model,
		Messages:     messages,
		MaxTokens:    c.replyMaxTokens,
		SystemPrompt: SystemPrompt(req.Scenario, req.CustomDetails, req.Opening),
	})
}

// Assess asks the model for structured feedback on the whole conversation.
// It sends a single user message and no system prompt.
func (c *DialogueClient) Assess(ctx context.Context, scenario Scenario, history []Turn) (string, error) {
	return c.complete(ctx, "assessment", llm.CompletionRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: AssessmentPrompt(scenario, history)},
		},
		MaxTokens: c.assessmentMaxTokens,
	})
}

func (c *DialogueClient) complete(ctx context.Context, kind string, req llm.CompletionRequest) (string, error) {
	ctx, span := observe.StartSpan(ctx, "dialogue."+kind)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.llm.Complete(ctx, req)
	c.metrics.DialogueDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("kind", kind)))

	if err != nil {
		err = failure.Classify("dialogue "+kind, err)
		observe.FailSpan(span, err)
		c.metrics.RecordProviderRequest(ctx, c.providerName, kind, "error")
		c.metrics.RecordProviderError(ctx, c.providerName, errorKind(err))
		return "", fmt.Errorf("dialogue: %s: %w", kind, err)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, kind, "ok")
	if resp == nil {
		return "", fmt.Errorf("dialogue: %s: %w", kind, failure.Remote("dialogue "+kind, 0, "empty response"))
	}
	return resp.Content, nil
}

// SystemPrompt builds the role-play instruction for scenario.
func SystemPrompt(scenario Scenario, customDetails string, opening bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are role-playing as a prospect in a real estate scenario: %s.\n\n", scenario.Name)
	b.WriteString(scenario.Prompt)
	b.WriteString("\n\n")
	if d := strings.TrimSpace(customDetails); d != "" {
		fmt.Fprintf(&b, "Additional context: %s\n\n", d)
	}

	turnGuideline := "Continue the conversation based on what the agent just said"
	if opening {
		turnGuideline = "Start the conversation as this character would naturally begin (e.g., answering the phone, greeting the agent, etc.)"
	}

	b.WriteString("Important guidelines:\n")
	for _, g := range []string{
		"Stay in character throughout the conversation",
		"Be realistic - include common objections and concerns",
		"Don't make it too easy, but also don't be unreasonably difficult",
		"Respond naturally as the character would",
		"Keep responses conversational and relatively brief (2-4 sentences typically)",
		turnGuideline,
		"Show personality and emotion appropriate to the scenario",
		"If the agent handles things well, you can gradually become more receptive",
		"End responses naturally without always asking questions",
	} {
		b.WriteString("- ")
		b.WriteString(g)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// AssessmentPrompt builds the one-shot feedback request.
func AssessmentPrompt(scenario Scenario, history []Turn) string {
	return fmt.Sprintf(`Please analyze this real estate practice conversation for a %s scenario and provide constructive feedback.

Conversation:
%s

Provide feedback in the following format:

**Strengths:**
- [List 2-3 things the agent did well]

**Areas for Improvement:**
- [List 2-3 specific areas to work on]

**Key Suggestions:**
- [Provide 2-3 actionable recommendations]

**Overall Assessment:**
[Brief summary of performance]

Be specific, constructive, and encouraging. Focus on real estate best practices.`, scenario.Name, Transcript(history))
}

func errorKind(err error) string {
	switch {
	case failure.IsTransport(err):
		return "transport"
	case failure.IsRemote(err):
		return "remote"
	default:
		return "other"
	}
}
