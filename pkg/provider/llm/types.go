package llm

// Role values accepted in [Message.Role].
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is "user" or "assistant". System instructions travel separately in
	// [CompletionRequest.SystemPrompt].
	Role string

	// Content is the text content of the message.
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	// Messages is the ordered conversation history. It is sent verbatim and
	// never reordered.
	Messages []Message

	// MaxTokens caps the number of completion tokens. Zero means provider
	// default.
	MaxTokens int

	// SystemPrompt is an optional instruction sent outside the message list
	// (Anthropic's separate "system" field). Empty means no system prompt.
	SystemPrompt string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is returned by [Provider.Complete].
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair, when the
	// backend reports it.
	Usage Usage
}
