package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "m"); err == nil {
		t.Error("expected error for empty baseURL")
	}
	if _, err := New("http://localhost:1234/v1/", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestConvertMessage(t *testing.T) {
	u, err := convertMessage(llm.Message{Role: llm.RoleUser, Content: "Hi"})
	if err != nil || u.OfUser == nil {
		t.Errorf("user: %+v, %v", u, err)
	}
	a, err := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "Who is this?"})
	if err != nil || a.OfAssistant == nil {
		t.Errorf("assistant: %+v, %v", a, err)
	}
	if _, err := convertMessage(llm.Message{Role: "tool"}); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"local",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Not interested."}}],
			"usage":{"prompt_tokens":20,"completion_tokens":3,"total_tokens":23}}`))
	}))
	defer srv.Close()

	p, err := New(srv.URL+"/v1/", "local", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are a homeowner.",
		MaxTokens:    1024,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Not interested." || resp.Usage.TotalTokens != 23 {
		t.Errorf("resp = %+v", resp)
	}
	if got.Model != "local" || got.MaxTokens != 1024 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "Hi" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestComplete_RemoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p, _ := New(srv.URL+"/v1/", "local", WithHTTPClient(srv.Client()))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if !failure.IsRemote(err) {
		t.Fatalf("expected RemoteServiceError, got %T: %v", err, err)
	}
}

func TestComplete_UnreachableIsTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, _ := New(url+"/v1/", "local")
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if !failure.IsTransport(err) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}
