package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
)

// ---- Voice list response parsing ----

func TestParseVoicesResponse_Success(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Rachel",
				"category": "premade",
				"labels": {"gender": "female", "accent": "american"}
			},
			{
				"voice_id": "def456",
				"name": "Adam",
				"category": "premade",
				"labels": {"gender": "male"}
			}
		]
	}`)

	profiles, err := ParseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("ParseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	rachel := profiles[0]
	if rachel.ID != "abc123" {
		t.Errorf("expected ID 'abc123', got %q", rachel.ID)
	}
	if rachel.Name != "Rachel" {
		t.Errorf("expected Name 'Rachel', got %q", rachel.Name)
	}
	if rachel.Provider != "elevenlabs" {
		t.Errorf("expected Provider 'elevenlabs', got %q", rachel.Provider)
	}
	if rachel.Metadata["gender"] != "female" {
		t.Errorf("expected gender 'female', got %q", rachel.Metadata["gender"])
	}
	if rachel.Metadata["category"] != "premade" {
		t.Errorf("expected category 'premade', got %q", rachel.Metadata["category"])
	}
	if profiles[1].ID != "def456" {
		t.Errorf("expected ID 'def456', got %q", profiles[1].ID)
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	if _, err := ParseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseVoicesResponse_NoLabels(t *testing.T) {
	raw := []byte(`{"voices": [{"voice_id": "x1", "name": "Ghost", "category": "", "labels": null}]}`)
	profiles, err := ParseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("ParseVoicesResponse: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	if _, ok := profiles[0].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

// ---- Synthesis body ----

func TestEncodeSynthesisRequest(t *testing.T) {
	data, err := EncodeSynthesisRequest(tts.SynthesisRequest{
		Text:            "I'm not interested.",
		VoiceID:         "v1",
		Stability:       0.5,
		SimilarityBoost: 0.75,
	})
	if err != nil {
		t.Fatalf("EncodeSynthesisRequest: %v", err)
	}

	var body synthesisBody
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Text != "I'm not interested." {
		t.Errorf("text = %q", body.Text)
	}
	if body.ModelID != tts.DefaultModel {
		t.Errorf("model_id = %q, want %q", body.ModelID, tts.DefaultModel)
	}
	if body.VoiceSettings.Stability != 0.5 || body.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("voice_settings = %+v", body.VoiceSettings)
	}
}

func TestEncodeSynthesisRequest_Validation(t *testing.T) {
	if _, err := EncodeSynthesisRequest(tts.SynthesisRequest{VoiceID: "v1"}); err == nil {
		t.Error("expected error for empty text")
	}
	if _, err := EncodeSynthesisRequest(tts.SynthesisRequest{Text: "hi"}); err == nil {
		t.Error("expected error for empty voice")
	}
}

func TestSynthesisPath_Escapes(t *testing.T) {
	if got := SynthesisPath("abc/def"); got != "/v1/text-to-speech/abc%2Fdef" {
		t.Errorf("SynthesisPath = %q", got)
	}
}

// ---- Error detail ----

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"detail object", `{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`, "Invalid API key"},
		{"detail string", `{"detail":"voice not found"}`, "voice not found"},
		{"proxy shape", `{"error":"ElevenLabs TTS error","details":"quota exceeded"}`, "ElevenLabs TTS error: quota exceeded"},
		{"proxy error only", `{"error":"upstream down"}`, "upstream down"},
		{"plain text", "Service Unavailable\n", "Service Unavailable"},
		{"empty object", `{}`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ErrorDetail([]byte(tc.body)); got != tc.want {
				t.Errorf("ErrorDetail(%s) = %q, want %q", tc.body, got, tc.want)
			}
		})
	}
}

// ---- HTTP round trips ----

func TestListVoices_SendsKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "secret" {
			t.Errorf("xi-api-key = %q", got)
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Rachel"}]}`))
	}))
	defer srv.Close()

	p, err := New("secret", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestSynthesize_ReturnsAudio(t *testing.T) {
	t.Parallel()

	var gotBody synthesisBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/text-to-speech/v9" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-mp3-bytes"))
	}))
	defer srv.Close()

	p, _ := New("secret", WithBaseURL(srv.URL))
	audio, err := p.Synthesize(context.Background(), tts.SynthesisRequest{
		Text: "Hello?", VoiceID: "v9", Stability: 0.5, SimilarityBoost: 0.75,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "ID3-mp3-bytes" {
		t.Errorf("audio = %q", audio)
	}
	if gotBody.Text != "Hello?" || gotBody.ModelID != tts.DefaultModel {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSynthesize_RemoteError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))
	}))
	defer srv.Close()

	p, _ := New("bad", WithBaseURL(srv.URL))
	_, err := p.Synthesize(context.Background(), tts.SynthesisRequest{Text: "hi", VoiceID: "v1"})

	var re *failure.RemoteServiceError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteServiceError, got %T: %v", err, err)
	}
	if re.StatusCode != http.StatusUnauthorized || re.Detail != "Invalid API key" {
		t.Errorf("got status %d detail %q", re.StatusCode, re.Detail)
	}
}

func TestListVoices_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, _ := New("secret", WithBaseURL(url))
	_, err := p.ListVoices(context.Background())
	if !failure.IsTransport(err) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.baseURL != defaultBaseURL {
		t.Errorf("expected baseURL %q, got %q", defaultBaseURL, p.baseURL)
	}
}
