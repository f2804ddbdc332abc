package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/tts"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_EmptyBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/elevenlabs/voices" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "" || r.Header.Get("x-api-key") != "" {
			t.Error("client must not send credentials")
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"a"},{"voice_id":"b"}]}`))
	})

	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "a" || voices[1].ID != "b" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestListVoices_ProxyError(t *testing.T) {
	t.Parallel()

	p := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"ElevenLabs API error","details":"invalid key"}`))
	})

	_, err := p.ListVoices(context.Background())
	var re *failure.RemoteServiceError
	if !errors.As(err, &re) {
		t.Fatalf("expected RemoteServiceError, got %T: %v", err, err)
	}
	if re.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", re.StatusCode)
	}
	if re.Detail != "ElevenLabs API error: invalid key" {
		t.Errorf("detail = %q", re.Detail)
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var body map[string]any
	p := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/elevenlabs/tts/voice-1" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0xFF, 0xFB, 0x90})
	})

	audio, err := p.Synthesize(context.Background(), tts.SynthesisRequest{
		Text: "Hello", VoiceID: "voice-1", Stability: 0.5, SimilarityBoost: 0.75,
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(audio) != 3 {
		t.Errorf("audio length = %d, want 3", len(audio))
	}
	if body["model_id"] != tts.DefaultModel {
		t.Errorf("model_id = %v", body["model_id"])
	}
	vs, _ := body["voice_settings"].(map[string]any)
	if vs["stability"] != 0.5 || vs["similarity_boost"] != 0.75 {
		t.Errorf("voice_settings = %v", vs)
	}
}

func TestSynthesize_ServerDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p, _ := New(url)
	_, err := p.Synthesize(context.Background(), tts.SynthesisRequest{Text: "hi", VoiceID: "v"})
	if !failure.IsTransport(err) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}
}
