package tts

// Synthesis defaults used by the practice voice.
const (
	DefaultModel           = "eleven_turbo_v2_5"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
)

// VoiceProfile describes one voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// SynthesisRequest is the input to [Provider.Synthesize].
type SynthesisRequest struct {
	// Text is the text to speak. Must be non-empty.
	Text string

	// VoiceID selects the voice. Must be non-empty.
	VoiceID string

	// ModelID names the synthesis model. Empty means [DefaultModel].
	ModelID string

	// Stability and SimilarityBoost are the ElevenLabs voice_settings knobs
	// in the range [0, 1].
	Stability       float64
	SimilarityBoost float64
}

// WithDefaults returns a copy of r with an empty ModelID replaced by
// [DefaultModel].
func (r SynthesisRequest) WithDefaults() SynthesisRequest {
	if r.ModelID == "" {
		r.ModelID = DefaultModel
	}
	return r
}
