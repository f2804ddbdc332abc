package practice

import (
	"slices"
	"strings"
)

// Role tags a conversation turn as spoken by the agent (user) or the
// prospect (assistant).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Role    Role
	Content string
}

// Phase is the coarse lifecycle of a session. It only moves forward until a
// reset returns it to PhaseSetup.
type Phase int

const (
	PhaseSetup Phase = iota
	PhasePractice
	PhaseResults
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhasePractice:
		return "practice"
	case PhaseResults:
		return "results"
	default:
		return "unknown"
	}
}

// State is the fine-grained conversation state driven by the [Orchestrator].
type State int

const (
	StateSetup State = iota
	StateAwaitingUserSpeech
	StateSendingToModel
	StatePlayingReply
	StateResults
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateAwaitingUserSpeech:
		return "awaiting_user_speech"
	case StateSendingToModel:
		return "sending_to_model"
	case StatePlayingReply:
		return "playing_reply"
	case StateResults:
		return "results"
	default:
		return "unknown"
	}
}

// Phase maps a state onto its lifecycle phase.
func (s State) Phase() Phase {
	switch s {
	case StateSetup:
		return PhaseSetup
	case StateResults:
		return PhaseResults
	default:
		return PhasePractice
	}
}

// SessionState is a snapshot of one practice session. Values handed out by
// the orchestrator are copies; mutating them has no effect.
type SessionState struct {
	// ID uniquely identifies the session in logs.
	ID string

	State State

	// Scenario is nil until one is selected.
	Scenario *Scenario

	// CustomDetails is free text captured by the scenario recording.
	CustomDetails string

	// History is the conversation in chronological order.
	History []Turn

	// Recording reports whether a speech capture is in progress.
	Recording bool

	Ratings RatingSet

	// Assessment is the model-written feedback, or the fallback text, once
	// the session has ended.
	Assessment string

	// Notes is the agent's free-form self-review.
	Notes string
}

// Phase returns the lifecycle phase of the session.
func (s SessionState) Phase() Phase { return s.State.Phase() }

// Clone returns a deep copy of s.
func (s SessionState) Clone() SessionState {
	c := s
	c.History = slices.Clone(s.History)
	if s.Scenario != nil {
		sc := *s.Scenario
		c.Scenario = &sc
	}
	return c
}

// Transcript renders the history as "Agent: …" / "Prospect: …" lines
// separated by blank lines.
func Transcript(history []Turn) string {
	parts := make([]string, 0, len(history))
	for _, t := range history {
		speaker := "Prospect"
		if t.Role == RoleUser {
			speaker = "Agent"
		}
		parts = append(parts, speaker+": "+t.Content)
	}
	return strings.Join(parts, "\n\n")
}
