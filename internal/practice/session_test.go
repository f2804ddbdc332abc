package practice

import "testing"

func TestState_Phase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  Phase
	}{
		{StateSetup, PhaseSetup},
		{StateSendingToModel, PhasePractice},
		{StatePlayingReply, PhasePractice},
		{StateAwaitingUserSpeech, PhasePractice},
		{StateResults, PhaseResults},
	}
	for _, tc := range tests {
		if got := tc.state.Phase(); got != tc.want {
			t.Errorf("%s.Phase() = %s, want %s", tc.state, got, tc.want)
		}
	}
}

func TestSessionState_CloneIsDeep(t *testing.T) {
	t.Parallel()

	sc, _ := LookupScenario("buyer")
	orig := SessionState{
		Scenario: &sc,
		History:  []Turn{{Role: RoleAssistant, Content: "Hello?"}},
	}
	c := orig.Clone()
	c.History[0].Content = "changed"
	c.Scenario.Name = "changed"

	if orig.History[0].Content != "Hello?" {
		t.Error("Clone shares the history backing array")
	}
	if orig.Scenario.Name == "changed" {
		t.Error("Clone shares the scenario pointer")
	}
}

func TestTranscript(t *testing.T) {
	t.Parallel()

	got := Transcript([]Turn{
		{Role: RoleAssistant, Content: "Hello, who's calling?"},
		{Role: RoleUser, Content: "Hi, this is Sam from Main Street Realty."},
		{Role: RoleAssistant, Content: "We're not interested."},
	})
	want := "Prospect: Hello, who's calling?\n\n" +
		"Agent: Hi, this is Sam from Main Street Realty.\n\n" +
		"Prospect: We're not interested."
	if got != want {
		t.Errorf("Transcript() =\n%q\nwant\n%q", got, want)
	}
	if Transcript(nil) != "" {
		t.Error("Transcript(nil) should be empty")
	}
}
