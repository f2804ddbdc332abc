package practice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	audiomock "github.com/MrWong99/scriptcoach/pkg/audio/mock"
	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/llm"
	llmmock "github.com/MrWong99/scriptcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt"
	sttmock "github.com/MrWong99/scriptcoach/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/scriptcoach/pkg/provider/tts/mock"
)

// ─── harness ─────────────────────────────────────────────────────────────────

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnEvent(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds(k EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) states() []State {
	var out []State
	for _, e := range l.kinds(EventStateChanged) {
		out = append(out, e.To)
	}
	return out
}

type harness struct {
	o      *Orchestrator
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
	player *audiomock.Player
	stt    *sttmock.Provider
	log    *eventLog
}

// newHarness wires real dialogue, voice and capture clients to mock
// providers. The model answers "reply 1", "reply 2", ... in call order.
func newHarness(t *testing.T) *harness {
	t.Helper()
	var n atomic.Int32
	h := &harness{
		llm: &llmmock.Provider{
			CompleteFunc: func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
				return &llm.CompletionResponse{Content: fmt.Sprintf("reply %d", n.Add(1))}, nil
			},
		},
		tts:    &ttsmock.Provider{ListVoicesResult: testVoices, SynthesizeResult: []byte("mp3")},
		player: &audiomock.Player{},
		stt:    &sttmock.Provider{},
		log:    &eventLog{},
	}
	m := testMetrics(t)
	h.o = NewOrchestrator(
		NewDialogueClient(h.llm, WithDialogueMetrics(m)),
		NewVoiceClient(h.tts, h.player, WithVoiceMetrics(m)),
		NewSpeechCapture(h.stt, WithCaptureMetrics(m)),
		WithObserver(h.log),
		WithOrchestratorMetrics(m),
	)
	t.Cleanup(h.o.Close)
	return h
}

// start selects scenario id and runs the opening exchange.
func (h *harness) start(t *testing.T, id string) {
	t.Helper()
	if err := h.o.SelectScenario(id); err != nil {
		t.Fatalf("SelectScenario: %v", err)
	}
	if err := h.o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// record runs one turn recording in which the recognizer finalises text.
func (h *harness) record(t *testing.T, text string) error {
	t.Helper()
	sess := newTestSession()
	h.stt.Session = sess
	if err := h.o.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if text != "" {
		sess.FinalsCh <- stt.Transcript{Text: text, IsFinal: true}
	}
	return h.o.StopRecording(context.Background())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to State
		want     bool
	}{
		{StateSetup, StateSendingToModel, true},
		{StateSetup, StateAwaitingUserSpeech, false},
		{StateSendingToModel, StatePlayingReply, true},
		{StateSendingToModel, StateSendingToModel, false},
		{StatePlayingReply, StateAwaitingUserSpeech, true},
		{StatePlayingReply, StateSendingToModel, false},
		{StateAwaitingUserSpeech, StateSendingToModel, true},
		{StateAwaitingUserSpeech, StateResults, true},
		{StateResults, StateSendingToModel, false},
		{StateResults, StateSetup, true},
	}
	for _, tc := range tests {
		if got := transitionValid(tc.from, tc.to); got != tc.want {
			t.Errorf("transitionValid(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOrchestrator_StartRequiresScenario(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	err := h.o.Start(context.Background())
	if !errors.Is(err, ErrNoScenario) || !failure.IsUserInput(err) {
		t.Fatalf("Start without scenario: %v", err)
	}
	if len(h.llm.Calls()) != 0 {
		t.Error("no dialogue request expected")
	}

	if err := h.o.SelectScenario("open-house"); !failure.IsUserInput(err) {
		t.Errorf("unknown scenario: %v", err)
	}
}

func TestOrchestrator_FSBOOpeningLine(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "fsbo")

	calls := h.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("dialogue calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if len(req.Messages) != 1 || req.Messages[0].Content != "Begin the conversation." {
		t.Errorf("opening messages = %+v", req.Messages)
	}
	if !strings.Contains(req.SystemPrompt, mustScenario(t, "fsbo").Prompt) {
		t.Error("system prompt lacks the FSBO prompt")
	}

	st := h.o.State()
	if st.State != StateAwaitingUserSpeech || st.Phase() != PhasePractice {
		t.Errorf("state = %s (%s)", st.State, st.Phase())
	}
	if len(st.History) != 1 || st.History[0] != (Turn{Role: RoleAssistant, Content: "reply 1"}) {
		t.Errorf("history = %+v", st.History)
	}
	want := []State{StateSendingToModel, StatePlayingReply, StateAwaitingUserSpeech}
	if got := h.log.states(); !slices.Equal(got, want) {
		t.Errorf("state sequence = %v, want %v", got, want)
	}
	if h.player.PlayCount() != 1 {
		t.Errorf("PlayCount = %d, want 1", h.player.PlayCount())
	}
}

func TestOrchestrator_HistoryIsChronologicalContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "objection")
	for _, text := range []string{"Hi", "I understand your concern", "Let's discuss pricing"} {
		if err := h.record(t, text); err != nil {
			t.Fatalf("record %q: %v", text, err)
		}
	}

	calls := h.llm.Calls()
	if len(calls) != 4 {
		t.Fatalf("dialogue calls = %d, want 4", len(calls))
	}
	want := []llm.Message{
		{Role: "assistant", Content: "reply 1"},
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "reply 2"},
		{Role: "user", Content: "I understand your concern"},
		{Role: "assistant", Content: "reply 3"},
		{Role: "user", Content: "Let's discuss pricing"},
	}
	if got := calls[3].Req.Messages; !slices.Equal(got, want) {
		t.Errorf("fourth request messages =\n%+v\nwant\n%+v", got, want)
	}

	// Every request k (k > 1) carries exactly the turns committed before it.
	final := h.o.State().History
	for k := 1; k < len(calls); k++ {
		got := calls[k].Req.Messages
		if len(got) != 2*k {
			t.Fatalf("request %d has %d messages, want %d", k+1, len(got), 2*k)
		}
		for i, m := range got {
			if m.Role != string(final[i].Role) || m.Content != final[i].Content {
				t.Errorf("request %d message %d = %+v, want %+v", k+1, i, m, final[i])
			}
		}
	}
	if len(final) != 7 {
		t.Errorf("final history length = %d, want 7", len(final))
	}
}

func TestOrchestrator_EmptyTranscriptIsIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "circle")
	before := h.o.State()

	err := h.record(t, "")
	if !failure.IsUserInput(err) || failure.UserMessage(err) != NoSpeechMessage {
		t.Fatalf("StopRecording with no speech: %v", err)
	}
	// Whitespace-only finals trim to nothing as well.
	if err := h.record(t, "   "); !failure.IsUserInput(err) {
		t.Fatalf("whitespace transcript: %v", err)
	}

	after := h.o.State()
	if len(h.llm.Calls()) != 1 {
		t.Errorf("dialogue calls = %d, want only the opening", len(h.llm.Calls()))
	}
	if len(after.History) != len(before.History) {
		t.Errorf("history grew from %d to %d", len(before.History), len(after.History))
	}
	if after.State != StateAwaitingUserSpeech || after.Recording {
		t.Errorf("state = %s recording=%v", after.State, after.Recording)
	}
	notices := h.log.kinds(EventNotice)
	if len(notices) != 2 || notices[0].Text != NoSpeechMessage {
		t.Errorf("notices = %+v", notices)
	}
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.llm.Gate = make(chan struct{})
	h.llm.Started = make(chan struct{}, 1)
	if err := h.o.SelectScenario("listing"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- h.o.Start(context.Background()) }()
	<-h.llm.Started

	if err := h.o.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start = %v, want ErrBusy", err)
	}
	if err := h.o.Retry(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Retry during request = %v, want ErrBusy", err)
	}
	if st := h.o.State().State; st != StateSendingToModel {
		t.Errorf("state during request = %s", st)
	}

	close(h.llm.Gate)
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(h.llm.Calls()); got != 1 {
		t.Errorf("dialogue calls = %d, want 1", got)
	}
	if got := len(h.o.State().History); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestOrchestrator_PlaybackReplacement(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "buyer")
	first := h.player.Last()
	if err := h.record(t, "What's your budget?"); err != nil {
		t.Fatal(err)
	}
	second := h.player.Last()

	if first == nil || second == nil || first == second {
		t.Fatal("expected two playbacks")
	}
	if !first.IsDone() || first.StopCalls() != 1 {
		t.Error("previous playback was not stopped")
	}
	if h.player.MaxActive != 1 {
		t.Errorf("MaxActive = %d, want 1", h.player.MaxActive)
	}
}

func TestOrchestrator_VoiceFailureStillAdvances(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.tts.ListVoicesErr = errors.New("ElevenLabs API error")
	h.start(t, "expired")

	if st := h.o.State().State; st != StateAwaitingUserSpeech {
		t.Fatalf("state = %s, want awaiting_user_speech", st)
	}
	if h.player.PlayCount() != 0 {
		t.Error("nothing should have been played")
	}
	if len(h.log.kinds(EventNotice)) != 0 {
		t.Error("voice failures must not be surfaced")
	}
}

func TestOrchestrator_DialogueFailureStaysInteractive(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var n atomic.Int32
	h.llm.CompleteFunc = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if n.Add(1) == 2 {
			return nil, failure.Transport("proxy", errors.New("connection refused"))
		}
		return &llm.CompletionResponse{Content: "ok"}, nil
	}
	h.start(t, "fsbo")

	err := h.record(t, "Hi there")
	if !failure.IsTransport(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	st := h.o.State()
	if st.State != StateAwaitingUserSpeech {
		t.Errorf("state after failure = %s", st.State)
	}
	if last := st.History[len(st.History)-1]; last.Role != RoleUser || last.Content != "Hi there" {
		t.Errorf("last turn = %+v", last)
	}
	notices := h.log.kinds(EventNotice)
	if len(notices) != 1 || notices[0].Text != "Cannot connect to server. Make sure the server is running." {
		t.Errorf("notices = %+v", notices)
	}

	if err := h.o.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	st = h.o.State()
	if len(st.History) != 3 || st.History[2].Role != RoleAssistant {
		t.Errorf("history after retry = %+v", st.History)
	}
	if err := h.o.Retry(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Retry with nothing unanswered = %v", err)
	}
}

func TestOrchestrator_RetryFailedOpening(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var n atomic.Int32
	h.llm.CompleteFunc = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if n.Add(1) == 1 {
			return nil, failure.Remote("proxy", 529, "overloaded")
		}
		return &llm.CompletionResponse{Content: "Hello?"}, nil
	}
	if err := h.o.SelectScenario("expired"); err != nil {
		t.Fatalf("SelectScenario: %v", err)
	}
	if err := h.o.Start(context.Background()); !failure.IsRemote(err) {
		t.Fatalf("Start = %v, want RemoteServiceError", err)
	}
	if st := h.o.State(); st.State != StateAwaitingUserSpeech || len(st.History) != 0 {
		t.Fatalf("state after failed opening = %s, history %+v", st.State, st.History)
	}

	if err := h.o.Retry(context.Background()); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	st := h.o.State()
	if len(st.History) != 1 || st.History[0].Content != "Hello?" {
		t.Errorf("history after retry = %+v", st.History)
	}
	calls := h.llm.Calls()
	if got := calls[1].Req.Messages; len(got) != 1 || got[0].Content != "Begin the conversation." {
		t.Errorf("retry messages = %+v, want the opening prompt", got)
	}
}

func TestOrchestrator_EndSessionAndRatings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "fsbo")
	if err := h.record(t, "Hi"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.SetRating(CategoryOverall, 3); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("SetRating before results = %v", err)
	}

	assessment, err := h.o.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if assessment != "reply 3" {
		t.Errorf("assessment = %q", assessment)
	}
	st := h.o.State()
	if st.State != StateResults || st.Phase() != PhaseResults || st.Assessment != "reply 3" {
		t.Errorf("state = %s assessment = %q", st.State, st.Assessment)
	}
	if !h.player.Last().IsDone() {
		t.Error("playback should be stopped at session end")
	}
	if ready := h.log.kinds(EventAssessmentReady); len(ready) != 1 {
		t.Errorf("assessment events = %d", len(ready))
	}

	for c, stars := range map[Category]int{
		CategoryConfidence: 4, CategoryObjections: 3, CategoryRapport: 5, CategoryOverall: 4,
	} {
		if _, err := h.o.SetRating(c, stars); err != nil {
			t.Fatalf("SetRating(%s): %v", c, err)
		}
	}
	r := h.o.State().Ratings
	if r.Percentage() != 80 || r.Tier() != "Great work!" {
		t.Errorf("score = %d%% %q", r.Percentage(), r.Tier())
	}
	if err := h.o.SetNotes("Slow down on the pricing talk."); err != nil {
		t.Fatal(err)
	}
	if _, err := h.o.EndSession(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second EndSession = %v", err)
	}
}

func TestOrchestrator_AssessmentFallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "circle")
	h.llm.CompleteFunc = func(llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, failure.Remote("proxy", 529, "overloaded")
	}

	got, err := h.o.EndSession(context.Background())
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if got != AssessmentFallback || h.o.State().Assessment != AssessmentFallback {
		t.Errorf("assessment = %q", got)
	}
}

func TestOrchestrator_Reset(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "buyer")
	firstID := h.o.State().ID
	pb := h.player.Last()

	h.o.Reset()

	st := h.o.State()
	if st.State != StateSetup || st.Scenario != nil || len(st.History) != 0 || st.CustomDetails != "" {
		t.Errorf("state after reset = %+v", st)
	}
	if st.ID == firstID || st.ID == "" {
		t.Errorf("session ID not renewed: %q", st.ID)
	}
	if !pb.IsDone() {
		t.Error("playback not stopped by reset")
	}
	h.start(t, "fsbo")
	if got := h.o.State().State; got != StateAwaitingUserSpeech {
		t.Errorf("state after restart = %s", got)
	}
}

func TestOrchestrator_ScenarioRecordingFeedsCustomDetails(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	if err := h.o.SelectScenario("expired"); err != nil {
		t.Fatal(err)
	}
	sess := newTestSession()
	h.stt.Session = sess
	if err := h.o.StartScenarioRecording(context.Background()); err != nil {
		t.Fatalf("StartScenarioRecording: %v", err)
	}
	if err := h.o.StopRecording(context.Background()); !errors.Is(err, ErrNotRecording) {
		t.Errorf("StopRecording during scenario recording = %v", err)
	}
	sess.FinalsCh <- stt.Transcript{Text: "Listed for 6 months at $520k", IsFinal: true}

	details, err := h.o.StopScenarioRecording()
	if err != nil {
		t.Fatalf("StopScenarioRecording: %v", err)
	}
	if details != "Listed for 6 months at $520k" || h.o.State().CustomDetails != details {
		t.Errorf("details = %q", details)
	}
	if h.o.State().History != nil {
		t.Error("scenario recording must not add a turn")
	}

	if err := h.o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sp := h.llm.Calls()[0].Req.SystemPrompt; !strings.Contains(sp, "Additional context: Listed for 6 months at $520k") {
		t.Errorf("system prompt lacks custom details:\n%s", sp)
	}
}

func TestOrchestrator_RecordingUnsupported(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	log := &eventLog{}
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello?"}}
	o := NewOrchestrator(
		NewDialogueClient(p, WithDialogueMetrics(m)),
		NewVoiceClient(&ttsmock.Provider{}, &audiomock.Player{}, WithVoiceMetrics(m)),
		nil,
		WithObserver(log),
		WithOrchestratorMetrics(m),
	)
	defer o.Close()

	_ = o.SelectScenario("fsbo")
	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := o.StartRecording(context.Background()); !failure.IsUnsupported(err) {
		t.Fatalf("StartRecording = %v, want UnsupportedCapabilityError", err)
	}
	notices := log.kinds(EventNotice)
	if len(notices) != 1 || notices[0].Text != "Speech recognition is not supported in this environment." {
		t.Errorf("notices = %+v", notices)
	}
	if o.State().State != StateAwaitingUserSpeech {
		t.Errorf("state = %s", o.State().State)
	}
}

func TestOrchestrator_RecognizerEndSubmitsTranscript(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t, "fsbo")

	sess := newTestSession()
	h.stt.Session = sess
	if err := h.o.StartRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess.PartialsCh <- stt.Transcript{Text: "I hear you're sell"}
	sess.FinalsCh <- stt.Transcript{Text: "I hear you're selling", IsFinal: true}
	sess.End()

	waitFor(t, "automatic submit", func() bool { return len(h.llm.Calls()) == 2 })
	waitFor(t, "reply", func() bool { return h.o.State().State == StateAwaitingUserSpeech && len(h.o.State().History) == 3 })

	if got := h.o.State().History[1]; got.Content != "I hear you're selling" {
		t.Errorf("submitted turn = %+v", got)
	}
	partials := h.log.kinds(EventPartialTranscript)
	if len(partials) == 0 || partials[0].Text != ListeningPlaceholder {
		t.Errorf("partials = %+v", partials)
	}
}

func TestOrchestrator_EndSessionSilencesPendingReply(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	g := newGatedTTS()
	player := &audiomock.Player{}
	llmp := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Hello?"}}
	o := NewOrchestrator(
		NewDialogueClient(llmp, WithDialogueMetrics(m)),
		NewVoiceClient(g, player, WithVoiceMetrics(m)),
		nil,
		WithOrchestratorMetrics(m),
	)
	defer o.Close()
	_ = o.SelectScenario("fsbo")

	started := make(chan error, 1)
	go func() { started <- o.Start(context.Background()) }()
	<-g.started
	if st := o.State().State; st != StatePlayingReply {
		t.Fatalf("state while synthesising = %s", st)
	}

	ended := make(chan error, 1)
	go func() {
		_, err := o.EndSession(context.Background())
		ended <- err
	}()
	waitFor(t, "results", func() bool { return o.State().State == StateResults })

	close(g.release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-ended; err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if player.PlayCount() != 0 {
		t.Errorf("PlayCount = %d, clip finished after EndSession must not play", player.PlayCount())
	}
	if st := o.State().State; st != StateResults {
		t.Errorf("state = %s, want results", st)
	}
}

// orderedDialogue records whether an assessment ran while a reply was
// outstanding. Replies ignore cancellation and wait for release.
type orderedDialogue struct {
	started chan struct{}
	release chan struct{}

	replying atomic.Bool
	overlap  atomic.Bool
	replyCtx atomic.Pointer[context.Context]
}

func (d *orderedDialogue) Reply(ctx context.Context, _ ReplyRequest) (string, error) {
	d.replying.Store(true)
	defer d.replying.Store(false)
	d.replyCtx.Store(&ctx)
	d.started <- struct{}{}
	<-d.release
	return "late reply", nil
}

func (d *orderedDialogue) Assess(context.Context, Scenario, []Turn) (string, error) {
	if d.replying.Load() {
		d.overlap.Store(true)
	}
	return "assessment", nil
}

func TestOrchestrator_AssessmentWaitsForOutstandingReply(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	d := &orderedDialogue{started: make(chan struct{}, 1), release: make(chan struct{})}
	player := &audiomock.Player{}
	o := NewOrchestrator(d,
		NewVoiceClient(&ttsmock.Provider{ListVoicesResult: testVoices, SynthesizeResult: []byte("x")}, player, WithVoiceMetrics(m)),
		nil,
		WithOrchestratorMetrics(m),
	)
	defer o.Close()
	_ = o.SelectScenario("buyer")

	started := make(chan error, 1)
	go func() { started <- o.Start(context.Background()) }()
	<-d.started

	type result struct {
		assessment string
		err        error
	}
	ended := make(chan result, 1)
	go func() {
		a, err := o.EndSession(context.Background())
		ended <- result{a, err}
	}()
	waitFor(t, "results", func() bool { return o.State().State == StateResults })

	if ctx := d.replyCtx.Load(); ctx == nil || (*ctx).Err() == nil {
		t.Error("EndSession should cancel the outstanding reply request")
	}
	select {
	case <-ended:
		t.Fatal("EndSession assessed before the outstanding reply returned")
	case <-time.After(50 * time.Millisecond):
	}

	close(d.release)
	if err := <-started; err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := <-ended
	if res.err != nil || res.assessment != "assessment" {
		t.Fatalf("EndSession = %q, %v", res.assessment, res.err)
	}
	if d.overlap.Load() {
		t.Error("assessment overlapped a reply request")
	}
	if st := o.State(); st.State != StateResults || len(st.History) != 0 || st.Assessment != "assessment" {
		t.Errorf("late reply leaked into results: %+v", st)
	}
	if player.PlayCount() != 0 {
		t.Error("late reply must not be voiced")
	}
}
