package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/scriptcoach/internal/observe"
	"github.com/MrWong99/scriptcoach/pkg/audio"
	"github.com/MrWong99/scriptcoach/pkg/failure"
)

// NoSpeechMessage is reported when a recording produced no text.
const NoSpeechMessage = "No speech detected. Please try again."

// Sentinel errors returned by [Orchestrator] operations.
var (
	// ErrBusy is returned when a dialogue request is already in flight. The
	// rejected call has no effect.
	ErrBusy = errors.New("practice: a reply is already being generated")

	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current state.
	ErrInvalidTransition = errors.New("practice: invalid state transition")

	// ErrNoScenario is returned by Start when no scenario has been selected.
	ErrNoScenario = failure.UserInput("Please select a scenario first.")

	// ErrNotRecording is returned when stopping a recording that was never
	// started.
	ErrNotRecording = errors.New("practice: not recording")
)

// Dialogue produces prospect replies and session assessments.
// [*DialogueClient] is the production implementation.
type Dialogue interface {
	Reply(ctx context.Context, req ReplyRequest) (string, error)
	Assess(ctx context.Context, scenario Scenario, history []Turn) (string, error)
}

// Voice speaks replies. [*VoiceClient] is the production implementation.
type Voice interface {
	// Speak returns the started playback, or nil if nothing is playing.
	Speak(ctx context.Context, text string) audio.Playback
	Stop()
}

// ---- events ----

// EventKind identifies the type of an [Event].
type EventKind int

const (
	// EventStateChanged reports a state transition in From/To.
	EventStateChanged EventKind = iota
	// EventPartialTranscript carries the live transcript in Text.
	EventPartialTranscript
	// EventTurnAppended carries the committed Turn.
	EventTurnAppended
	// EventNotice carries a short user-facing message in Text.
	EventNotice
	// EventAssessmentReady carries the assessment in Text.
	EventAssessmentReady
	// EventCustomDetails carries the recorded scenario details in Text.
	EventCustomDetails
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventPartialTranscript:
		return "partial_transcript"
	case EventTurnAppended:
		return "turn_appended"
	case EventNotice:
		return "notice"
	case EventAssessmentReady:
		return "assessment_ready"
	case EventCustomDetails:
		return "custom_details"
	default:
		return "unknown"
	}
}

// Event is a notification delivered to observers.
type Event struct {
	Kind      EventKind
	SessionID string

	From, To State
	Text     string
	Turn     Turn

	// Err is the underlying error of a notice, if any.
	Err error
}

// Observer receives orchestrator events. OnEvent is called without internal
// locks held and must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to [Observer].
type ObserverFunc func(Event)

// OnEvent implements [Observer].
func (f ObserverFunc) OnEvent(e Event) { f(e) }

// ---- transitions ----

var validTransitions = map[State][]State{
	StateSetup:              {StateSendingToModel, StateResults},
	StateSendingToModel:     {StatePlayingReply, StateAwaitingUserSpeech, StateResults, StateSetup},
	StatePlayingReply:       {StateAwaitingUserSpeech, StateResults, StateSetup},
	StateAwaitingUserSpeech: {StateSendingToModel, StateResults, StateSetup},
	StateResults:            {StateSetup},
}

func transitionValid(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

type recordingKind int

const (
	recordTurn recordingKind = iota + 1
	recordScenario
)

// Orchestrator drives one practice session through setup, the role-play loop
// and the results view. All methods are safe for concurrent use.
type Orchestrator struct {
	dialogue Dialogue
	voice    Voice
	capture  *SpeechCapture
	metrics  *observe.Metrics

	// inflight admits one dialogue request at a time, the assessment
	// included.
	inflight *semaphore.Weighted

	mu        sync.Mutex
	state     SessionState
	rec       *Recording
	recKind   recordingKind
	observers []Observer

	// sessionCtx outlives individual calls and scopes playback and capture.
	sessionCtx    context.Context
	sessionCancel context.CancelFunc

	// practiceCtx scopes reply requests and their playback. EndSession
	// cancels it; it is a child of sessionCtx.
	practiceCtx    context.Context
	practiceCancel context.CancelFunc
}

// OrchestratorOption configures an [Orchestrator].
type OrchestratorOption func(*Orchestrator)

// WithObserver registers obs before the orchestrator starts.
func WithObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs) }
}

// WithOrchestratorMetrics overrides the metrics sink.
func WithOrchestratorMetrics(m *observe.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator returns an orchestrator in [StateSetup]. capture may be nil,
// in which case recordings report an unsupported capability.
func NewOrchestrator(d Dialogue, v Voice, capture *SpeechCapture, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		dialogue: d,
		voice:    v,
		capture:  capture,
		inflight: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	o.resetLocked()
	return o
}

// Subscribe registers an additional observer.
func (o *Orchestrator) Subscribe(obs Observer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observers = append(o.observers, obs)
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Clone()
}

// SelectScenario picks the scenario to practise. Only allowed during setup.
func (o *Orchestrator) SelectScenario(id string) error {
	sc, ok := LookupScenario(id)
	if !ok {
		return failure.UserInput(fmt.Sprintf("Unknown scenario %q.", id))
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.State != StateSetup {
		return fmt.Errorf("%w: select scenario in %s", ErrInvalidTransition, o.state.State)
	}
	o.state.Scenario = &sc
	sessionLogger(o.state.ID).Info("scenario selected", "scenario", sc.ID)
	return nil
}

// Start begins the role-play: the prospect speaks first. It returns once the
// opening line has been requested and voiced, or the request failed.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.inflight.TryAcquire(1) {
		return ErrBusy
	}
	defer o.inflight.Release(1)

	// A scenario recording still running feeds the details it has so far.
	if _, err := o.StopScenarioRecording(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}

	o.mu.Lock()
	if o.state.State != StateSetup {
		st := o.state.State
		o.mu.Unlock()
		return fmt.Errorf("%w: start in %s", ErrInvalidTransition, st)
	}
	if o.state.Scenario == nil {
		o.mu.Unlock()
		return ErrNoScenario
	}
	ev, _ := o.transitionLocked(StateSendingToModel)
	sessionID, scenarioID := o.state.ID, o.state.Scenario.ID
	o.mu.Unlock()

	o.metrics.ActiveSessions.Add(ctx, 1)
	sessionLogger(sessionID).Info("practice started", "scenario", scenarioID)
	o.notify(ev)

	return o.exchange(ctx, true)
}

// Retry requests a reply again after a failed request, when the agent's last
// turn is still unanswered or the opening line never arrived.
func (o *Orchestrator) Retry(ctx context.Context) error {
	if !o.inflight.TryAcquire(1) {
		return ErrBusy
	}
	defer o.inflight.Release(1)

	o.mu.Lock()
	n := len(o.state.History)
	if o.state.State != StateAwaitingUserSpeech || o.rec != nil || (n > 0 && o.state.History[n-1].Role != RoleUser) {
		st := o.state.State
		o.mu.Unlock()
		return fmt.Errorf("%w: nothing to retry in %s", ErrInvalidTransition, st)
	}
	ev, _ := o.transitionLocked(StateSendingToModel)
	o.mu.Unlock()
	o.notify(ev)

	return o.exchange(ctx, n == 0)
}

// StartRecording begins capturing the agent's next turn.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	return o.startRecording(ctx, recordTurn, StateAwaitingUserSpeech)
}

// StopRecording ends the current turn recording. A non-empty transcript is
// committed as the agent's turn and a reply is requested; an empty one is
// reported as a *failure.UserInputError and changes nothing.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	text, err := o.stopRecording(recordTurn)
	if err != nil {
		return err
	}
	return o.submit(ctx, text)
}

// StartScenarioRecording begins capturing free-form scenario details during
// setup.
func (o *Orchestrator) StartScenarioRecording(ctx context.Context) error {
	return o.startRecording(ctx, recordScenario, StateSetup)
}

// StopScenarioRecording ends the scenario recording and stores its trimmed
// text as the custom details.
func (o *Orchestrator) StopScenarioRecording() (string, error) {
	o.mu.Lock()
	sessionID := o.state.ID
	o.mu.Unlock()

	details, err := o.stopRecording(recordScenario)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.state.ID != sessionID || o.state.State != StateSetup {
		o.mu.Unlock()
		return details, fmt.Errorf("%w: session changed while recording details", ErrInvalidTransition)
	}
	o.state.CustomDetails = details
	o.mu.Unlock()

	o.notify(Event{Kind: EventCustomDetails, SessionID: sessionID, Text: details})
	return details, nil
}

// SetCustomDetails replaces the scenario details with typed text.
func (o *Orchestrator) SetCustomDetails(details string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.State != StateSetup {
		return fmt.Errorf("%w: set details in %s", ErrInvalidTransition, o.state.State)
	}
	o.state.CustomDetails = strings.TrimSpace(details)
	return nil
}

// EndSession moves to the results view from any practice state, stops audio
// and recording, and requests the assessment. An outstanding reply request is
// cancelled and the assessment waits for it to return. Assessment failure
// yields [AssessmentFallback] and is not returned as an error.
func (o *Orchestrator) EndSession(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.state.Scenario == nil {
		o.mu.Unlock()
		return "", ErrNoScenario
	}
	if o.state.State == StateResults {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: session already ended", ErrInvalidTransition)
	}
	wasPractice := o.state.Phase() == PhasePractice
	o.discardRecordingLocked()
	o.practiceCancel()
	ev, _ := o.transitionLocked(StateResults)
	sessionID := o.state.ID
	scenario := *o.state.Scenario
	history := slices.Clone(o.state.History)
	o.mu.Unlock()

	o.voice.Stop()
	if wasPractice {
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
	o.notify(ev)

	assessment, err := o.assess(ctx, scenario, history)
	if err != nil {
		sessionLogger(sessionID).Warn("assessment failed", "err", err)
		assessment = AssessmentFallback
	}

	o.mu.Lock()
	if o.state.ID != sessionID || o.state.State != StateResults {
		o.mu.Unlock()
		return assessment, nil
	}
	o.state.Assessment = assessment
	o.mu.Unlock()
	o.notify(Event{Kind: EventAssessmentReady, SessionID: sessionID, Text: assessment})
	return assessment, nil
}

// SetRating records a self-rating on the results view.
func (o *Orchestrator) SetRating(c Category, stars int) (RatingSet, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.State != StateResults {
		return o.state.Ratings, fmt.Errorf("%w: rate in %s", ErrInvalidTransition, o.state.State)
	}
	r, err := o.state.Ratings.Set(c, stars)
	if err != nil {
		return o.state.Ratings, err
	}
	o.state.Ratings = r
	return r, nil
}

// SetNotes stores the agent's self-review on the results view.
func (o *Orchestrator) SetNotes(notes string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.State != StateResults {
		return fmt.Errorf("%w: notes in %s", ErrInvalidTransition, o.state.State)
	}
	o.state.Notes = notes
	return nil
}

// Reset discards the session and returns to setup with a fresh ID.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	from := o.state.State
	wasPractice := o.state.Phase() == PhasePractice
	o.discardRecordingLocked()
	o.resetLocked()
	ev := Event{Kind: EventStateChanged, SessionID: o.state.ID, From: from, To: StateSetup}
	o.mu.Unlock()

	o.voice.Stop()
	if wasPractice {
		o.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	o.notify(ev)
}

// Close stops audio and recording and releases the session context.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.discardRecordingLocked()
	o.sessionCancel()
	o.mu.Unlock()
	o.voice.Stop()
}

// ---- internals ----

// assess takes the in-flight slot so the assessment never overlaps a reply.
func (o *Orchestrator) assess(ctx context.Context, scenario Scenario, history []Turn) (string, error) {
	if err := o.inflight.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer o.inflight.Release(1)
	return o.dialogue.Assess(ctx, scenario, history)
}

// exchange asks for a reply and voices it. The caller holds the in-flight
// slot and has moved the session to StateSendingToModel.
func (o *Orchestrator) exchange(ctx context.Context, opening bool) error {
	o.mu.Lock()
	sessionID, practiceCtx := o.state.ID, o.practiceCtx
	req := ReplyRequest{
		History:       slices.Clone(o.state.History),
		Scenario:      *o.state.Scenario,
		CustomDetails: o.state.CustomDetails,
		Opening:       opening,
	}
	o.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(practiceCtx, cancel)()

	reply, err := o.dialogue.Reply(ctx, req)

	o.mu.Lock()
	if o.state.ID != sessionID || o.state.State != StateSendingToModel {
		// Session ended or was reset while waiting; drop the reply.
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		ev, _ := o.transitionLocked(StateAwaitingUserSpeech)
		o.mu.Unlock()
		sessionLogger(sessionID).Warn("reply failed", "err", err)
		o.notify(
			Event{Kind: EventNotice, SessionID: sessionID, Text: failure.UserMessage(err), Err: err},
			ev,
		)
		return err
	}

	turn := Turn{Role: RoleAssistant, Content: reply}
	o.state.History = append(o.state.History, turn)
	ev, _ := o.transitionLocked(StatePlayingReply)
	o.mu.Unlock()

	o.metrics.RecordTurn(ctx, string(RoleAssistant))
	o.notify(Event{Kind: EventTurnAppended, SessionID: sessionID, Turn: turn}, ev)

	// Playback outlives this call and ends with the practice phase.
	o.voice.Speak(practiceCtx, reply)

	o.mu.Lock()
	if o.state.ID != sessionID || o.state.State != StatePlayingReply {
		o.mu.Unlock()
		return nil
	}
	ev, _ = o.transitionLocked(StateAwaitingUserSpeech)
	o.mu.Unlock()
	o.notify(ev)
	return nil
}

// submit commits a user turn and runs a reply exchange.
func (o *Orchestrator) submit(ctx context.Context, text string) error {
	if text == "" {
		o.notify(Event{Kind: EventNotice, SessionID: o.State().ID, Text: NoSpeechMessage})
		return failure.UserInput(NoSpeechMessage)
	}
	if !o.inflight.TryAcquire(1) {
		return ErrBusy
	}
	defer o.inflight.Release(1)

	o.mu.Lock()
	if o.state.State != StateAwaitingUserSpeech {
		st := o.state.State
		o.mu.Unlock()
		return fmt.Errorf("%w: submit turn in %s", ErrInvalidTransition, st)
	}
	turn := Turn{Role: RoleUser, Content: text}
	o.state.History = append(o.state.History, turn)
	sessionID := o.state.ID
	ev, _ := o.transitionLocked(StateSendingToModel)
	o.mu.Unlock()

	o.metrics.RecordTurn(ctx, string(RoleUser))
	o.notify(Event{Kind: EventTurnAppended, SessionID: sessionID, Turn: turn}, ev)

	return o.exchange(ctx, false)
}

func (o *Orchestrator) startRecording(ctx context.Context, kind recordingKind, want State) error {
	o.mu.Lock()
	if o.state.State != want {
		st := o.state.State
		o.mu.Unlock()
		return fmt.Errorf("%w: record in %s", ErrInvalidTransition, st)
	}
	if o.rec != nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: already recording", ErrInvalidTransition)
	}
	sessionCtx, sessionID := o.sessionCtx, o.state.ID
	o.mu.Unlock()

	rec, err := o.capture.Start(sessionCtx)
	if err != nil {
		o.notify(Event{Kind: EventNotice, SessionID: sessionID, Text: failure.UserMessage(err), Err: err})
		return err
	}

	o.mu.Lock()
	if o.state.ID != sessionID || o.state.State != want || o.rec != nil {
		o.mu.Unlock()
		rec.Stop()
		return fmt.Errorf("%w: session changed while starting to record", ErrInvalidTransition)
	}
	o.rec, o.recKind = rec, kind
	o.state.Recording = true
	o.mu.Unlock()

	o.notify(Event{Kind: EventPartialTranscript, SessionID: sessionID, Text: ListeningPlaceholder})
	go o.forward(ctx, rec, kind, sessionID)
	return nil
}

// forward relays live transcript updates. When the recognizer ends on its
// own the recording is stopped as if the agent had pressed stop.
func (o *Orchestrator) forward(ctx context.Context, rec *Recording, kind recordingKind, sessionID string) {
	for ev := range rec.Events() {
		o.notify(Event{Kind: EventPartialTranscript, SessionID: sessionID, Text: ev.Display})
	}

	o.mu.Lock()
	active := o.rec == rec
	o.mu.Unlock()
	if !active {
		return
	}

	sessionLogger(sessionID).Warn("recognizer ended, stopping recording")
	switch kind {
	case recordScenario:
		_, _ = o.StopScenarioRecording()
	case recordTurn:
		ctx := context.WithoutCancel(ctx)
		if err := o.StopRecording(ctx); err != nil && !failure.IsUserInput(err) {
			sessionLogger(sessionID).Warn("submit after recognizer end failed", "err", err)
		}
	}
}

func (o *Orchestrator) stopRecording(kind recordingKind) (string, error) {
	o.mu.Lock()
	if o.rec == nil || o.recKind != kind {
		o.mu.Unlock()
		return "", ErrNotRecording
	}
	rec := o.rec
	o.rec, o.recKind = nil, 0
	o.state.Recording = false
	o.mu.Unlock()

	return rec.Stop(), nil
}

func (o *Orchestrator) discardRecordingLocked() {
	if o.rec == nil {
		return
	}
	rec := o.rec
	o.rec, o.recKind = nil, 0
	o.state.Recording = false
	go rec.Stop()
}

func (o *Orchestrator) transitionLocked(to State) (Event, error) {
	from := o.state.State
	if !transitionValid(from, to) {
		return Event{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	o.state.State = to
	sessionLogger(o.state.ID).Debug("state transition", "from", from, "to", to)
	return Event{Kind: EventStateChanged, SessionID: o.state.ID, From: from, To: to}, nil
}

func (o *Orchestrator) resetLocked() {
	if o.sessionCancel != nil {
		o.sessionCancel()
	}
	o.sessionCtx, o.sessionCancel = context.WithCancel(context.Background())
	o.practiceCtx, o.practiceCancel = context.WithCancel(o.sessionCtx)
	o.state = SessionState{ID: uuid.NewString(), State: StateSetup}
}

func (o *Orchestrator) notify(events ...Event) {
	o.mu.Lock()
	observers := slices.Clone(o.observers)
	o.mu.Unlock()
	for _, e := range events {
		// Zero events come from rejected transitions.
		if e.SessionID == "" {
			continue
		}
		for _, obs := range observers {
			obs.OnEvent(e)
		}
	}
}

func sessionLogger(id string) *slog.Logger {
	return slog.With("session_id", id)
}
