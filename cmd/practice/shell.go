package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/scriptcoach/internal/practice"
	"github.com/MrWong99/scriptcoach/pkg/failure"
	"github.com/MrWong99/scriptcoach/pkg/provider/stt/typed"
)

const helpText = `Commands:
  scenarios              list practice scenarios
  select <id>            choose a scenario
  details <text>         set custom scenario details
  record / stop          record scenario details (setup) or your next turn (practice)
  start                  begin the role-play; the prospect speaks first
  retry                  ask for the reply again after a failed request
  end                    end the session and get feedback
  rate <category> <0-5>  rate yourself (confidence, objections, rapport, overall)
  notes <text>           save your self-review notes
  transcript             print the conversation so far
  status                 show the session state
  reset                  start over with a new session
  quit                   exit
While recording with the typed recognizer, any other line is what you said.`

// shell is the interactive command loop over an orchestrator. It is also the
// orchestrator's observer and prints events as they arrive.
type shell struct {
	orch     *practice.Orchestrator
	keyboard *typed.Provider

	outMu sync.Mutex
	out   io.Writer

	// noticed is set when the orchestrator reported a notice during the
	// current command, so the command's error is not printed twice.
	noticed bool
}

func newShell(orch *practice.Orchestrator, keyboard *typed.Provider, out io.Writer) *shell {
	s := &shell{orch: orch, keyboard: keyboard, out: out}
	orch.Subscribe(s)
	return s
}

// OnEvent implements practice.Observer.
func (s *shell) OnEvent(e practice.Event) {
	switch e.Kind {
	case practice.EventStateChanged:
		s.printf("-- %s\n", e.To)
	case practice.EventPartialTranscript:
		s.printf("   … %s\n", e.Text)
	case practice.EventTurnAppended:
		s.printf("%s: %s\n", speaker(e.Turn.Role), e.Turn.Content)
	case practice.EventNotice:
		s.outMu.Lock()
		s.noticed = true
		s.outMu.Unlock()
		s.printf("! %s\n", e.Text)
	case practice.EventCustomDetails:
		s.printf("Details: %s\n", e.Text)
	case practice.EventAssessmentReady:
		s.printf("\n=== Feedback ===\n%s\n\n", e.Text)
	}
}

// Run reads commands from in until quit, end of input or ctx is done.
func (s *shell) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	s.printf("%s\n\n", helpText)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if s.exec(ctx, line) {
				return nil
			}
		}
	}
}

// exec runs one input line and reports whether the shell should exit.
func (s *shell) exec(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	// While a typed recording runs, only a bare command word is a command.
	if s.orch.State().Recording && s.keyboard != nil && s.keyboard.Active() && (arg != "" || !isCommand(cmd)) {
		if err := s.keyboard.Type(line); err != nil {
			s.report(err)
		}
		return false
	}

	s.outMu.Lock()
	s.noticed = false
	s.outMu.Unlock()

	var err error
	switch strings.ToLower(cmd) {
	case "help", "?":
		s.printf("%s\n", helpText)
	case "scenarios":
		s.listScenarios()
	case "select":
		if err = s.orch.SelectScenario(arg); err == nil {
			st := s.orch.State()
			s.printf("Selected: %s\n%s\n", st.Scenario.Name, st.Scenario.Description)
		}
	case "details":
		if err = s.orch.SetCustomDetails(arg); err == nil {
			s.printf("Details saved.\n")
		}
	case "record":
		if s.orch.State().State == practice.StateSetup {
			err = s.orch.StartScenarioRecording(ctx)
		} else {
			err = s.orch.StartRecording(ctx)
		}
	case "stop":
		if s.orch.State().State == practice.StateSetup {
			_, err = s.orch.StopScenarioRecording()
		} else {
			err = s.orch.StopRecording(ctx)
		}
	case "start":
		err = s.orch.Start(ctx)
	case "retry":
		err = s.orch.Retry(ctx)
	case "end":
		_, err = s.orch.EndSession(ctx)
		if err == nil {
			s.printf("Rate yourself with: rate <category> <0-5>\n")
		}
	case "rate":
		err = s.rate(arg)
	case "notes":
		if err = s.orch.SetNotes(arg); err == nil {
			s.printf("Notes saved.\n")
		}
	case "transcript":
		s.printf("%s\n", practice.Transcript(s.orch.State().History))
	case "status":
		s.status()
	case "reset":
		s.orch.Reset()
	case "quit", "exit":
		return true
	default:
		err = failure.UserInput(fmt.Sprintf("Unknown command %q. Type help for a list.", cmd))
	}

	s.outMu.Lock()
	noticed := s.noticed
	s.outMu.Unlock()
	if err != nil && !noticed {
		s.report(err)
	}
	return false
}

func (s *shell) rate(arg string) error {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return failure.UserInput("Usage: rate <category> <0-5>")
	}
	stars, err := strconv.Atoi(fields[1])
	if err != nil {
		return failure.UserInput(fmt.Sprintf("%q is not a number.", fields[1]))
	}
	r, err := s.orch.SetRating(practice.Category(strings.ToLower(fields[0])), stars)
	if err != nil {
		return err
	}
	s.printf("%s\n", r.Summary())
	return nil
}

func (s *shell) listScenarios() {
	current := ""
	if sc := s.orch.State().Scenario; sc != nil {
		current = sc.ID
	}
	for _, sc := range practice.Scenarios() {
		mark := " "
		if sc.ID == current {
			mark = "*"
		}
		s.printf("%s %-10s %s\n", mark, sc.ID, sc.Name)
	}
}

func (s *shell) status() {
	st := s.orch.State()
	scenario := "(none)"
	if st.Scenario != nil {
		scenario = st.Scenario.Name
	}
	s.printf("Session %s: %s, scenario %s, %d turns", st.ID, st.State, scenario, len(st.History))
	if st.Recording {
		s.printf(", recording")
	}
	s.printf("\n")
	if st.State == practice.StateResults && st.Ratings.Rated() {
		s.printf("%s\n", st.Ratings.Summary())
	}
}

func (s *shell) report(err error) {
	if errors.Is(err, practice.ErrInvalidTransition) || errors.Is(err, practice.ErrNotRecording) || errors.Is(err, practice.ErrBusy) {
		s.printf("! %v\n", err)
		return
	}
	s.printf("! %s\n", failure.UserMessage(err))
}

func (s *shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

var commands = []string{
	"help", "?", "scenarios", "select", "details", "record", "stop", "start", "retry",
	"end", "rate", "notes", "transcript", "status", "reset", "quit", "exit",
}

func isCommand(word string) bool {
	return slices.Contains(commands, strings.ToLower(word))
}

func speaker(r practice.Role) string {
	if r == practice.RoleUser {
		return "Agent"
	}
	return "Prospect"
}
