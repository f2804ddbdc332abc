// Package command implements the audio interfaces by running external
// programs: a player such as ffplay or mpg123 that reads an encoded clip on
// stdin, and ffmpeg for microphone capture.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/scriptcoach/pkg/audio"
)

// stopGrace is how long a process gets to exit after SIGINT before it is
// killed.
const stopGrace = 1200 * time.Millisecond

// DefaultPlayerCommand plays an MP3 clip from stdin without opening a window.
var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "-"}

// Player plays clips by piping them to an external command.
type Player struct {
	argv []string
}

// NewPlayer returns a Player running argv (program followed by arguments).
// An empty argv selects [DefaultPlayerCommand].
func NewPlayer(argv []string) *Player {
	if len(argv) == 0 {
		argv = DefaultPlayerCommand
	}
	cp := make([]string, len(argv))
	copy(cp, argv)
	return &Player{argv: cp}
}

// Play starts the player process with clip on stdin. Cancelling ctx stops
// playback.
func (p *Player) Play(ctx context.Context, clip []byte) (audio.Playback, error) {
	if len(clip) == 0 {
		return nil, errors.New("command player: empty clip")
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...)
	cmd.Stdin = bytes.NewReader(clip)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("command player: start %s: %w", p.argv[0], err)
	}

	pb := &playback{
		process: cmd.Process,
		done:    make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		if pb.stopped.Load() {
			err = nil
		} else if err != nil && stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		pb.err = err
		close(pb.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = pb.Stop()
		case <-pb.done:
		}
	}()

	return pb, nil
}

// playback is a running player process. It implements audio.Playback.
type playback struct {
	process *os.Process
	done    chan struct{}
	err     error

	stopped  atomic.Bool
	stopOnce sync.Once
}

// Stop interrupts the player, escalating to kill after stopGrace, and waits
// for it to exit.
func (p *playback) Stop() error {
	p.stopOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.stopped.Store(true)
		_ = p.process.Signal(os.Interrupt)
		select {
		case <-p.done:
		case <-time.After(stopGrace):
			_ = p.process.Kill()
			<-p.done
		}
	})
	<-p.done
	return nil
}

func (p *playback) Done() <-chan struct{} { return p.done }

func (p *playback) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Ensure Player implements audio.Player at compile time.
var _ audio.Player = (*Player)(nil)
