package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/scriptcoach/pkg/audio"
)

// startupProbe is how long Start waits to catch an ffmpeg that exits
// immediately (missing device, bad input format).
const startupProbe = 250 * time.Millisecond

// FFmpegCapture streams microphone PCM audio using ffmpeg.
type FFmpegCapture struct {
	command     string
	inputFormat string
	inputDevice string
}

// NewFFmpegCapture returns a capture that runs command (default "ffmpeg")
// reading from inputDevice (default "default") via inputFormat (default
// "pulse"; use "avfoundation" on macOS or "dshow" on Windows).
func NewFFmpegCapture(command, inputFormat, inputDevice string) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default"
	}
	return &FFmpegCapture{command: command, inputFormat: inputFormat, inputDevice: inputDevice}
}

// Start launches ffmpeg producing s16le PCM in format on stdout.
func (c *FFmpegCapture) Start(ctx context.Context, format audio.Format) (audio.CaptureSession, error) {
	if format.SampleRate <= 0 {
		format.SampleRate = audio.DefaultCaptureFormat.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = audio.DefaultCaptureFormat.Channels
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", c.inputFormat,
		"-i", c.inputDevice,
		"-ac", strconv.Itoa(format.Channels),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = stopGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg capture: start: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg capture: exited before capture started: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, errors.New("ffmpeg capture: exited before capture started")
	case <-time.After(startupProbe):
	}

	return &captureSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// captureSession is a running ffmpeg process. It implements audio.CaptureSession.
type captureSession struct {
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *captureSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop interrupts ffmpeg, escalating to kill after stopGrace.
func (s *captureSession) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, bytes.TrimSpace(s.stderr.Bytes()))
		}
	})
	return s.stopErr
}

// normalizeStopErr treats a non-zero exit after SIGINT as a clean stop.
func normalizeStopErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Ensure FFmpegCapture implements audio.Capture at compile time.
var _ audio.Capture = (*FFmpegCapture)(nil)
