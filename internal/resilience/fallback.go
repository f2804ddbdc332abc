package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/scriptcoach/pkg/failure"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] failed or
// was skipped by its breaker. The last entry's error is wrapped alongside it
// so callers can still inspect its type.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for each entry of a
// [FallbackGroup]. Name is overwritten with the entry name, and a nil
// IsFailure defaults to [IsOutage].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// IsOutage reports whether err means the backend itself is unhealthy. A 4xx
// answer other than 408 and 429 is the backend rejecting this particular
// request, as are input errors and caller cancellation; none of those trip a
// breaker.
func IsOutage(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || failure.IsUserInput(err) {
		return false
	}
	var re *failure.RemoteServiceError
	if errors.As(err, &re) && re.StatusCode >= 400 && re.StatusCode < 500 {
		return re.StatusCode == 408 || re.StatusCode == 429
	}
	return true
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary backend and ordered fallbacks of the same
// type, each behind its own breaker. The practice client uses it to fall
// back from the proxy to a directly configured backend.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry tried after all earlier ones. Not safe to
// call concurrently with Execute.
func (fg *FallbackGroup[T]) AddFallback(name string, v T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	if cbCfg.IsFailure == nil {
		cbCfg.IsFailure = IsOutage
	}
	fg.entries = append(fg.entries, fallbackEntry[T]{name: name, value: v, breaker: NewCircuitBreaker(cbCfg)})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		out[i] = e.name
	}
	return out
}

// Execute calls fn with each entry until one succeeds.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn with each entry until one succeeds and returns
// its result. A group with a single entry returns that entry's error as is.
// An entry skipped by its open breaker contributes the failure that opened
// it, so the returned error keeps its [failure] classification.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", entry.name)
			lastErr = entry.openError()
			continue
		}
		lastErr = err
		if i < len(fg.entries)-1 {
			slog.Warn("provider failed, trying next", "provider", entry.name, "err", err)
		}
	}
	if len(fg.entries) == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// openError describes a call rejected by the entry's open breaker in terms of
// the failure that opened it.
func (e *fallbackEntry[T]) openError() error {
	if last := e.breaker.LastFailure(); last != nil {
		return fmt.Errorf("%s: %w: %w", e.name, ErrCircuitOpen, last)
	}
	return failure.Transport(e.name, ErrCircuitOpen)
}
