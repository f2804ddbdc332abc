// Package failure defines the error taxonomy shared by the practice client,
// its remote providers, and the proxy server.
//
// Four kinds of failure are distinguished so that callers can choose the
// right user-facing message:
//
//   - [TransportError]: the request never reached the server or the response
//     never came back (connection refused, DNS, timeout).
//   - [RemoteServiceError]: the server or upstream API answered with a
//     non-success status. Detail carries the upstream message when known.
//   - [UserInputError]: the user supplied something unusable, e.g. an empty
//     transcript.
//   - [UnsupportedCapabilityError]: a required capability (speech
//     recognition, audio playback) is not available in this environment.
//
// All four implement Unwrap so they compose with errors.Is / errors.As.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError reports a request that could not be completed at the
// network level.
type TransportError struct {
	// Op names the operation that failed (e.g. "dialogue reply").
	Op string

	// Err is the underlying network or context error.
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Op + ": transport failure"
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteServiceError reports a non-success HTTP status from the server or
// the upstream API behind it.
type RemoteServiceError struct {
	// Op names the operation that failed.
	Op string

	// StatusCode is the HTTP status returned. Zero when the remote failed
	// without an HTTP status (e.g. an SDK-level error).
	StatusCode int

	// Detail is the upstream error message, or "HTTP <status>" when the
	// body carried none.
	Detail string

	// Err is an optional underlying error.
	Err error
}

func (e *RemoteServiceError) Error() string {
	return fmt.Sprintf("%s: remote service error: %s", e.Op, e.Detail)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// UserInputError reports unusable user input.
type UserInputError struct {
	// Message is shown to the user as-is.
	Message string
}

func (e *UserInputError) Error() string { return e.Message }

// UnsupportedCapabilityError reports a capability that this runtime cannot
// provide.
type UnsupportedCapabilityError struct {
	// Capability names what is missing (e.g. "speech recognition").
	Capability string
}

func (e *UnsupportedCapabilityError) Error() string {
	return e.Capability + " is not supported in this environment"
}

// Transport wraps err as a [TransportError] for op. Returns nil for a nil err.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// Remote builds a [RemoteServiceError]. An empty detail is replaced with
// "HTTP <status>".
func Remote(op string, status int, detail string) error {
	if detail == "" {
		detail = fmt.Sprintf("HTTP %d", status)
	}
	return &RemoteServiceError{Op: op, StatusCode: status, Detail: detail}
}

// UserInput builds a [UserInputError] with the given message.
func UserInput(msg string) error {
	return &UserInputError{Message: msg}
}

// Unsupported builds an [UnsupportedCapabilityError] for capability.
func Unsupported(capability string) error {
	return &UnsupportedCapabilityError{Capability: capability}
}

// Classify converts a raw client-side error into the taxonomy. Errors that
// already belong to it are returned unchanged. Context deadlines and net
// errors become [TransportError]; anything else becomes a
// [RemoteServiceError] without a status code.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransport(err) || IsRemote(err) || IsUserInput(err) || IsUnsupported(err) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransportError{Op: op, Err: err}
	}
	return &RemoteServiceError{Op: op, Detail: err.Error(), Err: err}
}

// IsTransport reports whether err contains a [TransportError].
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRemote reports whether err contains a [RemoteServiceError].
func IsRemote(err error) bool {
	var re *RemoteServiceError
	return errors.As(err, &re)
}

// IsUserInput reports whether err contains a [UserInputError].
func IsUserInput(err error) bool {
	var ue *UserInputError
	return errors.As(err, &ue)
}

// IsUnsupported reports whether err contains an [UnsupportedCapabilityError].
func IsUnsupported(err error) bool {
	var ue *UnsupportedCapabilityError
	return errors.As(err, &ue)
}

// UserMessage renders err as a short, human-readable string suitable for
// showing in place of a reply.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		te *TransportError
		re *RemoteServiceError
		ue *UserInputError
		uc *UnsupportedCapabilityError
	)
	switch {
	case errors.As(err, &ue):
		return ue.Message
	case errors.As(err, &uc):
		return "Speech recognition is not supported in this environment."
	case errors.As(err, &te):
		return "Cannot connect to server. Make sure the server is running."
	case errors.As(err, &re):
		return "API returned an error: " + re.Detail
	default:
		return err.Error()
	}
}
