// Package errtax classifies the errors the transcoder can encounter while
// draining an upstream NDJSON stream into the taxonomy spec'd for stream
// termination: idle timeouts, transport hiccups, upstream-reported
// failures, and unexpected processing errors.
package errtax

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which terminal path produced a StreamError.
type Kind string

const (
	// KindIdleTimeout means the upstream stalled past the idle budget.
	// Recoverable at the boundary: emit a normal stop, preserve status.
	KindIdleTimeout Kind = "idle_timeout"
	// KindHTTP2Stream means a transport hiccup was heuristically identified
	// from the error text. Recoverable: emit stop, status 502.
	KindHTTP2Stream Kind = "http2_stream"
	// KindUpstream means the upstream itself reported a semantic failure
	// (an error.message frame, or an HTTP-layer error from the client).
	KindUpstream Kind = "upstream"
	// KindProcessing means an unexpected exception occurred while handling
	// a frame or driving the read loop.
	KindProcessing Kind = "processing"
)

// StreamError wraps an underlying cause with the classification the
// transcoder's terminal-path switch needs.
type StreamError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// NewIdleTimeout builds an idle-timeout StreamError.
func NewIdleTimeout(msg string) *StreamError {
	return &StreamError{Kind: KindIdleTimeout, Message: msg}
}

// NewUpstream builds an upstream-reported StreamError from a frame's
// error.message field.
func NewUpstream(msg string) *StreamError {
	return &StreamError{Kind: KindUpstream, Message: msg}
}

// NewProcessing wraps an unexpected error as a processing StreamError.
func NewProcessing(cause error) *StreamError {
	return &StreamError{Kind: KindProcessing, Message: cause.Error(), Cause: cause}
}

// ClassifyTransportError inspects a transport-layer error's text for the
// substrings the upstream is known to surface on an http/2 stream reset,
// and reclassifies it as KindHTTP2Stream when it matches. Other errors pass
// through as KindProcessing. The substring match is deliberately loose:
// "stream" alone will match many unrelated messages, but narrowing it
// further isn't required for the boundary to stay correct.
func ClassifyTransportError(cause error) *StreamError {
	if cause == nil {
		return nil
	}
	lower := strings.ToLower(cause.Error())
	if strings.Contains(lower, "http/2") || strings.Contains(lower, "curl: (92)") || strings.Contains(lower, "stream") {
		return &StreamError{Kind: KindHTTP2Stream, Message: cause.Error(), Cause: cause}
	}
	return NewProcessing(cause)
}

// Is reports whether err is a StreamError of the given kind.
func Is(err error, kind Kind) bool {
	var se *StreamError
	if !errors.As(err, &se) {
		return false
	}
	return se.Kind == kind
}
