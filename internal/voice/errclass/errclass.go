// Package errclass maps provider and transport errors onto the session error
// taxonomy exactly once, so the same failure always produces the same
// outcome: recoverable errors are logged and absorbed, fatal errors make the
// session inert, transport errors drop the message, negotiation errors abort
// the in-progress operation only.
package errclass

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is the classified severity of an error.
type Kind int

const (
	// Recoverable errors are logged and absorbed; the conversation continues.
	Recoverable Kind = iota

	// Fatal errors latch the session's fatal flag; further audio is ignored
	// until the session is explicitly stopped.
	Fatal

	// Transport errors mean a message could not be queued; it is dropped.
	Transport

	// Negotiation errors abort an in-progress handshake or ICE exchange
	// without tearing the session down.
	Negotiation
)

func (k Kind) String() string {
	switch k {
	case Fatal:
		return "fatal"
	case Transport:
		return "transport"
	case Negotiation:
		return "negotiation"
	default:
		return "recoverable"
	}
}

// Error carries a classified error through the session.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with a Kind. Returns nil for a nil err.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Fatal-looking substrings in provider error messages. Streaming recognizers
// retry transient faults internally, so only faults that cannot heal without
// operator action count as fatal here.
var fatalMarkers = []string{
	"unauthorized",
	"authentication",
	"invalid api key",
	"api key",
	"forbidden",
	"quota",
	"payment",
}

// Classify determines the Kind of err. Explicit tags from Wrap win; context
// cancellation is recoverable (it is how sessions shut down); otherwise the
// message is matched against known fatal markers and everything else is
// recoverable.
func Classify(err error) Kind {
	if err == nil {
		return Recoverable
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Recoverable
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return Fatal
		}
	}
	return Recoverable
}

// IsFatal reports whether err classifies as Fatal.
func IsFatal(err error) bool {
	return Classify(err) == Fatal
}
