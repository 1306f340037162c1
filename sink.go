package cwlogs

import (
	"bytes"
	"io"
	"time"
	"unicode/utf8"
)

const opWrite = "Write"

// compile-time check for io.Writer conformance
var _ io.StringWriter = (*Sink)(nil)
var _ io.Writer = (*Sink)(nil)

// Sink is the writer for one stream. Each Write is one log event. Sinks are
// cheap; make one per log call if the stream depends on the call.
type Sink struct {
	w   *Writer
	key Destination
}

// Destination returns the group and stream the Sink writes to.
func (s *Sink) Destination() Destination { return s.key }

// Write turns p into one log event stamped with the current time and queues
// it for the stream's worker.
//
// One trailing newline is stripped. A message longer than MaxMessageSize is
// cut to exactly MaxMessageSize bytes, and the truncation is reported on the
// internal logger. If what remains is not valid UTF-8, including when the cut
// splits a multi-byte character, Write fails with an *Error of kind
// ErrInvalidData and nothing is queued.
//
// On success Write returns len(p), whether or not the event is later
// delivered: delivery happens on the worker, and failures there are reported
// on the internal logger.
func (s *Sink) Write(p []byte) (int, error) {
	n := len(p)
	ts := time.Now().UnixMilli()

	p = bytes.TrimSuffix(p, []byte{'\n'})

	if len(p) > MaxMessageSize {
		p = p[:MaxMessageSize]
		InternalLogger().Printf("%s: message of %d bytes exceeds the maximum event size; truncated to %d bytes\n", s.key, n, len(p))
	}

	if !utf8.Valid(p) {
		return 0, &Error{Op: opWrite, Kind: ErrInvalidData, Message: "message is not valid UTF-8"}
	}

	if err := s.w.handoff(s.key, Event{Message: string(p), Timestamp: ts}); err != nil {
		return 0, err
	}

	return n, nil
}

// WriteString is like Write.
func (s *Sink) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Flush does nothing: every Write is already handed off.
func (s *Sink) Flush() error { return nil }
