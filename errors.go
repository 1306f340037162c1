package cwlogs

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
)

// ErrorKind classifies a failure. Kinds are themselves errors, so callers can
// test for them with errors.Is:
//
//	if errors.Is(err, cwlogs.ErrStreamNotFound) { ... }
type ErrorKind int

const (
	// ErrTransport covers failures below the service: network, credentials,
	// request signing, canceled or expired contexts.
	ErrTransport ErrorKind = iota

	// ErrService is a service error with no more specific kind.
	ErrService

	// ErrStreamNotFound means the log group or stream does not exist.
	ErrStreamNotFound

	// ErrInvalidSequenceToken means the sequence token sent was stale. The
	// Error carries the expected token when the service reports one.
	ErrInvalidSequenceToken

	// ErrDataAlreadyAccepted means the batch was already stored. The Error
	// carries the next token.
	ErrDataAlreadyAccepted

	// ErrAlreadyExists is returned by CreateStream for an existing stream.
	ErrAlreadyExists

	// ErrInvalidParameter means the service rejected the request as malformed.
	ErrInvalidParameter

	// ErrInvalidData is a framing failure: the written bytes are not UTF-8.
	ErrInvalidData
)

var kindNames = [...]string{
	ErrTransport:            "transport failure",
	ErrService:              "service error",
	ErrStreamNotFound:       "log stream not found",
	ErrInvalidSequenceToken: "invalid sequence token",
	ErrDataAlreadyAccepted:  "data already accepted",
	ErrAlreadyExists:        "log stream already exists",
	ErrInvalidParameter:     "invalid parameter",
	ErrInvalidData:          "invalid data",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindNames[k]
}

func (k ErrorKind) Error() string { return k.String() }

// Error is the single error type returned by transports, the worker and the
// sink. Op names the failed operation (PutLogEvents, CreateLogStream, Write).
type Error struct {
	Op      string
	Kind    ErrorKind
	Code    string // service error code, if any
	Message string

	// ExpectedSequenceToken is set for ErrInvalidSequenceToken and
	// ErrDataAlreadyAccepted when the service returns the token to use next.
	ExpectedSequenceToken *string

	Err error
}

func (e *Error) Error() string {
	msg := e.Message
	if len(msg) == 0 && e.Err != nil {
		msg = e.Err.Error()
	}
	if len(e.Code) > 0 {
		return fmt.Sprintf("%s: %s: %s: %s", e.Op, e.Kind, e.Code, msg)
	}
	if len(msg) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Error's kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	return ok && k == e.Kind
}

// KindOf returns the kind of err, or ErrTransport if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrTransport
}

// expectedToken returns the sequence token carried by err, if any.
func expectedToken(err error) *string {
	var e *Error
	if errors.As(err, &e) {
		return e.ExpectedSequenceToken
	}
	return nil
}

// classify normalizes an error from a transport call into an *Error. Errors
// that already are *Error pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	e = &Error{Op: op, Kind: ErrTransport, Err: err}

	var (
		notFound *types.ResourceNotFoundException
		badToken *types.InvalidSequenceTokenException
		accepted *types.DataAlreadyAcceptedException
		exists   *types.ResourceAlreadyExistsException
		badParam *types.InvalidParameterException
		apiErr   smithy.APIError
	)

	switch {
	case errors.As(err, &notFound):
		e.Kind = ErrStreamNotFound
	case errors.As(err, &badToken):
		e.Kind = ErrInvalidSequenceToken
		e.ExpectedSequenceToken = badToken.ExpectedSequenceToken
	case errors.As(err, &accepted):
		e.Kind = ErrDataAlreadyAccepted
		e.ExpectedSequenceToken = accepted.ExpectedSequenceToken
	case errors.As(err, &exists):
		e.Kind = ErrAlreadyExists
	case errors.As(err, &badParam):
		e.Kind = ErrInvalidParameter
	case errors.As(err, &apiErr):
		e.Kind = ErrService
	}

	if errors.As(err, &apiErr) {
		e.Code = apiErr.ErrorCode()
		e.Message = apiErr.ErrorMessage()
	}

	return e
}
