package cwlogs

import "context"

// Transport is the remote append API the workers drive. Implementations must
// be safe for concurrent use: every stream's worker shares one Transport.
//
// Errors should be *Error values, or errors that classify understands (the
// aws-sdk-go-v2 CloudWatch Logs exceptions); anything else is treated as
// ErrTransport and the batch is dropped.
type Transport interface {
	// PutEvents appends events, in order, to group/stream. token is the
	// sequence token returned by the previous call for the stream, or nil for
	// the first call. It returns the token for the next call.
	PutEvents(ctx context.Context, group, stream string, events []Event, token *string) (*string, error)

	// CreateStream creates group/stream. It returns an error of kind
	// ErrAlreadyExists if the stream exists.
	CreateStream(ctx context.Context, group, stream string) error
}
