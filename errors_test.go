package cwlogs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		expect ErrorKind
		token  string
	}{
		{"resource not found", &types.ResourceNotFoundException{}, ErrStreamNotFound, ""},
		{"invalid sequence token", &types.InvalidSequenceTokenException{ExpectedSequenceToken: aws.String("t1")}, ErrInvalidSequenceToken, "t1"},
		{"data already accepted", &types.DataAlreadyAcceptedException{ExpectedSequenceToken: aws.String("t2")}, ErrDataAlreadyAccepted, "t2"},
		{"already exists", &types.ResourceAlreadyExistsException{}, ErrAlreadyExists, ""},
		{"invalid parameter", &types.InvalidParameterException{}, ErrInvalidParameter, ""},
		{"other service error", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}, ErrService, ""},
		{"wrapped service error", fmt.Errorf("operation error: %w", &types.ResourceNotFoundException{}), ErrStreamNotFound, ""},
		{"network error", errors.New("dial tcp: i/o timeout"), ErrTransport, ""},
		{"canceled", context.Canceled, ErrTransport, ""},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			err := classify(opPutLogEvents, tt.input)
			if !errors.Is(err, tt.expect) {
				t.Fatalf("expected kind %s, got: %s (%v)", tt.expect, KindOf(err), err)
			}
			if !errors.Is(err, tt.input) {
				t.Fatal("expected the cause to stay in the chain")
			}
			tok := expectedToken(err)
			if len(tt.token) == 0 && tok != nil {
				t.Fatalf("expected no token, got: %q", *tok)
			}
			if len(tt.token) > 0 && (tok == nil || *tok != tt.token) {
				t.Fatalf("expected token %q, got: %v", tt.token, tok)
			}
		})
	}
}

func TestClassify_PassesThrough(t *testing.T) {
	if classify(opPutLogEvents, nil) != nil {
		t.Fatal("expected nil for nil")
	}

	orig := &Error{Op: "custom", Kind: ErrStreamNotFound}
	if got := classify(opPutLogEvents, orig); got != error(orig) {
		t.Fatalf("expected *Error to pass through unchanged, got: %v", got)
	}
}

func TestError_Message(t *testing.T) {
	err := classify(opCreateLogStream, &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not authorized"})
	msg := err.Error()
	for _, want := range []string{opCreateLogStream, "AccessDeniedException", "not authorized"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}

	err = classify(opPutLogEvents, errors.New("broken pipe"))
	if msg := err.Error(); !strings.Contains(msg, "broken pipe") || !strings.Contains(msg, ErrTransport.String()) {
		t.Fatalf("expected the cause and kind in %q", msg)
	}
}

func TestKindOf(t *testing.T) {
	if k := KindOf(errors.New("plain")); k != ErrTransport {
		t.Fatalf("expected %s, got: %s", ErrTransport, k)
	}
	if k := KindOf(fmt.Errorf("wrapped: %w", &Error{Kind: ErrInvalidData})); k != ErrInvalidData {
		t.Fatalf("expected %s, got: %s", ErrInvalidData, k)
	}
	if s := ErrorKind(99).String(); s != "ErrorKind(99)" {
		t.Fatalf("unexpected name for an unknown kind: %s", s)
	}
}
