package cwlogs

import (
	"bytes"
	"context"
	"log"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	testGroup  = "app"
	testStream = "default"
)

type putCall struct {
	Group  string
	Stream string
	Events []Event
	Token  *string
}

// testTransport records every call rather than sending anything. Errors
// queued in putErrs and createErrs are returned, in order, by successive
// calls; a nil entry means success.
type testTransport struct {
	mu         sync.Mutex
	puts       []putCall
	creates    []Destination
	putErrs    []error
	createErrs []error
	seq        int
}

func newTestTransport(putErrs ...error) *testTransport {
	return &testTransport{putErrs: putErrs}
}

func (t *testTransport) PutEvents(ctx context.Context, group, stream string, events []Event, token *string) (*string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.puts = append(t.puts, putCall{
		Group:  group,
		Stream: stream,
		Events: append([]Event(nil), events...),
		Token:  token,
	})

	if len(t.putErrs) > 0 {
		err := t.putErrs[0]
		t.putErrs = t.putErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	t.seq++
	next := strconv.Itoa(t.seq)
	return &next, nil
}

func (t *testTransport) CreateStream(ctx context.Context, group, stream string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.creates = append(t.creates, Destination{Group: group, Stream: stream})

	if len(t.createErrs) > 0 {
		err := t.createErrs[0]
		t.createErrs = t.createErrs[1:]
		return err
	}
	return nil
}

func (t *testTransport) calls() []putCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]putCall(nil), t.puts...)
}

func (t *testTransport) createCalls() []Destination {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Destination(nil), t.creates...)
}

// messages returns every delivered message for stream, in call order.
func (t *testTransport) messages(stream string) []string {
	var msgs []string
	for _, c := range t.calls() {
		if c.Stream != stream {
			continue
		}
		for _, ev := range c.Events {
			msgs = append(msgs, ev.Message)
		}
	}
	return msgs
}

// newTestWriter returns a Writer over tt that does not pause after failures.
func newTestWriter(t *testing.T, tt Transport, opts *Options) *Writer {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.Transport = tt
	if opts.FailureBackoff == 0 {
		opts.FailureBackoff = -1
	}
	w, err := New(testGroup, testStream, opts)
	if err != nil {
		t.Fatalf("failed to create Writer: %v", err)
	}
	t.Cleanup(func() { w.Shutdown(context.Background()) })
	return w
}

// shutdown drains w, failing the test if that takes too long.
func shutdown(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down Writer: %v", err)
	}
}

// eventually polls cond until it is true or a deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 5)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond * 5)
	}
}

// syncBuffer is a goroutine safe bytes.Buffer for capturing internal logs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureInternalLog redirects the internal logger for the rest of the test.
func captureInternalLog(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	prev := InternalLogger()
	SetInternalLogger(log.New(buf, "", 0))
	t.Cleanup(func() { SetInternalLogger(prev) })
	return buf
}
