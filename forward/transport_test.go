package forward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/bitdabbler/backoff"
	"github.com/bitdabbler/cwlogs"
)

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", testHost+":0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	l.Close()
	return port
}

func newTestTransport(t *testing.T, ts *testServer, opts *Options) *Transport {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	opts.Port = ts.port
	opts.MaxDialTries = 1
	opts.DialTimeout = time.Second

	tr, err := NewTransport(testHost, opts)
	if err != nil {
		t.Fatalf("failed to get NewTransport: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func receive(t *testing.T, ts *testServer) *TestBatch {
	t.Helper()
	select {
	case b := <-ts.batchCh:
		return b
	case <-time.After(time.Second * 5):
		t.Fatal("batch was not received in time")
	}
	return nil
}

func TestTransport_PutEvents(t *testing.T) {
	tests := []struct {
		name string
		opts *Options
	}{
		{"forward mode", &Options{}},
		{"compressed packed forward mode", &Options{Compressed: true}},
		{"tag prefix", &Options{TagPrefix: "cw."}},
	}
	for i := 0; i < len(tests); i++ {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			ts, err := newTestServer(false)
			if err != nil {
				t.Fatalf("failed to start test server: %v", err)
			}
			defer ts.Shutdown()

			tr := newTestTransport(t, ts, tt.opts)

			now := time.Now().UnixMilli()
			events := []cwlogs.Event{
				{Message: "first", Timestamp: now},
				{Message: "second", Timestamp: now + 1},
				{Message: "third", Timestamp: now + 2},
			}
			tok, err := tr.PutEvents(context.Background(), "app", "web", events, nil)
			if err != nil {
				t.Fatalf("failed to put events: %v", err)
			}
			if tok != nil {
				t.Fatalf("expected a nil token, got: %q", *tok)
			}

			b := receive(t, ts)
			if want := tt.opts.TagPrefix + "app.web"; b.Tag != want {
				t.Fatalf("expected tag %q, got: %q", want, b.Tag)
			}
			got := b.messages()
			if len(got) != 3 || got[0] != "first" || got[2] != "third" {
				t.Fatalf("unexpected messages: %q", got)
			}
			if !b.Entries[1].Time.Equal(time.UnixMilli(now + 1)) {
				t.Fatalf("expected time %v, got: %v", time.UnixMilli(now+1), b.Entries[1].Time)
			}
			if fmt.Sprint(b.Option["size"]) != "3" {
				t.Fatalf("expected size 3 in option, got: %+v", b.Option)
			}
			if _, ok := b.Option["compressed"]; ok != tt.opts.Compressed {
				t.Fatalf("unexpected compressed option: %+v", b.Option)
			}
		})
	}
}

func TestTransport_CoarseTimestamps(t *testing.T) {
	ts, err := newTestServer(false)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	tr := newTestTransport(t, ts, &Options{UseCoarseTimestamps: true})
	if _, err := tr.PutEvents(context.Background(), "app", "web", []cwlogs.Event{{Message: "m", Timestamp: 1_700_000_000_999}}, nil); err != nil {
		t.Fatalf("failed to put events: %v", err)
	}

	b := receive(t, ts)
	if want := time.Unix(1_700_000_000, 0); !b.Entries[0].Time.Equal(want) {
		t.Fatalf("expected %v, got: %v", want, b.Entries[0].Time)
	}
}

func TestTransport_ReconnectsAfterClose(t *testing.T) {
	ts, err := newTestServer(false)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	tr := newTestTransport(t, ts, nil)
	if err := tr.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	if _, err := tr.PutEvents(context.Background(), "app", "web", []cwlogs.Event{{Message: "again"}}, nil); err != nil {
		t.Fatalf("failed to put events after Close: %v", err)
	}
	if got := receive(t, ts).messages(); len(got) != 1 || got[0] != "again" {
		t.Fatalf("unexpected messages: %q", got)
	}
}

func TestTransport_LazyDialFailureIsTransportError(t *testing.T) {
	tr, err := NewTransport(testHost, &Options{
		Port:          closedPort(t),
		SkipEagerDial: true,
		MaxDialTries:  1,
		DialTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("expected lazy transport, got: %v", err)
	}

	_, err = tr.PutEvents(context.Background(), "app", "web", []cwlogs.Event{{Message: "m"}}, nil)
	if !errors.Is(err, cwlogs.ErrTransport) {
		t.Fatalf("expected %s, got: %v", cwlogs.ErrTransport, err)
	}
}

func TestTransport_UnlimitedDialTriesEndWithContext(t *testing.T) {
	tr, err := NewTransport(testHost, &Options{
		Port:          closedPort(t),
		SkipEagerDial: true,
		MaxDialTries:  -1,
		DialTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("expected lazy transport, got: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*300)
	defer cancel()

	start := time.Now()
	_, err = tr.PutEvents(ctx, "app", "web", []cwlogs.Event{{Message: "m"}}, nil)
	if !errors.Is(err, cwlogs.ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a transport error caused by the deadline, got: %v", err)
	}
	if d := time.Since(start); d > time.Second*2 {
		t.Fatalf("expected dialing to stop with the context, took: %s", d)
	}
}

func TestPause_ReturnsWhenContextEnds(t *testing.T) {
	b, err := backoff.New(backoff.WithInitialDelay(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()

	start := time.Now()
	if err := pause(ctx, b); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected %v, got: %v", context.DeadlineExceeded, err)
	}
	if d := time.Since(start); d > time.Second*5 {
		t.Fatalf("expected pause to end with the context, took: %s", d)
	}

	if err := pause(context.Background(), backoff.CoerceNew(backoff.WithInitialDelay(0))); err != nil {
		t.Fatalf("expected a zero delay to pass, got: %v", err)
	}
}

func TestNewTransport_RequiresHost(t *testing.T) {
	if _, err := NewTransport("", nil); err == nil {
		t.Fatal("expected an error for an empty host")
	}
}

func TestTransport_CreateStreamIsNoop(t *testing.T) {
	tr := &Transport{}
	if err := tr.CreateStream(context.Background(), "app", "web"); err != nil {
		t.Fatalf("expected nil, got: %v", err)
	}
}

func TestTransport_BehindWriter(t *testing.T) {
	ts, err := newTestServer(false)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}
	defer ts.Shutdown()

	tr := newTestTransport(t, ts, nil)
	w, err := cwlogs.New("app", "web", &cwlogs.Options{Transport: tr})
	if err != nil {
		t.Fatalf("failed to create Writer: %v", err)
	}

	s := w.MakeWriter()
	for i := 0; i < 5; i++ {
		fmt.Fprintf(s, "line %d\n", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	var got []string
	for len(got) < 5 {
		got = append(got, receive(t, ts).messages()...)
	}
	for i := 0; i < 5; i++ {
		if got[i] != fmt.Sprintf("line %d", i) {
			t.Fatalf("expected %q at %d, got: %q", fmt.Sprintf("line %d", i), i, got[i])
		}
	}
}
