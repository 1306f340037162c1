// Package beats implements cwlogs.Transport over the Lumberjack v2 (Beats)
// protocol, for shipping batches to Logstash or any other Beats input.
//
// Each event becomes one document:
//
//	{
//	  "@timestamp": <event time>,
//	  "message":    <event message>,
//	  "host":       {"name": <hostname>},
//	  "log":        {"group": <group>, "stream": <stream>}
//	}
//
// Beats inputs have no log streams or sequence tokens, so PutEvents always
// returns a nil token and CreateStream does nothing.
package beats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bitdabbler/cwlogs"
	lumberjack "github.com/elastic/go-lumber/client/v2"
)

const opSend = "beats.Send"

var _ cwlogs.Transport = (*Transport)(nil)

// Options are used to customize the Beats Transport.
type Options struct {

	// Timeout bounds each network operation, including waiting for the ACK
	// of a batch. The default is 30s.
	Timeout time.Duration

	// CompressionLevel is the zlib level for window compression, 0 (off) to
	// 9. The default is 0.
	CompressionLevel int

	// Hostname is reported as host.name. The default is os.Hostname().
	Hostname string

	// SkipEagerDial makes the constructor return without connecting; the
	// first batch dials instead.
	SkipEagerDial bool

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const defaultTimeout = time.Second * 30

// DefaultOptions returns *Options with all default values.
func DefaultOptions() *Options {
	o := &Options{}
	o.resolve()
	return o
}

// resolve ensures that all options have valid values.
func (o *Options) resolve() {

	// must be positive
	if o.Timeout < 1 {
		o.Timeout = defaultTimeout
	}

	// only [0-9]
	if o.CompressionLevel < 0 || o.CompressionLevel > 9 {
		o.CompressionLevel = 0
	}

	if len(o.Hostname) == 0 {
		o.Hostname, _ = os.Hostname()
	}
}

// sender is the part of *lumberjack.SyncClient the Transport uses.
type sender interface {
	Send(data []interface{}) (int, error)
	Close() error
}

// Transport is a cwlogs.Transport writing batches to a Beats input over a
// single synchronous connection. Every batch waits for its ACK.
type Transport struct {
	*Options
	addr string
	dial func(addr string) (sender, error)

	mu     sync.Mutex
	client sender
}

// NewTransport creates a Transport for the Beats input at addr (host:port)
// and, unless SkipEagerDial is set, connects to it immediately.
func NewTransport(addr string, opts *Options) (*Transport, error) {
	if len(addr) == 0 {
		return nil, errors.New("valid address required")
	}

	if opts == nil {
		opts = DefaultOptions()
	} else {
		opts.resolve()
	}

	t := &Transport{Options: opts, addr: addr}
	t.dial = func(addr string) (sender, error) {
		return lumberjack.SyncDial(addr,
			lumberjack.CompressionLevel(t.CompressionLevel),
			lumberjack.Timeout(t.Timeout),
		)
	}

	if opts.SkipEagerDial {
		return t, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

// PutEvents implements cwlogs.Transport. A batch that fails on an existing
// connection is resent once on a new one; events already ACKed are not
// resent.
func (t *Transport) PutEvents(ctx context.Context, group, stream string, events []cwlogs.Event, _ *string) (*string, error) {
	docs := t.documents(group, stream, events)

	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	for round := 0; round < 2 && len(docs) > 0; round++ {
		if err = ctx.Err(); err != nil {
			break
		}
		if t.client == nil {
			if err = t.connect(); err != nil {
				break
			}
		}

		var n int
		n, err = t.client.Send(docs)
		docs = docs[n:]
		if err == nil && len(docs) == 0 {
			return nil, nil
		}

		t.debug("send to %s failed after %d ACKed events: %v\n", t.addr, n, err)
		t.teardown()
	}

	if err == nil {
		err = fmt.Errorf("%d events not acknowledged", len(docs))
	}
	return nil, &cwlogs.Error{Op: opSend, Kind: cwlogs.ErrTransport, Err: err}
}

// CreateStream implements cwlogs.Transport. Beats inputs have no streams to
// create, so it always succeeds.
func (t *Transport) CreateStream(context.Context, string, string) error {
	return nil
}

// Close closes the connection, if any. A later PutEvents reconnects.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *Transport) documents(group, stream string, events []cwlogs.Event) []interface{} {
	docs := make([]interface{}, len(events))
	for i := 0; i < len(events); i++ {
		docs[i] = map[string]interface{}{
			"@timestamp": time.UnixMilli(events[i].Timestamp).UTC(),
			"message":    events[i].Message,
			"host": map[string]interface{}{
				"name": t.Hostname,
			},
			"log": map[string]interface{}{
				"group":  group,
				"stream": stream,
			},
		}
	}
	return docs
}

// connect dials the input. The caller holds t.mu.
func (t *Transport) connect() error {
	t.debug("dialing Beats input at %s\n", t.addr)
	c, err := t.dial(t.addr)
	if err != nil {
		return fmt.Errorf("failed connection to beats server: %w", err)
	}
	t.client = c
	return nil
}

// teardown drops a broken connection. The caller holds t.mu.
func (t *Transport) teardown() {
	if t.client == nil {
		return
	}
	if err := t.client.Close(); err != nil {
		t.debug("error closing broken connection: %v\n", err)
	}
	t.client = nil
}

func (t *Transport) debug(format string, args ...any) {
	if !t.Verbose {
		return
	}
	cwlogs.InternalLogger().Printf("beats: "+format, args...)
}
