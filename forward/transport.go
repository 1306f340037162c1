package forward

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bitdabbler/backoff"
	"github.com/bitdabbler/cwlogs"
)

const (
	opForward  = "Forward"
	messageKey = "message"
)

var _ cwlogs.Transport = (*Transport)(nil)

// Transport is a cwlogs.Transport writing batches to a Fluent collector over
// a single connection. Calls from the Writer's per-stream workers are
// serialized on that connection.
type Transport struct {
	*Options
	addr string
	pool *encoderPool

	mu   sync.Mutex
	conn net.Conn
}

// NewTransport creates a Transport and connects to the collector immediately,
// returning an error if it is unable to establish the connection.
func NewTransport(host string, opts *Options) (*Transport, error) {
	return NewTransportContext(context.Background(), host, opts)
}

// NewTransportContext is NewTransport with a Context bounding the initial
// connection attempts.
func NewTransportContext(ctx context.Context, host string, opts *Options) (*Transport, error) {
	if len(host) == 0 {
		return nil, errors.New("valid host required")
	}

	if opts == nil {
		opts = DefaultOptions()
	} else {
		opts.resolve()
	}

	t := &Transport{
		Options: opts,
		addr:    net.JoinHostPort(host, strconv.Itoa(opts.Port)),
		pool:    newEncoderPool(opts),
	}

	t.debug("starting Transport with the resolved Options: %+v\n", t.Options)

	if opts.SkipEagerDial {
		return t, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.tryConnect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Tag returns the Fluent tag used for the stream.
func (t *Transport) Tag(group, stream string) string {
	return t.TagPrefix + group + "." + stream
}

// PutEvents implements cwlogs.Transport. The token is ignored and the
// returned token is always nil.
func (t *Transport) PutEvents(ctx context.Context, group, stream string, events []cwlogs.Event, _ *string) (*string, error) {
	enc := t.pool.get()
	defer t.pool.put(enc)

	if err := enc.encodeBatch(t.Tag(group, stream), events); err != nil {
		return nil, &cwlogs.Error{Op: opForward, Kind: cwlogs.ErrInvalidData, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.write(ctx, enc.Bytes()); err != nil {
		return nil, &cwlogs.Error{Op: opForward, Kind: cwlogs.ErrTransport, Err: err}
	}
	return nil, nil
}

// CreateStream implements cwlogs.Transport. Collectors have no streams to
// create, so it always succeeds.
func (t *Transport) CreateStream(context.Context, string, string) error {
	return nil
}

// Close closes the connection, if any. A later PutEvents reconnects.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// write sends one message, reconnecting once if the connection turns out to
// be broken. The caller holds t.mu.
func (t *Transport) write(ctx context.Context, msg []byte) error {
	var err error

	for round := 0; round < 2; round++ {

		// nil when (a) using lazy conns, (b) after broken pipe tear down
		if t.conn == nil {
			if err = t.tryConnect(ctx); err != nil {
				return err
			}
		}

		// retry only if recoverable
		for i := 0; i < t.MaxWriteTries; i++ {
			if t.WriteTimeout > 0 {
				t.conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout))
			}

			if _, err = t.conn.Write(msg); err == nil {
				return nil
			}

			// only consider timeouts potentially recoverable
			if ne, ok := err.(net.Error); !(ok && ne.Timeout()) {
				t.debug("failed to write message: unrecoverable error: %v\n", err)
				break
			}

			t.debug("failed to write message: attempt %d: recoverable error: %v\n", i, err)
		}

		// either non-recoverable error or we exhausted MaxWriteTries
		t.debug("broken pipe detected; tearing down connection\n")
		if cerr := t.conn.Close(); cerr != nil {
			t.debug("error closing broken connection: %v\n", cerr)
		}
		t.conn = nil
	}

	return fmt.Errorf("failed to write message to %s: %w", t.addr, err)
}

// tryConnect dials until it succeeds, MaxDialTries is reached, or ctx ends.
// The caller holds t.mu.
func (t *Transport) tryConnect(ctx context.Context) error {
	t.debug("attempting to connect to Fluent collector\n")

	b, err := backoff.New(
		backoff.WithInitialDelay(0),
		backoff.WithExponentialLimit(time.Second*20),
	)
	if err != nil {
		return err
	}

	i := 0
	for {
		i++
		err = t.connect(ctx)
		if err == nil {
			t.debug("successfully connected to Fluent collector\n")
			return nil
		}

		t.debug("failed to connect to Fluent collector on attempt %d: %v\n", i, err)

		if t.MaxDialTries > 0 && i >= t.MaxDialTries {
			break
		}
		if serr := pause(ctx, b); serr != nil {
			err = errors.Join(err, serr)
			break
		}
	}

	return fmt.Errorf("failed to connect to Fluent collector after %d attempts: %w", i, err)
}

// pause waits out the next backoff delay, or returns ctx's error once ctx
// ends.
func pause(ctx context.Context, b *backoff.Backoff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	slept := make(chan struct{})
	go func() {
		b.Sleep()
		close(slept)
	}()
	select {
	case <-slept:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) connect(ctx context.Context) error {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, t.DialTimeout)
	defer cancel()

	t.debug("dialing Fluent collector at %s over %s\n", t.addr, t.Network)

	var (
		conn net.Conn
		err  error
	)
	switch t.Network {
	case "tcp":
		conn, err = d.DialContext(ctx, "tcp", t.addr)
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: t.InsecureSkipVerify},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", t.addr)
	default:
		return fmt.Errorf("unsupported Fluent transport protocol: %s", t.Network)
	}
	if err != nil {
		return fmt.Errorf("failed to dial Fluent collector at %s over %s: %w", t.addr, t.Network, err)
	}

	t.conn = conn
	return nil
}

func (t *Transport) debug(format string, args ...any) {
	if !t.Verbose {
		return
	}
	cwlogs.InternalLogger().Printf("forward: "+format, args...)
}
