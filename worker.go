package cwlogs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitdabbler/backoff"
)

type workerState int

const (
	// no sequence token yet
	stateUninitialized workerState = iota

	// at least one append succeeded; the token is current
	stateReady

	// the queue is closed to new work; flushing what is already queued
	stateDraining

	stateDone
)

func (s workerState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// worker owns the receive side of one destination's queue and is the only
// goroutine that talks to the transport about that destination.
type worker struct {
	*Options
	dest      *destination
	transport Transport
	quit      <-chan struct{}
	retired   func(*destination)

	state workerState
	token *string

	// an event taken off the queue that did not fit in the previous batch
	carry *Event

	batch     []Event
	batchSize int
	idleTimer *time.Timer
	pace      pacer
}

func newWorker(opts *Options, dest *destination, quit <-chan struct{}, retired func(*destination)) *worker {
	return &worker{
		Options:   opts,
		dest:      dest,
		transport: opts.Transport,
		quit:      quit,
		retired:   retired,
		pace:      pacer{limit: opts.FailureBackoff},
	}
}

func (w *worker) run() {
	w.debug("starting")

	for w.state != stateDone {
		batch := w.collect()
		if len(batch) == 0 {
			if w.state == stateDraining {
				w.state = stateDone
			}
			continue
		}

		err := w.deliver(batch)
		if err == nil {
			w.pace.reset()
			continue
		}

		w.reportError("dropped batch of %d events: %v\n", len(batch), err)
		if w.state != stateDraining {
			w.pace.wait()
		}
	}

	if w.idleTimer != nil {
		w.idleTimer.Stop()
	}
	w.dest.close()
	if n := w.dest.dropped.Load(); n > 0 {
		w.reportError("%d events dropped without reaching the queue\n", n)
	}
	w.debug("stopped")
}

// collect returns the next batch, in queue order. It blocks for the first
// event unless the worker is draining, then takes whatever else is already
// queued (waiting up to Linger for more) without exceeding MaxBatchEvents or
// MaxBatchSize.
func (w *worker) collect() []Event {
	w.batch = make([]Event, 0, min(len(w.dest.events)+1, MaxBatchEvents))
	w.batchSize = 0

	if w.carry != nil {
		ev := *w.carry
		w.carry = nil
		w.add(ev)
	} else if w.state != stateDraining {
		select {
		case ev := <-w.dest.events:
			w.add(ev)
		case <-w.quit:
			w.drain()
		case <-w.idle():
			w.retire()
		}
	}

	var linger <-chan time.Time
	if w.Linger > 0 && w.state != stateDraining {
		t := time.NewTimer(w.Linger)
		defer t.Stop()
		linger = t.C
	}

	for w.carry == nil && len(w.batch) < MaxBatchEvents {
		select {
		case ev := <-w.dest.events:
			w.add(ev)
			continue
		default:
		}

		// nothing queued right now
		if linger == nil || len(w.batch) == 0 {
			break
		}
		select {
		case ev := <-w.dest.events:
			w.add(ev)
		case <-linger:
			linger = nil
		case <-w.quit:
			w.drain()
			linger = nil
		}
	}

	return w.batch
}

// add appends ev to the batch, or carries it over to the next batch if it
// would push this one past a limit.
func (w *worker) add(ev Event) {
	n := ev.size()
	if n > MaxBatchSize {
		w.reportError("dropped event of %d bytes: larger than a batch\n", n)
		return
	}
	if len(w.batch) == MaxBatchEvents || w.batchSize+n > MaxBatchSize {
		w.carry = &ev
		return
	}
	w.batch = append(w.batch, ev)
	w.batchSize += n
}

// idle returns a channel that fires after IdleTimeout, or nil if workers
// never retire.
func (w *worker) idle() <-chan time.Time {
	if w.IdleTimeout <= 0 {
		return nil
	}
	if w.idleTimer == nil {
		w.idleTimer = time.NewTimer(w.IdleTimeout)
		return w.idleTimer.C
	}
	if !w.idleTimer.Stop() {
		select {
		case <-w.idleTimer.C:
		default:
		}
	}
	w.idleTimer.Reset(w.IdleTimeout)
	return w.idleTimer.C
}

// drain is entered on Writer shutdown.
func (w *worker) drain() {
	w.debug("draining on shutdown")
	w.state = stateDraining
	w.quit = nil
}

// retire closes an empty destination so the router replaces it. If events
// arrived in the meantime the worker keeps running.
func (w *worker) retire() {
	if !w.dest.retire() {
		return
	}
	w.debug("idle for %s; retiring", w.IdleTimeout)
	w.state = stateDraining
	if w.retired != nil {
		w.retired(w.dest)
	}
}

// deliver appends batch, recovering from a missing stream and from a stale
// sequence token with one retry each. Any other failure is returned and the
// batch is not retried.
func (w *worker) deliver(batch []Event) error {
	token, err := w.put(batch, w.token)

	switch {
	case err == nil:

	case errors.Is(err, ErrStreamNotFound):
		w.debug("log stream does not exist; creating it")
		cerr := w.create()
		if cerr != nil && !errors.Is(cerr, ErrAlreadyExists) {
			return fmt.Errorf("failed to create log stream: %w", cerr)
		}
		token, err = w.put(batch, nil)

	case errors.Is(err, ErrInvalidSequenceToken):
		w.debug("sequence token rejected; retrying with the expected token")
		token, err = w.put(batch, expectedToken(err))
	}

	// the service already holds this batch
	if errors.Is(err, ErrDataAlreadyAccepted) {
		token, err = expectedToken(err), nil
	}

	if err != nil {
		// keep the token the service handed back so the next batch is in sync
		if t := expectedToken(err); t != nil {
			w.token = t
		}
		return err
	}

	w.token = token
	if w.state == stateUninitialized {
		w.state = stateReady
	}
	return nil
}

func (w *worker) put(batch []Event, token *string) (*string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.CallTimeout)
	defer cancel()
	next, err := w.transport.PutEvents(ctx, w.dest.key.Group, w.dest.key.Stream, batch, token)
	return next, classify(opPutLogEvents, err)
}

func (w *worker) create() error {
	ctx, cancel := context.WithTimeout(context.Background(), w.CallTimeout)
	defer cancel()
	err := w.transport.CreateStream(ctx, w.dest.key.Group, w.dest.key.Stream)
	return classify(opCreateLogStream, err)
}

func (w *worker) debug(format string, args ...any) {
	if !w.Verbose {
		return
	}
	args = append([]any{w.dest.key, w.state}, args...)
	InternalLogger().Printf("worker %s (%s): "+format, args...)
}

func (w *worker) reportError(format string, args ...any) {
	args = append([]any{w.dest.key}, args...)
	InternalLogger().Printf("worker %s: "+format, args...)
}

// pacer spaces out appends after consecutive dropped batches.
type pacer struct {
	limit time.Duration
	sleep func()
}

func (p *pacer) wait() {
	if p.limit < 0 {
		return
	}
	if p.sleep == nil {
		b, err := backoff.New(
			backoff.WithInitialDelay(0),
			backoff.WithExponentialLimit(p.limit),
		)
		if err != nil {
			InternalLogger().Printf("failed to create failure backoff; not pausing: %v\n", err)
			p.limit = -1
			return
		}
		p.sleep = b.Sleep
	}
	p.sleep()
}

func (p *pacer) reset() { p.sleep = nil }
