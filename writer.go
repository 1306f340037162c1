package cwlogs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by writes made after Shutdown.
var ErrClosed = errors.New("cwlogs: writer is shut down")

// Metadata describes the producer of a writer, for routing. The slog Handler
// fills it from the record's level, the handler's groups and the attrs.
type Metadata struct {
	Level  slog.Level
	Logger string            // dot-separated group path, or a logger name
	Attrs  map[string]string // top-level attrs, values in their string form
}

// Classifier returns the log stream for a writer. An empty result selects the
// default stream.
type Classifier func(Metadata) string

// Writer is the factory handed to the logging framework. Every writer it makes
// sends to one stream of the Writer's log group; each stream has its own queue
// and worker, started on first use.
//
//	// Example of basic usage
//	w, err := cwlogs.New("my-service", "default", nil)
//	if err != nil {
//	   log.Fatalln(err)
//	}
//	defer w.Shutdown(context.Background())
//
//	logger := slog.New(slog.NewJSONHandler(w, nil))
//	logger.Info("unrecognized user", "user_id", userID)
type Writer struct {
	*Options
	group         string
	defaultStream string
	router        *router

	// workers tracks worker goroutines, handoffs tracks backlog feeders
	workers  sync.WaitGroup
	handoffs sync.WaitGroup
	quit     chan struct{}

	// guards closed; writes hold the read lock while handing off
	mu     sync.RWMutex
	closed bool
}

// New creates a Writer for the log group with the given default stream.
func New(group, defaultStream string, opts *Options) (*Writer, error) {
	return NewContext(context.Background(), group, defaultStream, opts)
}

// NewContext creates a Writer for the log group with the given default stream.
// The Context is used only to build the default CloudWatchTransport when
// opts.Transport is nil.
func NewContext(ctx context.Context, group, defaultStream string, opts *Options) (*Writer, error) {
	if len(group) == 0 {
		return nil, errors.New("log group name required")
	}
	if len(defaultStream) == 0 {
		return nil, errors.New("default log stream name required")
	}

	if opts == nil {
		opts = DefaultOptions()
	} else {
		opts.resolve()
	}

	if opts.Transport == nil {
		t, err := NewCloudWatchTransport(ctx)
		if err != nil {
			return nil, err
		}
		opts.Transport = t
	}

	w := &Writer{
		Options:       opts,
		group:         group,
		defaultStream: defaultStream,
		quit:          make(chan struct{}),
	}
	w.router = newRouter(w.spawn)

	w.debug("starting Writer for log group %s with the resolved Options: %+v", group, opts)

	return w, nil
}

// Group returns the log group name.
func (w *Writer) Group() string { return w.group }

// MakeWriter returns a writer for the default stream.
func (w *Writer) MakeWriter() *Sink {
	return &Sink{w: w, key: Destination{Group: w.group, Stream: w.defaultStream}}
}

// MakeWriterFor returns a writer for the stream the Classifier picks for md.
func (w *Writer) MakeWriterFor(md Metadata) *Sink {
	return &Sink{w: w, key: Destination{Group: w.group, Stream: w.streamFor(md)}}
}

// MakeWriterForStream returns a writer for the named stream.
func (w *Writer) MakeWriterForStream(stream string) *Sink {
	if len(stream) == 0 {
		stream = w.defaultStream
	}
	return &Sink{w: w, key: Destination{Group: w.group, Stream: stream}}
}

// Write sends p to the default stream. See Sink.Write.
func (w *Writer) Write(p []byte) (int, error) {
	return w.MakeWriter().Write(p)
}

func (w *Writer) streamFor(md Metadata) string {
	if w.Classifier == nil {
		return w.defaultStream
	}
	if s := w.Classifier(md); len(s) > 0 {
		return s
	}
	return w.defaultStream
}

// handoff queues ev for key's worker. It never blocks on the queue.
func (w *Writer) handoff(key Destination, ev Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}

	for {
		d := w.router.resolve(key)
		switch d.send(ev) {
		case sendClosed:
			// the worker retired after resolve; the next resolve replaces it
			continue
		case sendDropped:
			if n := d.dropped.Load(); n%1000 == 1 {
				InternalLogger().Printf("%s: queue and backlog full: dropped %d events so far\n", key, n)
			}
		}
		return nil
	}
}

// spawn creates the queue for key and starts its worker. Called by the router
// under its write lock.
func (w *Writer) spawn(key Destination) *destination {
	d := newDestination(key, w.QueueDepth, w.MaxBacklog, &w.handoffs)
	wk := newWorker(w.Options, d, w.quit, w.router.release)

	w.workers.Add(1)
	go func() {
		defer w.workers.Done()
		wk.run()
	}()

	return d
}

// Shutdown is used to support graceful shutdown. It makes further writes fail
// with ErrClosed, waits for events written while queues were full to reach
// their queues, and then has every worker send what is queued and exit.
// Shutdown blocks until the workers have stopped, or the context expires,
// whichever occurs first.
func (w *Writer) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.debug("writer closed; moving backlogs into queues")
	err := wait(ctx, &w.handoffs)

	// workers drain even if the backlogs did not finish, so nothing leaks
	close(w.quit)
	if err != nil {
		return err
	}

	w.debug("draining %d streams", w.router.len())
	if err := wait(ctx, &w.workers); err != nil {
		return err
	}

	w.debug("all streams drained")
	return nil
}

func wait(ctx context.Context, wg *sync.WaitGroup) error {
	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
		return nil
	}
}

func (w *Writer) debug(format string, args ...any) {
	if !w.Verbose {
		return
	}
	InternalLogger().Printf(format, args...)
}
