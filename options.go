package cwlogs

import "time"

// Options are used to customize the Writer.
//
// # Invalid options are coerced
//
// NB: The struct pointer options approach is used to be consistent with the
// HandlerOptions, which follow the `HandlerOptions` used by log/slog.
type Options struct {

	// Transport performs the remote calls. If nil, a CloudWatchTransport is
	// built from the default AWS configuration (environment, shared config
	// files, instance role).
	Transport Transport

	// Classifier picks the log stream for writers made with MakeWriterFor. If
	// nil, every writer uses the default stream.
	Classifier Classifier

	// QueueDepth is the capacity of each stream's queue. The default, and the
	// maximum, is MaxBatchEvents.
	QueueDepth int

	// MaxBacklog bounds the number of events per stream held in memory while
	// the queue is full. Events beyond queue plus backlog are dropped and
	// reported. The default is MaxBatchEvents.
	MaxBacklog int

	// Linger controls how long a worker waits for more events before sending a
	// partial batch. The default is 0: a batch is sent as soon as the queue is
	// momentarily empty.
	Linger time.Duration

	// CallTimeout bounds each PutEvents and CreateStream call. The default is
	// 30s.
	CallTimeout time.Duration

	// FailureBackoff caps the exponential pause a worker takes after a batch is
	// dropped, so that a sustained outage does not turn into a hot loop of
	// failing calls. A successful append resets it. If FailureBackoff < 0, the
	// worker does not pause. The default is 5s.
	FailureBackoff time.Duration

	// IdleTimeout retires a stream's worker after it has received nothing for
	// this long; the next write to the stream starts a new worker. The default
	// is 0 (workers live until Shutdown).
	IdleTimeout time.Duration

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultCallTimeout    = time.Second * 30
	defaultFailureBackoff = time.Second * 5
)

// DefaultOptions returns *Options with all default values.
func DefaultOptions() *Options {
	return &Options{
		QueueDepth:     MaxBatchEvents,
		MaxBacklog:     MaxBatchEvents,
		CallTimeout:    defaultCallTimeout,
		FailureBackoff: defaultFailureBackoff,
	}
}

// resolve ensures that all options have valid values.
func (o *Options) resolve() {

	// at least one slot, and no deeper than one full batch
	if o.QueueDepth < 1 || o.QueueDepth > MaxBatchEvents {
		o.QueueDepth = MaxBatchEvents
	}

	// 0 backlog would drop every event written while the queue is full
	if o.MaxBacklog < 1 {
		o.MaxBacklog = MaxBatchEvents
	}

	// must not be negative
	if o.Linger < 0 {
		o.Linger = 0
	}

	// must be positive
	if o.CallTimeout < 1 {
		o.CallTimeout = defaultCallTimeout
	}

	// can be negative (disabled) or positive, but not 0
	if o.FailureBackoff == 0 {
		o.FailureBackoff = defaultFailureBackoff
	}

	// must not be negative
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
}
