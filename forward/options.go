package forward

import "time"

// Options are used to customize the Forward Transport.
//
// # Invalid options are coerced
type Options struct {

	// Network protocol used to communicate with the collector: "tcp" or
	// "tls". The default is "tcp".
	Network string

	// Port of the collector. The default is 24224.
	Port int

	// DialTimeout sets the timeout for dialing the collector. The default is
	// 30s.
	DialTimeout time.Duration

	// MaxDialTries limits the number of dial attempts made for one batch (or
	// by the constructor, unless SkipEagerDial is set). Attempts are spaced by
	// an exponential backoff and stop early when the call's context ends. If
	// the value is < 0, dialing is retried until the context ends. The default
	// is 3.
	MaxDialTries int

	// WriteTimeout controls the timeout for each Write to the collector. If
	// WriteTimeout < 0, then no timeout will be set. The default is 10
	// seconds.
	WriteTimeout time.Duration

	// MaxWriteTries controls the number of times a timed out Write is retried
	// before inferring a broken pipe, tearing down the connection, and
	// establishing a new one. This must be > 0. The default is 3.
	MaxWriteTries int

	// InsecureSkipVerify controls whether the transport verifies the
	// collector's certificate chain and host name when using TLS.
	InsecureSkipVerify bool

	// SkipEagerDial makes the constructor return without connecting; the
	// first batch dials instead.
	SkipEagerDial bool

	// TagPrefix is prepended to "group.stream" to form the Fluent tag.
	TagPrefix string

	// Compressed selects the CompressedPackedForward mode.
	Compressed bool

	// UseCoarseTimestamps controls whether event times are serialized as Unix
	// epoch seconds, for collectors that predate EventTime. The default is
	// false.
	UseCoarseTimestamps bool

	// NewBufferCap sets the capacity, in bytes, of newly allocated encoder
	// buffers. The minimum is 64 bytes. The default is 64KiB.
	NewBufferCap int

	// MaxBufferCap sets the capacity beyond which an encoder buffer is not
	// returned to the pool. The minimum is NewBufferCap. The default is 2MiB,
	// enough for one full batch.
	MaxBufferCap int

	// Verbose controls whether debug logs are written to the internal logger.
	Verbose bool
}

const (
	defaultPort         = 24224
	defaultNetwork      = "tcp"
	defaultDialTimeout  = time.Second * 30
	defaultDialTries    = 3
	defaultWriteTimeout = time.Second * 10
	defaultWriteTries   = 3
	minBufferCap        = 64
	defaultNewBufferCap = 64 << 10
	defaultMaxBufferCap = 2 << 20
)

// DefaultOptions returns *Options with all default values.
func DefaultOptions() *Options {
	return &Options{
		Network:       defaultNetwork,
		Port:          defaultPort,
		DialTimeout:   defaultDialTimeout,
		MaxDialTries:  defaultDialTries,
		WriteTimeout:  defaultWriteTimeout,
		MaxWriteTries: defaultWriteTries,
		NewBufferCap:  defaultNewBufferCap,
		MaxBufferCap:  defaultMaxBufferCap,
	}
}

// resolve ensures that all options have valid values.
func (o *Options) resolve() {

	// constrain to valid range
	if o.Port < 1024 || o.Port > 65535 {
		o.Port = defaultPort
	}

	// only [tcp|tls]; a batch does not fit in a datagram
	if o.Network != "tcp" && o.Network != "tls" {
		o.Network = defaultNetwork
	}

	// must be positive
	if o.DialTimeout < 1 {
		o.DialTimeout = defaultDialTimeout
	}

	// can be negative (until the context ends) or positive, but not 0
	if o.MaxDialTries == 0 {
		o.MaxDialTries = defaultDialTries
	}

	// can be negative (no deadline) or positive, but not 0
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}

	// must be positive
	if o.MaxWriteTries < 1 {
		o.MaxWriteTries = defaultWriteTries
	}

	if o.NewBufferCap == 0 {
		o.NewBufferCap = defaultNewBufferCap
	}
	o.NewBufferCap = max(o.NewBufferCap, minBufferCap)
	if o.MaxBufferCap == 0 {
		o.MaxBufferCap = defaultMaxBufferCap
	}
	o.MaxBufferCap = max(o.NewBufferCap, o.MaxBufferCap)
}
