/*
Package cwlogs ships application log lines to an append-only remote log store
(CloudWatch Logs by default), grouped into named streams.

The stack has three parts:

  - `cwlogs.Writer` - the factory handed to the logging framework. Each writer
    it makes is an `io.Writer` whose writes become log events for one stream.
  - a per-stream worker goroutine that batches queued events and drives the
    remote append protocol (sequence tokens, create-on-demand, retries)
  - `cwlogs.Transport` - the remote API. `CloudWatchTransport` is the default;
    the `forward`, `beats` and `localstore` packages provide alternatives.

Writes never block on the network. An event is framed, stamped and handed off
to its stream's queue; delivery happens later on the worker, and a delivery
failure is reported on the internal logger rather than to the writer.

	w, err := cwlogs.New("app", "default", nil)
	if err != nil {
		log.Fatalln(err)
	}
	defer w.Shutdown(context.Background())

	logger := slog.New(cwlogs.NewHandler(w, nil))
	logger.Info("service started", "port", 8080)
*/
package cwlogs

// Limits of the PutLogEvents API.
//
//	ref: https://docs.aws.amazon.com/AmazonCloudWatchLogs/latest/APIReference/API_PutLogEvents.html
const (
	// MaxBatchEvents is the maximum number of events in one append call.
	MaxBatchEvents = 10_000

	// MaxBatchSize is the maximum size of one append call, in bytes, counting
	// each message plus EventOverhead.
	MaxBatchSize = 1 << 20

	// EventOverhead is the fixed number of bytes charged per event.
	EventOverhead = 26

	// MaxMessageSize is the largest message that fits in a batch on its own.
	MaxMessageSize = MaxBatchSize - EventOverhead
)

// Event is one log event: a UTF-8 message and its capture time in
// milliseconds since the Unix epoch (negative before 1970).
type Event struct {
	Message   string
	Timestamp int64
}

// size is the number of bytes the event is charged against MaxBatchSize.
func (e Event) size() int { return len(e.Message) + EventOverhead }

// Destination identifies one ordered append target.
type Destination struct {
	Group  string
	Stream string
}

func (d Destination) String() string { return d.Group + "/" + d.Stream }
