package localstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitdabbler/cwlogs"
	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	opPutEvents    = "localstore.PutEvents"
	opCreateStream = "localstore.CreateStream"
	opRead         = "localstore.Events"
)

var _ cwlogs.Transport = (*Store)(nil)

// streamMeta is the stored state of one stream.
type streamMeta struct {
	Created int64  `msgpack:"c"`
	LastSeq uint64 `msgpack:"s"`

	// Appends counts successful appends; the current token is its decimal
	// form, and there is no token before the first append.
	Appends uint64 `msgpack:"a"`

	// Digest identifies the last appended batch, to detect replays.
	Digest uint64 `msgpack:"d"`
}

func (m *streamMeta) token() *string {
	if m.Appends == 0 {
		return nil
	}
	t := strconv.FormatUint(m.Appends, 10)
	return &t
}

func (m *streamMeta) previousToken() *string {
	if m.Appends < 2 {
		return nil
	}
	t := strconv.FormatUint(m.Appends-1, 10)
	return &t
}

// Record is one stored event.
type Record struct {
	Seq       uint64 `msgpack:"-"`
	Timestamp int64  `msgpack:"t"`
	Ingested  int64  `msgpack:"i"`
	Message   string `msgpack:"m"`
}

// Store is a cwlogs.Transport backed by a Pebble database.
type Store struct {
	*Options
	db   *pebble.DB
	sync *pebble.WriteOptions

	// appends and creates read-modify-write the stream metadata
	mu sync.Mutex
}

// Open creates or opens the database in opts.DataDir.
func Open(opts *Options) (*Store, error) {
	if opts == nil || opts.DataDir == "" {
		return nil, errors.New("localstore: Options.DataDir is required")
	}

	db, err := pebble.Open(opts.DataDir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store at %s: %w", opts.DataDir, err)
	}

	s := &Store{Options: opts, db: db, sync: pebble.NoSync}
	if opts.Fsync {
		s.sync = pebble.Sync
	}
	s.debug("opened local store at %s\n", opts.DataDir)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateStream implements cwlogs.Transport.
func (s *Store) CreateStream(ctx context.Context, group, stream string) error {
	if err := validName(opCreateStream, group, stream); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return &cwlogs.Error{Op: opCreateStream, Kind: cwlogs.ErrTransport, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.meta(group, stream); err == nil {
		return &cwlogs.Error{Op: opCreateStream, Kind: cwlogs.ErrAlreadyExists, Message: "the specified log stream already exists"}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return &cwlogs.Error{Op: opCreateStream, Kind: cwlogs.ErrTransport, Err: err}
	}

	m := streamMeta{Created: time.Now().UnixMilli()}
	if err := s.setMeta(nil, group, stream, &m); err != nil {
		return &cwlogs.Error{Op: opCreateStream, Kind: cwlogs.ErrTransport, Err: err}
	}

	s.debug("created stream %s/%s\n", group, stream)
	return nil
}

// PutEvents implements cwlogs.Transport. The batch is appended atomically.
func (s *Store) PutEvents(ctx context.Context, group, stream string, events []cwlogs.Event, token *string) (*string, error) {
	if err := validName(opPutEvents, group, stream); err != nil {
		return nil, err
	}
	if err := validBatch(events); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrTransport, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.meta(group, stream)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrStreamNotFound, Message: "the specified log stream does not exist"}
	}
	if err != nil {
		return nil, &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrTransport, Err: err}
	}

	digest := digestOf(events)
	if cur := m.token(); !sameToken(token, cur) {

		// a retry of the batch that produced the current token
		if prev := m.previousToken(); m.Appends > 0 && sameToken(token, prev) && digest == m.Digest {
			return nil, &cwlogs.Error{
				Op:                    opPutEvents,
				Kind:                  cwlogs.ErrDataAlreadyAccepted,
				Message:               "the given batch of log events has already been accepted",
				ExpectedSequenceToken: cur,
			}
		}
		return nil, &cwlogs.Error{
			Op:                    opPutEvents,
			Kind:                  cwlogs.ErrInvalidSequenceToken,
			Message:               "the given sequenceToken is invalid",
			ExpectedSequenceToken: cur,
		}
	}

	b := s.db.NewBatch()
	defer b.Close()

	now := time.Now().UnixMilli()
	for i := 0; i < len(events); i++ {
		m.LastSeq++
		val, err := msgpack.Marshal(&Record{
			Timestamp: events[i].Timestamp,
			Ingested:  now,
			Message:   events[i].Message,
		})
		if err == nil {
			err = b.Set(keyEntry(group, stream, m.LastSeq), val, nil)
		}
		if err != nil {
			return nil, &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrTransport, Err: err}
		}
	}

	m.Appends++
	m.Digest = digest
	if err := s.setMeta(b, group, stream, m); err != nil {
		return nil, &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrTransport, Err: err}
	}

	s.debug("appended %d events to %s/%s\n", len(events), group, stream)
	return m.token(), nil
}

// Streams lists the streams of group, in name order.
func (s *Store) Streams(group string) ([]string, error) {
	prefix := keyGroupMetaPrefix(group)
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var names []string
	for it.First(); it.Valid(); it.Next() {
		names = append(names, string(it.Key()[len(prefix):]))
	}
	return names, nil
}

// ReadOptions select the events returned by Events.
type ReadOptions struct {

	// After skips events with a sequence number <= After. Passing the Seq of
	// the last Record seen continues from there.
	After uint64

	// Limit caps the number of records returned. 0 means no limit.
	Limit int
}

// Events returns the stored events of the stream in append order.
func (s *Store) Events(group, stream string, opts ReadOptions) ([]Record, error) {
	if _, err := s.meta(group, stream); err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, &cwlogs.Error{Op: opRead, Kind: cwlogs.ErrStreamNotFound, Message: "the specified log stream does not exist"}
		}
		return nil, err
	}

	low := keyEntry(group, stream, opts.After+1)
	hi := keyEntry(group, stream, ^uint64(0))
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var recs []Record
	for it.First(); it.Valid() && (opts.Limit == 0 || len(recs) < opts.Limit); it.Next() {
		var r Record
		if err := msgpack.Unmarshal(it.Value(), &r); err != nil {
			return recs, fmt.Errorf("failed to decode record %s/%s#%d: %w", group, stream, seqFromEntryKey(it.Key()), err)
		}
		r.Seq = seqFromEntryKey(it.Key())
		recs = append(recs, r)
	}
	return recs, nil
}

// meta loads the stream metadata; the error is pebble.ErrNotFound if the
// stream does not exist.
func (s *Store) meta(group, stream string) (*streamMeta, error) {
	val, closer, err := s.db.Get(keyMeta(group, stream))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	m := &streamMeta{}
	if err := msgpack.Unmarshal(val, m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s/%s: %w", group, stream, err)
	}
	return m, nil
}

// setMeta stores m, in b if given (and then commits b).
func (s *Store) setMeta(b *pebble.Batch, group, stream string, m *streamMeta) error {
	val, err := msgpack.Marshal(m)
	if err != nil {
		return err
	}
	if b == nil {
		return s.db.Set(keyMeta(group, stream), val, s.sync)
	}
	if err := b.Set(keyMeta(group, stream), val, nil); err != nil {
		return err
	}
	return b.Commit(s.sync)
}

func (s *Store) debug(format string, args ...any) {
	if !s.Verbose {
		return
	}
	cwlogs.InternalLogger().Printf("localstore: "+format, args...)
}

func sameToken(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func digestOf(events []cwlogs.Event) uint64 {
	h := fnv.New64a()
	var ts [8]byte
	for i := 0; i < len(events); i++ {
		binary.BigEndian.PutUint64(ts[:], uint64(events[i].Timestamp))
		h.Write(ts[:])
		h.Write([]byte(events[i].Message))
	}
	return h.Sum64()
}

func validName(op, group, stream string) error {
	if len(group) == 0 || len(stream) == 0 {
		return &cwlogs.Error{Op: op, Kind: cwlogs.ErrInvalidParameter, Message: "group and stream names are required"}
	}
	if strings.IndexByte(group, sep) >= 0 || strings.IndexByte(stream, sep) >= 0 {
		return &cwlogs.Error{Op: op, Kind: cwlogs.ErrInvalidParameter, Message: "names cannot contain NUL"}
	}
	return nil
}

// validBatch applies the limits the remote service enforces on one append.
func validBatch(events []cwlogs.Event) error {
	if len(events) == 0 {
		return &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrInvalidParameter, Message: "at least one event is required"}
	}
	if len(events) > cwlogs.MaxBatchEvents {
		return &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrInvalidParameter,
			Message: fmt.Sprintf("%d events exceed the limit of %d", len(events), cwlogs.MaxBatchEvents)}
	}
	size := 0
	for i := 0; i < len(events); i++ {
		size += len(events[i].Message) + cwlogs.EventOverhead
	}
	if size > cwlogs.MaxBatchSize {
		return &cwlogs.Error{Op: opPutEvents, Kind: cwlogs.ErrInvalidParameter,
			Message: fmt.Sprintf("batch of %d bytes exceeds the limit of %d", size, cwlogs.MaxBatchSize)}
	}
	return nil
}
