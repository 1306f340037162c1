package forward

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bitdabbler/cwlogs"
	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

type TestEntry struct {
	Time   time.Time
	Record map[string]any
}

type TestBatch struct {
	Tag     string
	Entries []TestEntry
	Option  map[string]any
}

// DecodeMsgpack deserializes the payload, which is expected to conform to
// either the Forward or the CompressedPackedForward event mode format.
//
//	[tag<string>, entries<array | bin>, option<map[string]any>]
func (b *TestBatch) DecodeMsgpack(dec *msgpack.Decoder) error {

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode outer message array length: %v", err)
	}
	if n != 3 {
		return fmt.Errorf("expected 3 fields, got: %d", n)
	}

	if err = dec.Decode(&b.Tag); err != nil {
		return fmt.Errorf("failed to decode tag field: %v", err)
	}

	code, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the entries field: %v", err)
	}

	if msgpcode.IsBin(code) {
		zb, err := dec.DecodeBytes()
		if err != nil {
			return fmt.Errorf("failed to decode compressed entries: %v", err)
		}
		zr, err := gzip.NewReader(bytes.NewReader(zb))
		if err != nil {
			return fmt.Errorf("failed to open compressed entries: %v", err)
		}
		raw, err := io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("failed to decompress entries: %v", err)
		}
		inner := msgpack.NewDecoder(bytes.NewReader(raw))
		for {
			var e TestEntry
			err := decodeEntry(inner, &e)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			b.Entries = append(b.Entries, e)
		}
	} else {
		m, err := dec.DecodeArrayLen()
		if err != nil {
			return fmt.Errorf("failed to decode entries array length: %v", err)
		}
		b.Entries = make([]TestEntry, m)
		for i := 0; i < m; i++ {
			if err := decodeEntry(dec, &b.Entries[i]); err != nil {
				return err
			}
		}
	}

	if err = dec.Decode(&b.Option); err != nil {
		return fmt.Errorf("failed to decode the option field: %v", err)
	}
	return nil
}

func decodeEntry(dec *msgpack.Decoder, e *TestEntry) error {
	if _, err := dec.DecodeArrayLen(); err != nil {
		return err
	}

	code, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the time field: %v", err)
	}
	if code == msgpcode.FixExt8 {
		et := EventTime{}
		if err := dec.Decode(&et); err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		e.Time = time.Time(et)
	} else {
		unix, err := dec.DecodeInt64()
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		e.Time = time.Unix(unix, 0).UTC()
	}

	if err := dec.Decode(&e.Record); err != nil {
		return fmt.Errorf("failed to decode the record field: %v", err)
	}
	return nil
}

// messages returns the "message" value of every entry.
func (b *TestBatch) messages() []string {
	res := make([]string, len(b.Entries))
	for i := 0; i < len(b.Entries); i++ {
		res[i], _ = b.Entries[i].Record[messageKey].(string)
	}
	return res
}

type testServer struct {
	listener   net.Listener
	batchCh    chan *TestBatch
	host       string
	port       int
	shutdownCh chan struct{}
	verbose    bool
}

const testHost = "127.0.0.1"

func newTestServer(verbose bool) (*testServer, error) {
	s := &testServer{
		batchCh:    make(chan *TestBatch, 128),
		shutdownCh: make(chan struct{}),
		host:       testHost,
		verbose:    verbose,
	}

	// use port 0 to assign dynamically
	l, err := net.Listen("tcp", s.host+":0")
	if err != nil {
		return nil, fmt.Errorf("failed to start test server listener: %v", err)
	}
	s.listener = l

	addr := l.Addr().String()
	s.port, err = strconv.Atoi(addr[strings.LastIndex(addr, ":")+1:])
	if err != nil {
		return nil, fmt.Errorf("invalid port in addr %q: %v", addr, err)
	}

	go func() {
		s.debug("starting listener")
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-s.shutdownCh:
					s.debug("shutting down")
					return
				default:
				}
				s.debug("listener.Accept() error: %v", err)
				continue
			}
			s.debug("new client connected")
			go s.handle(conn)
		}
	}()

	return s, nil
}

func (s *testServer) Shutdown() {
	close(s.shutdownCh)
	s.listener.Close()
}

func (s *testServer) handle(conn net.Conn) {
	d := msgpack.NewDecoder(conn)
	for {
		b := new(TestBatch)
		if err := d.Decode(b); err != nil {
			s.debug("failed to decode Fluent message: %v\n", err)
			break
		}
		s.batchCh <- b
	}
	s.debug("closing connection")
	conn.Close()
}

func (s *testServer) debug(format string, args ...any) {
	if !s.verbose {
		return
	}
	cwlogs.InternalLogger().Printf("testServer: "+format, args...)
}
