package forward

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bitdabbler/cwlogs"
	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

// encoderPool is a shared pool of batch encoders, used to avoid allocating a
// fresh buffer (up to a full batch in size) per PutEvents call.
type encoderPool struct {
	p sync.Pool
	*Options
}

func newEncoderPool(opts *Options) *encoderPool {
	ep := &encoderPool{Options: opts}
	ep.p = sync.Pool{
		New: func() any {
			return newEncoder(ep)
		},
	}
	return ep
}

func (p *encoderPool) get() *encoder {
	return p.p.Get().(*encoder)
}

func (p *encoderPool) put(e *encoder) {

	// drop if the buffer got too large
	if e.Buffer.Cap() > p.MaxBufferCap {
		return
	}

	e.Buffer.Reset()
	e.Encoder.Reset(e.Buffer)
	p.p.Put(e)
}

// encoder renders one batch into its buffer. The z* fields are only used in
// the compressed mode, where the entries are encoded through gzip first.
type encoder struct {
	*bytes.Buffer
	*msgpack.Encoder
	p *encoderPool

	zbuf *bytes.Buffer
	zw   *gzip.Writer
	zenc *msgpack.Encoder
}

func newEncoder(p *encoderPool) *encoder {
	buf := bytes.NewBuffer(make([]byte, 0, p.NewBufferCap))
	e := &encoder{
		Buffer:  buf,
		Encoder: msgpack.NewEncoder(buf),
		p:       p,
	}
	if p.Compressed {
		e.zbuf = &bytes.Buffer{}
		e.zw = gzip.NewWriter(e.zbuf)
		e.zenc = msgpack.NewEncoder(e.zw)
	}
	return e
}

// encodeBatch renders events as one Forward (or CompressedPackedForward) mode
// message for tag.
func (e *encoder) encodeBatch(tag string, events []cwlogs.Event) error {
	if err := e.EncodeArrayLen(3); err != nil {
		return fmt.Errorf("failed to encode message array len: %w", err)
	}
	if err := e.EncodeString(tag); err != nil {
		return fmt.Errorf("failed to encode tag: %w", err)
	}

	if !e.p.Compressed {
		if err := e.EncodeArrayLen(len(events)); err != nil {
			return fmt.Errorf("failed to encode entries array len: %w", err)
		}
		for i := 0; i < len(events); i++ {
			if err := e.p.encodeEntry(e.Encoder, events[i]); err != nil {
				return err
			}
		}
		return e.encodeOption(len(events))
	}

	e.zbuf.Reset()
	e.zw.Reset(e.zbuf)
	e.zenc.Reset(e.zw)
	for i := 0; i < len(events); i++ {
		if err := e.p.encodeEntry(e.zenc, events[i]); err != nil {
			return err
		}
	}
	if err := e.zw.Close(); err != nil {
		return fmt.Errorf("failed to compress entries: %w", err)
	}
	if err := e.EncodeBytes(e.zbuf.Bytes()); err != nil {
		return fmt.Errorf("failed to encode compressed entries: %w", err)
	}
	return e.encodeOption(len(events))
}

// encodeOption writes the option map. "size" lets the collector count events
// without decoding the entries.
func (e *encoder) encodeOption(size int) error {
	n := 1
	if e.p.Compressed {
		n++
	}
	err := e.EncodeMapLen(n)
	if err == nil {
		err = e.EncodeString("size")
	}
	if err == nil {
		err = e.EncodeInt(int64(size))
	}
	if err == nil && e.p.Compressed {
		err = e.EncodeString("compressed")
		if err == nil {
			err = e.EncodeString("gzip")
		}
	}
	if err != nil {
		return fmt.Errorf("failed to encode option: %w", err)
	}
	return nil
}

// encodeEntry writes one [time, record] entry.
func (p *encoderPool) encodeEntry(enc *msgpack.Encoder, ev cwlogs.Event) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return fmt.Errorf("failed to encode entry array len: %w", err)
	}

	if p.UseCoarseTimestamps {
		if err := enc.EncodeInt64(ev.Timestamp / 1000); err != nil {
			return fmt.Errorf("failed to encode timestamp as int64: %w", err)
		}
	} else {
		t := EventTimeMillis(ev.Timestamp)
		if err := enc.Encode(&t); err != nil {
			return fmt.Errorf("failed to encode timestamp as EventTime: %w", err)
		}
	}

	if err := enc.EncodeMapLen(1); err != nil {
		return fmt.Errorf("failed to encode record map len: %w", err)
	}
	if err := enc.EncodeString(messageKey); err != nil {
		return fmt.Errorf("failed to encode record key: %w", err)
	}
	if err := enc.EncodeString(ev.Message); err != nil {
		return fmt.Errorf("failed to encode record message: %w", err)
	}
	return nil
}
