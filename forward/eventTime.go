package forward

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// EventTime is the Fluent sub-second timestamp. Fluent does not use the
// predefined (type -1) msgpack Time format, but its own extension type 0:
//
// +-------+----+----+----+----+----+----+----+----+----+
// |     1 |  2 |  3 |  4 |  5 |  6 |  7 |  8 |  9 | 10 |
// +-------+----+----+----+----+----+----+----+----+----+
// |    D7 | 00 | second from epoch |     nanosecond    |
// +-------+----+----+----+----+----+----+----+----+----+
// |fixext8|type| 32bits integer BE | 32bits integer BE |
// +-------+----+----+----+----+----+----+----+----+----+
//
//	ref: https://github.com/fluent/fluentd/wiki/Forward-Protocol-Specification-v1#eventtime-ext-format
type EventTime time.Time

var _ msgpack.CustomEncoder = (*EventTime)(nil)
var _ msgpack.CustomDecoder = (*EventTime)(nil)

const (
	TimeExtType = 0
	TimeLen     = 8
)

// EventTimeMillis converts an event timestamp, in milliseconds since the Unix
// epoch, to an EventTime.
func EventTimeMillis(ms int64) EventTime {
	return EventTime(time.UnixMilli(ms).UTC())
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (t *EventTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeExtHeader(TimeExtType, TimeLen); err != nil {
		return fmt.Errorf("failed to encode EventTime header: %w", err)
	}

	// NB: 64bit -> 32bit => constrained to 1970-2106
	utc := time.Time(*t).UTC()
	var body [TimeLen]byte
	binary.BigEndian.PutUint32(body[:4], uint32(utc.Unix()))
	binary.BigEndian.PutUint32(body[4:], uint32(utc.Nanosecond()))

	if _, err := enc.Writer().Write(body[:]); err != nil {
		return fmt.Errorf("failed to encode EventTime body: %w", err)
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (t *EventTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	var buf [2 + TimeLen]byte
	if err := dec.ReadFull(buf[:]); err != nil {
		return fmt.Errorf("failed to decode EventTime: %w", err)
	}

	if buf[0] != 0xD7 {
		return fmt.Errorf("failed to decode EventTime: byte[0] = %X, expected: 0xD7 (fixext8)", buf[0])
	}
	if buf[1] != TimeExtType {
		return fmt.Errorf("failed to decode EventTime: byte[1] = %X, expected: 0x00 (custom type 0)", buf[1])
	}

	secs := int64(binary.BigEndian.Uint32(buf[2:6]))
	nsecs := int64(binary.BigEndian.Uint32(buf[6:]))
	*t = EventTime(time.Unix(secs, nsecs).UTC())

	return nil
}
