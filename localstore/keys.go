package localstore

import (
	"bytes"
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - m\x00{group}\x00{stream}
// - e\x00{group}\x00{stream}\x00{seq_be8}
//
// Group and stream names cannot contain \x00, so a group prefix never
// matches part of another group's name.

const sep = byte(0)

var (
	metaPrefix  = []byte("m\x00")
	entryPrefix = []byte("e\x00")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyMeta builds the stream metadata key.
func keyMeta(group, stream string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(group)+len(stream)+1)
	k = append(k, metaPrefix...)
	k = append(k, group...)
	k = append(k, sep)
	k = append(k, stream...)
	return k
}

// keyGroupMetaPrefix is the prefix of every stream metadata key in group.
func keyGroupMetaPrefix(group string) []byte {
	k := make([]byte, 0, len(metaPrefix)+len(group)+1)
	k = append(k, metaPrefix...)
	k = append(k, group...)
	k = append(k, sep)
	return k
}

// keyEntry builds the entry key with a big-endian sequence for proper
// ordering.
func keyEntry(group, stream string, seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+len(group)+len(stream)+10)
	k = append(k, entryPrefix...)
	k = append(k, group...)
	k = append(k, sep)
	k = append(k, stream...)
	k = append(k, sep)
	k = appendBE8(k, seq)
	return k
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := bytes.Clone(p)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func seqFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
