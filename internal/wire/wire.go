// Package wire frames spilled cache entries.
//
// Layout (all integers big-endian):
//
//	magic(4) | ver(1) | kind(1=entry) | fetchedAt(u64, unix nanos)
//	metaFlag(1) [ page(u32) perPage(u32) totalCount(u64) totalPages(u32) when 1 ]
//	n(u32)
//	idLen(u16) | id(idLen) | vlen(u32) | payload(vlen)   * n
//
// Decoding is strict: trailing bytes, unknown versions, and out-of-bound
// lengths are all rejected as corruption. Only canonical records are ever
// framed; temporary identifiers never reach the wire.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	kindEntry byte = 1
)

var (
	ErrCorrupt = errors.New("swrcache: corrupt spill entry")
	magic4     = [...]byte{'S', 'W', 'R', 'C'}
)

// Meta mirrors pagination metadata in storage form.
type Meta struct {
	Page       uint32
	PerPage    uint32
	TotalCount uint64
	TotalPages uint32
}

// Record is one canonical entity: server id plus codec-encoded payload.
type Record struct {
	ID      string
	Payload []byte
}

// Entry is a full framed cache entry.
type Entry struct {
	FetchedAt int64 // unix nanos
	Meta      *Meta // nil when the backend did not paginate
	Records   []Record
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeEntry frames e. Record IDs must be non-empty and at most 0xFFFF bytes.
func EncodeEntry(e Entry) ([]byte, error) {
	total := 4 + 1 + 1 + 8 + 1
	if e.Meta != nil {
		total += 4 + 4 + 8 + 4
	}
	total += 4
	for _, r := range e.Records {
		if l := len(r.ID); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("wire: invalid record id length %d", l)
		}
		total += 2 + len(r.ID) + 4 + len(r.Payload)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.FetchedAt))
	buf.Write(u8[:])

	if e.Meta == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		binary.BigEndian.PutUint32(u4[:], e.Meta.Page)
		buf.Write(u4[:])
		binary.BigEndian.PutUint32(u4[:], e.Meta.PerPage)
		buf.Write(u4[:])
		binary.BigEndian.PutUint64(u8[:], e.Meta.TotalCount)
		buf.Write(u8[:])
		binary.BigEndian.PutUint32(u4[:], e.Meta.TotalPages)
		buf.Write(u4[:])
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Records)))
	buf.Write(u4[:])

	for _, r := range e.Records {
		binary.BigEndian.PutUint16(u2[:], uint16(len(r.ID)))
		buf.Write(u2[:])
		buf.WriteString(r.ID)

		binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
		buf.Write(u4[:])
		buf.Write(r.Payload)
	}

	return buf.Bytes(), nil
}

// DecodeEntry parses a framed entry. Any structural problem, including
// trailing bytes, yields ErrCorrupt.
func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 1
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	off := 6

	fetchedAt := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	var meta *Meta
	switch b[off] {
	case 0:
		off++
	case 1:
		off++
		if off+4+4+8+4 > len(b) {
			return Entry{}, ErrCorrupt
		}
		m := Meta{}
		m.Page = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		m.PerPage = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		m.TotalCount = binary.BigEndian.Uint64(b[off : off+8])
		off += 8
		m.TotalPages = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
		meta = &m
	default:
		return Entry{}, ErrCorrupt
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 {
		return Entry{}, ErrCorrupt
	}

	// cap preallocation: a bogus n must not allocate unbounded capacity
	capHint := n
	if capHint > 1024 {
		capHint = 1024
	}
	records := make([]Record, 0, capHint)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return Entry{}, ErrCorrupt
		}
		idLen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if idLen <= 0 || idLen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		idBytes := b[off : off+idLen]
		off += idLen

		if off+4 > len(b) {
			return Entry{}, ErrCorrupt
		}
		vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if vlen < 0 || vlen > len(b)-off {
			return Entry{}, ErrCorrupt
		}
		payload := b[off : off+vlen]
		off += vlen

		records = append(records, Record{
			ID:      string(idBytes), // one expected alloc per record
			Payload: payload,
		})
	}

	if off != len(b) {
		return Entry{}, ErrCorrupt // strict framing: no trailing bytes
	}

	return Entry{FetchedAt: fetchedAt, Meta: meta, Records: records}, nil
}
