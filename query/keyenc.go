package query

import (
	"encoding/binary"
	"math"

	"go.mongodb.org/mongo-driver/bson"
)

// Key component layout: rank byte, then a rank-specific body. Every encoding is
// prefix-free, so components can be concatenated into compound keys and
// bytes.Compare over the concatenation follows Compare component by component.
//
//	number:   0x00 (NaN) | 0x01 sortable(float64) sortable(int64 remainder)
//	string:   escaped bytes, 0x00 0x01 terminator (0x00 is escaped as 0x00 0xFF)
//	document: (0x01 escaped(key) value)* 0x00
//	array:    (0x01 value)* 0x00
//	binary:   len:u32 subtype:u8 bytes
//	objectId: 12 bytes
//	bool:     0x00 | 0x01
//	date:     sortable(int64 ms) sub:u32
//	regex:    escaped(pattern) escaped(options)
//	other:    type:u8 len:u32 raw bytes
const (
	escByte     = 0x00
	escEscaped  = 0xFF
	escTerm     = 0x01
	elemMarker  = 0x01
	endMarker   = 0x00
	nanMarker   = 0x00
	valueMarker = 0x01
)

// AppendKey appends the order-preserving encoding of v to buf. With desc set,
// the component is bit-inverted so that the byte order is reversed. A zero
// RawValue (missing field) encodes as null.
func AppendKey(buf []byte, v bson.RawValue, desc bool) []byte {
	start := len(buf)
	buf = appendValue(buf, v)
	if desc {
		for i := start; i < len(buf); i++ {
			buf[i] = ^buf[i]
		}
	}
	return buf
}

// NullKey is the key component for a missing or null value.
func NullKey(desc bool) []byte {
	return AppendKey(nil, bson.RawValue{Type: bson.TypeNull}, desc)
}

func appendValue(buf []byte, v bson.RawValue) []byte {
	r := RankOf(v.Type)
	buf = append(buf, byte(r))
	switch r {
	case RankMinKey, RankNull, RankMaxKey:
		return buf
	case RankNumber:
		n := numberOf(v)
		if n.nan {
			return append(buf, nanMarker)
		}
		buf = append(buf, valueMarker)
		buf = binary.BigEndian.AppendUint64(buf, sortableFloat(n.f))
		return binary.BigEndian.AppendUint64(buf, sortableInt(n.r))
	case RankString:
		return appendEscaped(buf, stringOf(v))
	case RankDocument:
		elems, _ := v.Document().Elements()
		for _, el := range elems {
			buf = append(buf, elemMarker)
			buf = appendEscaped(buf, el.Key())
			buf = appendValue(buf, el.Value())
		}
		return append(buf, endMarker)
	case RankArray:
		vals, _ := v.Array().Values()
		for _, el := range vals {
			buf = append(buf, elemMarker)
			buf = appendValue(buf, el)
		}
		return append(buf, endMarker)
	case RankBinary:
		subtype, data := v.Binary()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, subtype)
		return append(buf, data...)
	case RankObjectID:
		oid := v.ObjectID()
		return append(buf, oid[:]...)
	case RankBool:
		if v.Boolean() {
			return append(buf, 1)
		}
		return append(buf, 0)
	case RankDate:
		d := dateOf(v)
		buf = binary.BigEndian.AppendUint64(buf, sortableInt(d.ms))
		return binary.BigEndian.AppendUint32(buf, d.sub)
	case RankRegex:
		pattern, options := v.Regex()
		buf = appendEscaped(buf, pattern)
		return appendEscaped(buf, options)
	default:
		buf = append(buf, byte(v.Type))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Value)))
		return append(buf, v.Value...)
	}
}

func appendEscaped(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == escByte {
			buf = append(buf, escByte, escEscaped)
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, escByte, escTerm)
}

func sortableFloat(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func sortableInt(i int64) uint64 {
	return uint64(i) ^ (1 << 63)
}
