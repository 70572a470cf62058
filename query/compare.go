package query

import (
	"bytes"
	"math"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Rank is the position of a value's type in the total order used for
// comparisons and index keys. Values of different ranks never compare equal.
type Rank byte

const (
	RankMinKey Rank = iota + 1
	RankNull
	RankNumber
	RankString
	RankDocument
	RankArray
	RankBinary
	RankObjectID
	RankBool
	RankDate
	RankRegex
	RankOther
	RankMaxKey
)

func (r Rank) String() string {
	switch r {
	case RankMinKey:
		return "minKey"
	case RankNull:
		return "null"
	case RankNumber:
		return "number"
	case RankString:
		return "string"
	case RankDocument:
		return "document"
	case RankArray:
		return "array"
	case RankBinary:
		return "binary"
	case RankObjectID:
		return "objectId"
	case RankBool:
		return "bool"
	case RankDate:
		return "date"
	case RankRegex:
		return "regex"
	case RankOther:
		return "other"
	case RankMaxKey:
		return "maxKey"
	default:
		return "rank(" + strconv.Itoa(int(r)) + ")"
	}
}

// RankOf returns the rank of a BSON type. The zero type (a missing value)
// ranks as null.
func RankOf(t bsontype.Type) Rank {
	switch t {
	case bson.TypeMinKey:
		return RankMinKey
	case 0, bson.TypeNull, bson.TypeUndefined:
		return RankNull
	case bson.TypeInt32, bson.TypeInt64, bson.TypeDouble, bson.TypeDecimal128:
		return RankNumber
	case bson.TypeString, bson.TypeSymbol:
		return RankString
	case bson.TypeEmbeddedDocument:
		return RankDocument
	case bson.TypeArray:
		return RankArray
	case bson.TypeBinary:
		return RankBinary
	case bson.TypeObjectID:
		return RankObjectID
	case bson.TypeBoolean:
		return RankBool
	case bson.TypeDateTime, bson.TypeTimestamp:
		return RankDate
	case bson.TypeRegex:
		return RankRegex
	case bson.TypeMaxKey:
		return RankMaxKey
	default:
		return RankOther
	}
}

// Compare returns -1, 0 or +1 ordering a before, equal to or after b.
func Compare(a, b bson.RawValue) int {
	ra, rb := RankOf(a.Type), RankOf(b.Type)
	if ra != rb {
		return cmpInt(int(ra), int(rb))
	}
	switch ra {
	case RankMinKey, RankNull, RankMaxKey:
		return 0
	case RankNumber:
		return numberOf(a).compare(numberOf(b))
	case RankString:
		return strings.Compare(stringOf(a), stringOf(b))
	case RankDocument:
		return compareDocs(a.Document(), b.Document())
	case RankArray:
		return compareArrays(a.Array(), b.Array())
	case RankBinary:
		sa, da := a.Binary()
		sb, db := b.Binary()
		if c := cmpInt(len(da), len(db)); c != 0 {
			return c
		}
		if c := cmpInt(int(sa), int(sb)); c != 0 {
			return c
		}
		return bytes.Compare(da, db)
	case RankObjectID:
		oa, ob := a.ObjectID(), b.ObjectID()
		return bytes.Compare(oa[:], ob[:])
	case RankBool:
		ba, bb := a.Boolean(), b.Boolean()
		if ba == bb {
			return 0
		} else if !ba {
			return -1
		}
		return 1
	case RankDate:
		return dateOf(a).compare(dateOf(b))
	case RankRegex:
		pa, oa := a.Regex()
		pb, ob := b.Regex()
		if c := strings.Compare(pa, pb); c != 0 {
			return c
		}
		return strings.Compare(oa, ob)
	default:
		if c := cmpInt(int(a.Type), int(b.Type)); c != 0 {
			return c
		}
		if c := cmpInt(len(a.Value), len(b.Value)); c != 0 {
			return c
		}
		return bytes.Compare(a.Value, b.Value)
	}
}

// Equal reports whether Compare(a, b) == 0.
func Equal(a, b bson.RawValue) bool {
	return Compare(a, b) == 0
}

func compareDocs(a, b bson.Raw) int {
	ea, _ := a.Elements()
	eb, _ := b.Elements()
	for i := 0; ; i++ {
		if i >= len(ea) || i >= len(eb) {
			return cmpInt(len(ea), len(eb))
		}
		if c := strings.Compare(ea[i].Key(), eb[i].Key()); c != 0 {
			return c
		}
		if c := Compare(ea[i].Value(), eb[i].Value()); c != 0 {
			return c
		}
	}
}

func compareArrays(a, b bson.Raw) int {
	va, _ := a.Values()
	vb, _ := b.Values()
	for i := 0; ; i++ {
		if i >= len(va) || i >= len(vb) {
			return cmpInt(len(va), len(vb))
		}
		if c := Compare(va[i], vb[i]); c != 0 {
			return c
		}
	}
}

func stringOf(v bson.RawValue) string {
	if v.Type == bson.TypeSymbol {
		return v.Symbol()
	}
	return v.StringValue()
}

// number is a numeric value split into its nearest float64 and the exact
// integer remainder, so int64 values above 2^53 keep their order.
type number struct {
	f   float64
	r   int64
	nan bool
}

func numberOf(v bson.RawValue) number {
	switch v.Type {
	case bson.TypeInt32:
		return intNumber(int64(v.Int32()))
	case bson.TypeInt64:
		return intNumber(v.Int64())
	case bson.TypeDouble:
		return floatNumber(v.Double())
	case bson.TypeDecimal128:
		f, err := strconv.ParseFloat(v.Decimal128().String(), 64)
		if err != nil && !math.IsInf(f, 0) {
			return number{nan: true}
		}
		return floatNumber(f)
	default:
		panic("not a number: " + v.Type.String())
	}
}

func intNumber(i int64) number {
	f := float64(i)
	if f >= math.MaxInt64 {
		// f is exactly 2^63, which does not fit into int64
		return number{f: f, r: (i - math.MaxInt64) - 1}
	}
	return number{f: f, r: i - int64(f)}
}

func floatNumber(f float64) number {
	if math.IsNaN(f) {
		return number{nan: true}
	}
	if f == 0 {
		f = 0 // fold -0 into +0
	}
	return number{f: f}
}

func (n number) compare(m number) int {
	if n.nan || m.nan {
		switch {
		case n.nan && m.nan:
			return 0
		case n.nan:
			return -1
		default:
			return 1
		}
	}
	if n.f < m.f {
		return -1
	} else if n.f > m.f {
		return 1
	}
	if n.r < m.r {
		return -1
	} else if n.r > m.r {
		return 1
	}
	return 0
}

// IntValue returns v as an exact integer if v is an integral number.
func IntValue(v bson.RawValue) (int64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		return int64(v.Int32()), true
	case bson.TypeInt64:
		return v.Int64(), true
	case bson.TypeDouble, bson.TypeDecimal128:
		n := numberOf(v)
		if n.nan || math.IsInf(n.f, 0) || n.f != math.Trunc(n.f) || n.f >= math.MaxInt64 || n.f < math.MinInt64 {
			return 0, false
		}
		return int64(n.f), true
	default:
		return 0, false
	}
}

type date struct {
	ms  int64
	sub uint32
}

func dateOf(v bson.RawValue) date {
	if v.Type == bson.TypeTimestamp {
		t, i := v.Timestamp()
		return date{int64(t) * 1000, i}
	}
	return date{v.DateTime(), 0}
}

func (d date) compare(e date) int {
	if c := cmpInt64(d.ms, e.ms); c != 0 {
		return c
	}
	return cmpInt64(int64(d.sub), int64(e.sub))
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
