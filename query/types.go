package query

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// TypeAliases maps $type names to BSON type codes. "number" is handled
// separately since it matches several types.
var TypeAliases = map[string]bsontype.Type{
	"double":              bson.TypeDouble,
	"string":              bson.TypeString,
	"object":              bson.TypeEmbeddedDocument,
	"array":               bson.TypeArray,
	"binData":             bson.TypeBinary,
	"undefined":           bson.TypeUndefined,
	"objectId":            bson.TypeObjectID,
	"bool":                bson.TypeBoolean,
	"date":                bson.TypeDateTime,
	"null":                bson.TypeNull,
	"regex":               bson.TypeRegex,
	"dbPointer":           bson.TypeDBPointer,
	"javascript":          bson.TypeJavaScript,
	"symbol":              bson.TypeSymbol,
	"javascriptWithScope": bson.TypeCodeWithScope,
	"int":                 bson.TypeInt32,
	"timestamp":           bson.TypeTimestamp,
	"long":                bson.TypeInt64,
	"decimal":             bson.TypeDecimal128,
	"minKey":              bson.TypeMinKey,
	"maxKey":              bson.TypeMaxKey,
}

const numberAlias = "number"

// typeSet is the compiled form of a $type argument.
type typeSet struct {
	types  []bsontype.Type
	number bool
}

func (ts *typeSet) matches(t bsontype.Type) bool {
	if ts.number && RankOf(t) == RankNumber {
		return true
	}
	for _, tt := range ts.types {
		if tt == t {
			return true
		}
	}
	return false
}

func compileTypeSet(arg bson.RawValue) (*typeSet, error) {
	ts := new(typeSet)
	if arg.Type == bson.TypeArray {
		vals, err := arg.Array().Values()
		if err != nil {
			return nil, invalidf("$type: %v", err)
		}
		if len(vals) == 0 {
			return nil, invalidf("$type: empty array")
		}
		for _, v := range vals {
			if err := ts.add(v); err != nil {
				return nil, err
			}
		}
		return ts, nil
	}
	if err := ts.add(arg); err != nil {
		return nil, err
	}
	return ts, nil
}

func (ts *typeSet) add(v bson.RawValue) error {
	if v.Type == bson.TypeString {
		name := v.StringValue()
		if name == numberAlias {
			ts.number = true
			return nil
		}
		t, ok := TypeAliases[name]
		if !ok {
			return invalidf("$type: unknown type name %q", name)
		}
		ts.types = append(ts.types, t)
		return nil
	}
	code, ok := IntValue(v)
	if !ok {
		return invalidf("$type: argument must be a type name or code, got %v", v.Type)
	}
	switch {
	case code == -1:
		ts.types = append(ts.types, bson.TypeMinKey)
	case code == 127:
		ts.types = append(ts.types, bson.TypeMaxKey)
	case code >= 1 && code <= 19:
		ts.types = append(ts.types, bsontype.Type(code))
	default:
		return invalidf("$type: invalid type code %d", code)
	}
	return nil
}

func (ts *typeSet) String() string {
	s := fmt.Sprint(ts.types)
	if ts.number {
		s += "+number"
	}
	return s
}
