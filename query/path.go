package query

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Lookup returns the value at a dotted path. Path components traverse
// embedded documents by key and arrays by numeric position.
func Lookup(doc bson.Raw, path string) (bson.RawValue, bool) {
	if !strings.Contains(path, ".") {
		v, err := doc.LookupErr(path)
		if err != nil {
			return bson.RawValue{}, false
		}
		return v, true
	}
	return lookupParts(doc, strings.Split(path, "."))
}

func lookupParts(doc bson.Raw, parts []string) (bson.RawValue, bool) {
	cur := bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: doc}
	for _, part := range parts {
		switch cur.Type {
		case bson.TypeEmbeddedDocument:
			v, err := cur.Document().LookupErr(part)
			if err != nil {
				return bson.RawValue{}, false
			}
			cur = v
		case bson.TypeArray:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 {
				return bson.RawValue{}, false
			}
			vals, err := cur.Array().Values()
			if err != nil || i >= len(vals) {
				return bson.RawValue{}, false
			}
			cur = vals[i]
		default:
			return bson.RawValue{}, false
		}
	}
	return cur, true
}

// ValueOf converts a Go value into a RawValue using the default BSON registry.
func ValueOf(v any) (bson.RawValue, error) {
	switch v := v.(type) {
	case nil:
		return bson.RawValue{Type: bson.TypeNull}, nil
	case bson.RawValue:
		return v, nil
	}
	t, data, err := bson.MarshalValue(v)
	if err != nil {
		return bson.RawValue{}, err
	}
	return bson.RawValue{Type: t, Value: data}, nil
}

// MustValueOf is ValueOf for values known to be marshalable.
func MustValueOf(v any) bson.RawValue {
	rv, err := ValueOf(v)
	if err != nil {
		panic(err)
	}
	return rv
}
