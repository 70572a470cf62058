package edoc

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

type updateOpKind int

const (
	updSet updateOpKind = iota
	updUnset
	updInc
)

type updateOp struct {
	kind  updateOpKind
	path  []string
	value bson.RawValue
}

// updater is a compiled update document: either a whole-document
// replacement or a list of $set, $unset and $inc operations.
type updater struct {
	replacement bson.Raw
	ops         []updateOp
}

func compileUpdate(update any) (*updater, error) {
	raw, err := rawDoc(update)
	if err != nil {
		return nil, err
	}
	elems, err := raw.Elements()
	if err != nil {
		return nil, argErrf("malformed update: %v", err)
	}
	if len(elems) == 0 || !strings.HasPrefix(elems[0].Key(), "$") {
		for _, el := range elems {
			if strings.HasPrefix(el.Key(), "$") {
				return nil, argErrf("update mixes operators and fields: %s", el.Key())
			}
		}
		return &updater{replacement: raw}, nil
	}

	u := &updater{}
	var paths []string
	for _, el := range elems {
		var kind updateOpKind
		switch el.Key() {
		case "$set":
			kind = updSet
		case "$unset":
			kind = updUnset
		case "$inc":
			kind = updInc
		default:
			return nil, argErrf("unsupported update operator %s", el.Key())
		}
		arg, ok := el.Value().DocumentOK()
		if !ok {
			return nil, argErrf("%s needs a document", el.Key())
		}
		fields, err := arg.Elements()
		if err != nil {
			return nil, argErrf("malformed %s: %v", el.Key(), err)
		}
		for _, f := range fields {
			path := f.Key()
			if path == "" || strings.HasPrefix(path, "$") || slices.Contains(strings.Split(path, "."), "") {
				return nil, argErrf("%s: bad field path %q", el.Key(), path)
			}
			if kind == updInc && !isNumber(f.Value()) {
				return nil, argErrf("$inc: %s must be a number, got %v", path, f.Value().Type)
			}
			if kind != updSet && (path == idField || strings.HasPrefix(path, idField+".")) {
				return nil, argErrf("%s cannot modify _id", el.Key())
			}
			for _, p := range paths {
				if pathsOverlap(p, path) {
					return nil, argErrf("conflicting update paths %s and %s", p, path)
				}
			}
			paths = append(paths, path)
			u.ops = append(u.ops, updateOp{kind, strings.Split(path, "."), f.Value()})
		}
	}
	return u, nil
}

func pathsOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func isNumber(v bson.RawValue) bool {
	return query.RankOf(v.Type) == query.RankNumber
}

// apply computes the updated document. The result keeps old's _id as its
// first field; changing _id is an error.
func (u *updater) apply(old bson.Raw) (bson.Raw, error) {
	id := docID(old)
	if u.replacement != nil {
		return replaceDoc(id, u.replacement)
	}

	var d bson.D
	if err := bson.Unmarshal(old, &d); err != nil {
		return nil, dataErrf(old, 0, err, "cannot decode document")
	}
	for _, op := range u.ops {
		var err error
		d, err = applyOp(d, op.path, op)
		if err != nil {
			return nil, argErrf("%s: %v", strings.Join(op.path, "."), err)
		}
	}
	out, err := bson.Marshal(d)
	if err != nil {
		return nil, argErrf("cannot encode updated document: %v", err)
	}
	if newID := docID(out); !query.Equal(newID, id) || newID.Type != id.Type {
		return nil, argErrf("_id is immutable")
	}
	return out, nil
}

func replaceDoc(id bson.RawValue, repl bson.Raw) (bson.Raw, error) {
	if rid, err := repl.LookupErr(idField); err == nil {
		if !query.Equal(rid, id) || rid.Type != id.Type {
			return nil, argErrf("_id is immutable")
		}
	}
	elems, err := repl.Elements()
	if err != nil {
		return nil, argErrf("malformed replacement: %v", err)
	}
	idx, out := bsoncore.AppendDocumentStart(make([]byte, 0, len(repl)+len(id.Value)+8))
	out = bsoncore.AppendValueElement(out, idField, bsoncore.Value{Type: id.Type, Data: id.Value})
	for _, el := range elems {
		if el.Key() != idField {
			out = append(out, el...)
		}
	}
	return bsoncore.AppendDocumentEnd(out, idx)
}

func applyOp(d bson.D, path []string, op updateOp) (bson.D, error) {
	key := path[0]
	i := slices.IndexFunc(d, func(e bson.E) bool { return e.Key == key })

	if len(path) > 1 {
		if i < 0 {
			if op.kind == updUnset {
				return d, nil
			}
			sub, err := applyOp(bson.D{}, path[1:], op)
			if err != nil {
				return nil, err
			}
			return append(d, bson.E{Key: key, Value: sub}), nil
		}
		v, err := applyNested(d[i].Value, key, path[1:], op)
		if err != nil {
			return nil, err
		}
		d[i].Value = v
		return d, nil
	}

	switch op.kind {
	case updSet:
		if i < 0 {
			return append(d, bson.E{Key: key, Value: op.value}), nil
		}
		d[i].Value = op.value
	case updUnset:
		if i >= 0 {
			d = slices.Delete(d, i, i+1)
		}
	case updInc:
		if i < 0 {
			return append(d, bson.E{Key: key, Value: op.value}), nil
		}
		v, err := increment(d[i].Value, op.value)
		if err != nil {
			return nil, err
		}
		d[i].Value = v
	}
	return d, nil
}

func applyNested(cur any, key string, rest []string, op updateOp) (any, error) {
	switch cur := cur.(type) {
	case bson.D:
		return applyOp(cur, rest, op)
	case primitive.A:
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 0 || n >= len(cur) {
			if op.kind == updUnset {
				return cur, nil
			}
			return nil, fmt.Errorf("%s is an array, %q is not a valid position", key, rest[0])
		}
		if len(rest) == 1 {
			switch op.kind {
			case updSet:
				cur[n] = op.value
			case updUnset:
				cur[n] = nil
			case updInc:
				v, err := increment(cur[n], op.value)
				if err != nil {
					return nil, err
				}
				cur[n] = v
			}
			return cur, nil
		}
		v, err := applyNested(cur[n], rest[0], rest[1:], op)
		if err != nil {
			return nil, err
		}
		cur[n] = v
		return cur, nil
	default:
		if op.kind == updUnset {
			return cur, nil
		}
		return nil, fmt.Errorf("%s is not a document", key)
	}
}

// increment adds delta to cur following the usual numeric widening: int32
// stays int32 unless it overflows, any double makes the result a double.
func increment(cur any, delta bson.RawValue) (any, error) {
	switch delta.Type {
	case bson.TypeInt32, bson.TypeInt64:
		di, _ := query.IntValue(delta)
		switch c := cur.(type) {
		case int32:
			sum := int64(c) + di
			if delta.Type == bson.TypeInt32 && sum >= math.MinInt32 && sum <= math.MaxInt32 {
				return int32(sum), nil
			}
			return sum, nil
		case int64:
			sum := c + di
			if (di > 0 && sum < c) || (di < 0 && sum > c) {
				return nil, fmt.Errorf("integer overflow")
			}
			return sum, nil
		case float64:
			return c + float64(di), nil
		}
	case bson.TypeDouble:
		df := delta.Double()
		switch c := cur.(type) {
		case int32:
			return float64(c) + df, nil
		case int64:
			return float64(c) + df, nil
		case float64:
			return c + df, nil
		}
	default:
		return nil, fmt.Errorf("$inc by %v is not supported", delta.Type)
	}
	return nil, fmt.Errorf("cannot increment a value of type %T", cur)
}
