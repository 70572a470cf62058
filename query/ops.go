package query

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
)

// cond is a single field condition. ok is false when the field is missing.
type cond interface {
	match(v bson.RawValue, ok bool) bool
}

// newEqCond returns an equality condition. An undefined literal stands for
// "field does not exist".
func newEqCond(arg bson.RawValue) cond {
	if arg.Type == bson.TypeUndefined {
		return missingCond{}
	}
	return eqCond{arg}
}

type missingCond struct{}

func (missingCond) match(_ bson.RawValue, ok bool) bool {
	return !ok
}

type eqCond struct {
	arg bson.RawValue
}

func (c eqCond) match(v bson.RawValue, ok bool) bool {
	return ok && Equal(v, c.arg)
}

type neCond struct {
	arg bson.RawValue
}

func (c neCond) match(v bson.RawValue, ok bool) bool {
	return ok && !Equal(v, c.arg)
}

type cmpOp byte

const (
	opGt cmpOp = iota
	opGte
	opLt
	opLte
)

type cmpCond struct {
	arg bson.RawValue
	op  cmpOp
}

func (c cmpCond) match(v bson.RawValue, ok bool) bool {
	if !ok || RankOf(v.Type) != RankOf(c.arg.Type) {
		return false
	}
	r := Compare(v, c.arg)
	switch c.op {
	case opGt:
		return r > 0
	case opGte:
		return r >= 0
	case opLt:
		return r < 0
	default:
		return r <= 0
	}
}

type inCond struct {
	vals []bson.RawValue
	not  bool
}

func (c inCond) match(v bson.RawValue, ok bool) bool {
	if !ok {
		return false
	}
	return contains(c.vals, v) != c.not
}

func contains(vals []bson.RawValue, v bson.RawValue) bool {
	for _, a := range vals {
		if Equal(a, v) {
			return true
		}
	}
	return false
}

type existsCond struct {
	want bool
}

func (c existsCond) match(_ bson.RawValue, ok bool) bool {
	return ok == c.want
}

type typeCond struct {
	ts *typeSet
}

func (c typeCond) match(v bson.RawValue, ok bool) bool {
	return ok && c.ts.matches(v.Type)
}

// allCond requires every listed value to be present in an array field. An
// empty list matches any array.
type allCond struct {
	vals []bson.RawValue
}

func (c allCond) match(v bson.RawValue, ok bool) bool {
	if !ok || v.Type != bson.TypeArray {
		return false
	}
	elems, err := v.Array().Values()
	if err != nil {
		return false
	}
	for _, want := range c.vals {
		if !contains(elems, want) {
			return false
		}
	}
	return true
}

type sizeCond struct {
	n int
}

func (c sizeCond) match(v bson.RawValue, ok bool) bool {
	if !ok || v.Type != bson.TypeArray {
		return false
	}
	elems, err := v.Array().Values()
	return err == nil && len(elems) == c.n
}

type regexCond struct {
	re *regexp.Regexp
}

func (c regexCond) match(v bson.RawValue, ok bool) bool {
	if !ok || RankOf(v.Type) != RankString {
		return false
	}
	return c.re.MatchString(stringOf(v))
}

// notCond negates a conjunction of conditions. A missing field matches.
type notCond struct {
	conds []cond
}

func (c notCond) match(v bson.RawValue, ok bool) bool {
	for _, sub := range c.conds {
		if !sub.match(v, ok) {
			return true
		}
	}
	return false
}
