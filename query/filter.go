// Package query implements value ordering, order-preserving key encoding and
// the filter language used to select documents.
//
// Filters are BSON documents in the MongoDB style:
//
//	{"age": {"$gte": 20, "$lte": 29}, "status": "active"}
//
// A filter is compiled once with Compile and then matched against any number
// of documents. All malformed input is reported by Compile, never by Match.
package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// ErrInvalidQuery is wrapped by every error returned from Compile.
var ErrInvalidQuery = errors.New("invalid query")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}

// Filter is a compiled filter document.
type Filter struct {
	raw      bson.Raw
	root     node
	eqs      []Equality
	eligible bool
}

// Equality is a top-level field-equals-literal condition.
type Equality struct {
	Field string
	Value bson.RawValue
}

// Compile compiles a filter. The filter may be nil (matches everything),
// bson.Raw, bson.D, bson.M or anything else bson.Marshal accepts.
func Compile(filter any) (*Filter, error) {
	raw, err := toRaw(filter)
	if err != nil {
		return nil, err
	}
	root, eqs, eligible, err := compileDoc(raw, true)
	if err != nil {
		return nil, err
	}
	return &Filter{raw: raw, root: root, eqs: eqs, eligible: eligible}, nil
}

// MustCompile is Compile for filters known to be valid.
func MustCompile(filter any) *Filter {
	f, err := Compile(filter)
	if err != nil {
		panic(err)
	}
	return f
}

func toRaw(filter any) (bson.Raw, error) {
	switch f := filter.(type) {
	case nil:
		return bson.Raw(emptyDoc), nil
	case bson.Raw:
		if err := f.Validate(); err != nil {
			return nil, invalidf("malformed filter: %v", err)
		}
		return f, nil
	case []byte:
		return toRaw(bson.Raw(f))
	}
	data, err := bson.Marshal(filter)
	if err != nil {
		return nil, invalidf("filter must be a document: %v", err)
	}
	return bson.Raw(data), nil
}

var emptyDoc = []byte{5, 0, 0, 0, 0}

// Match reports whether doc satisfies the filter.
func (f *Filter) Match(doc bson.Raw) bool {
	return f.root.match(doc)
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return len(f.root.(andNode)) == 0
}

// Raw returns the filter document.
func (f *Filter) Raw() bson.Raw {
	return f.raw
}

// Equalities returns the top-level field-equals-literal conditions. The
// boolean is true only when the filter consists of nothing else, with each
// field named once.
func (f *Filter) Equalities() ([]Equality, bool) {
	return f.eqs, f.eligible && len(f.eqs) > 0
}

func (f *Filter) String() string {
	if f.raw == nil {
		return "{}"
	}
	return f.raw.String()
}

type node interface {
	match(doc bson.Raw) bool
}

type andNode []node

func (n andNode) match(doc bson.Raw) bool {
	for _, c := range n {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

type orNode []node

func (n orNode) match(doc bson.Raw) bool {
	for _, c := range n {
		if c.match(doc) {
			return true
		}
	}
	return false
}

type norNode []node

func (n norNode) match(doc bson.Raw) bool {
	for _, c := range n {
		if c.match(doc) {
			return false
		}
	}
	return true
}

type notNode struct {
	sub node
}

func (n notNode) match(doc bson.Raw) bool {
	return !n.sub.match(doc)
}

type fieldNode struct {
	path  string
	conds []cond
}

func (n *fieldNode) match(doc bson.Raw) bool {
	v, ok := Lookup(doc, n.path)
	for _, c := range n.conds {
		if !c.match(v, ok) {
			return false
		}
	}
	return true
}

func compileDoc(raw bson.Raw, root bool) (andNode, []Equality, bool, error) {
	elems, err := raw.Elements()
	if err != nil {
		return nil, nil, false, invalidf("malformed filter: %v", err)
	}
	nodes := make(andNode, 0, len(elems))
	var eqs []Equality
	eligible := root
	seen := make(map[string]bool, len(elems))
	for _, el := range elems {
		key, val := el.Key(), el.Value()
		if strings.HasPrefix(key, "$") {
			n, err := compileLogical(key, val)
			if err != nil {
				return nil, nil, false, err
			}
			nodes = append(nodes, n)
			eligible = false
			continue
		}
		if key == "" {
			return nil, nil, false, invalidf("empty field name")
		}
		if seen[key] {
			eligible = false
		}
		seen[key] = true

		if isOperatorDoc(val) {
			conds, err := compileOperators(key, val.Document())
			if err != nil {
				return nil, nil, false, err
			}
			nodes = append(nodes, &fieldNode{key, conds})
			eligible = false
			continue
		}
		c := newEqCond(val)
		if _, ok := c.(missingCond); ok {
			eligible = false
		} else {
			eqs = append(eqs, Equality{key, val})
		}
		nodes = append(nodes, &fieldNode{key, []cond{c}})
	}
	return nodes, eqs, eligible, nil
}

func isOperatorDoc(v bson.RawValue) bool {
	if v.Type != bson.TypeEmbeddedDocument {
		return false
	}
	el, err := v.Document().IndexErr(0)
	if err != nil {
		return false
	}
	return strings.HasPrefix(el.Key(), "$")
}

func compileLogical(op string, val bson.RawValue) (node, error) {
	switch op {
	case "$and", "$or", "$nor":
		subs, err := compileSubFilters(op, val)
		if err != nil {
			return nil, err
		}
		switch op {
		case "$and":
			return andNode(subs), nil
		case "$or":
			return orNode(subs), nil
		default:
			return norNode(subs), nil
		}
	case "$not":
		if val.Type != bson.TypeEmbeddedDocument {
			return nil, invalidf("$not requires a document")
		}
		sub, _, _, err := compileDoc(val.Document(), false)
		if err != nil {
			return nil, err
		}
		return notNode{sub}, nil
	default:
		return nil, invalidf("unknown top-level operator %s", op)
	}
}

func compileSubFilters(op string, val bson.RawValue) ([]node, error) {
	if val.Type != bson.TypeArray {
		return nil, invalidf("%s requires an array", op)
	}
	vals, err := val.Array().Values()
	if err != nil {
		return nil, invalidf("%s: %v", op, err)
	}
	if len(vals) == 0 {
		return nil, invalidf("%s requires a non-empty array", op)
	}
	subs := make([]node, 0, len(vals))
	for _, v := range vals {
		if v.Type != bson.TypeEmbeddedDocument {
			return nil, invalidf("%s elements must be documents, got %v", op, v.Type)
		}
		sub, _, _, err := compileDoc(v.Document(), false)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func compileOperators(field string, ops bson.Raw) ([]cond, error) {
	elems, err := ops.Elements()
	if err != nil {
		return nil, invalidf("%s: %v", field, err)
	}
	var conds []cond
	var regexArg *bson.RawValue
	var regexOpts *string
	for _, el := range elems {
		op, arg := el.Key(), el.Value()
		if !strings.HasPrefix(op, "$") {
			return nil, invalidf("%s: cannot mix operators and field %q", field, op)
		}
		switch op {
		case "$regex":
			regexArg = &arg
			continue
		case "$options":
			if arg.Type != bson.TypeString {
				return nil, invalidf("%s: $options must be a string", field)
			}
			s := arg.StringValue()
			regexOpts = &s
			continue
		}
		c, err := compileOperator(field, op, arg)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	if regexOpts != nil && regexArg == nil {
		return nil, invalidf("%s: $options without $regex", field)
	}
	if regexArg != nil {
		c, err := compileRegex(field, *regexArg, regexOpts)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func compileOperator(field, op string, arg bson.RawValue) (cond, error) {
	switch op {
	case "$eq":
		return newEqCond(arg), nil
	case "$ne":
		return neCond{arg}, nil
	case "$gt":
		return cmpCond{arg, opGt}, nil
	case "$gte":
		return cmpCond{arg, opGte}, nil
	case "$lt":
		return cmpCond{arg, opLt}, nil
	case "$lte":
		return cmpCond{arg, opLte}, nil
	case "$in", "$nin":
		vals, err := arrayArg(field, op, arg)
		if err != nil {
			return nil, err
		}
		return inCond{vals, op == "$nin"}, nil
	case "$all":
		vals, err := arrayArg(field, op, arg)
		if err != nil {
			return nil, err
		}
		return allCond{vals}, nil
	case "$exists":
		return existsCond{truthy(arg)}, nil
	case "$type":
		ts, err := compileTypeSet(arg)
		if err != nil {
			return nil, err
		}
		return typeCond{ts}, nil
	case "$size":
		n, ok := IntValue(arg)
		if !ok {
			return nil, invalidf("%s: $size requires an integer", field)
		}
		if n < 0 {
			return nil, invalidf("%s: $size must be non-negative, got %d", field, n)
		}
		return sizeCond{int(n)}, nil
	case "$not":
		switch arg.Type {
		case bson.TypeEmbeddedDocument:
			if !isOperatorDoc(arg) {
				return nil, invalidf("%s: $not requires an operator document", field)
			}
			conds, err := compileOperators(field, arg.Document())
			if err != nil {
				return nil, err
			}
			return notCond{conds}, nil
		case bson.TypeRegex:
			c, err := compileRegex(field, arg, nil)
			if err != nil {
				return nil, err
			}
			return notCond{[]cond{c}}, nil
		default:
			return nil, invalidf("%s: $not requires a document or regex", field)
		}
	default:
		return nil, invalidf("%s: unknown operator %s", field, op)
	}
}

func arrayArg(field, op string, arg bson.RawValue) ([]bson.RawValue, error) {
	if arg.Type != bson.TypeArray {
		return nil, invalidf("%s: %s requires an array", field, op)
	}
	vals, err := arg.Array().Values()
	if err != nil {
		return nil, invalidf("%s: %s: %v", field, op, err)
	}
	return vals, nil
}

func truthy(v bson.RawValue) bool {
	switch v.Type {
	case bson.TypeBoolean:
		return v.Boolean()
	case bson.TypeNull, bson.TypeUndefined:
		return false
	}
	if RankOf(v.Type) == RankNumber {
		n := numberOf(v)
		return n.nan || n.f != 0 || n.r != 0
	}
	return true
}

func compileRegex(field string, arg bson.RawValue, opts *string) (cond, error) {
	var pattern, flags string
	switch arg.Type {
	case bson.TypeString:
		pattern = arg.StringValue()
	case bson.TypeRegex:
		pattern, flags = arg.Regex()
	default:
		return nil, invalidf("%s: $regex requires a string or regex", field)
	}
	if opts != nil {
		flags = *opts
	}
	re, err := CompileRegex(pattern, flags)
	if err != nil {
		return nil, invalidf("%s: %v", field, err)
	}
	return regexCond{re}, nil
}

// CompileRegex compiles a pattern with MongoDB-style flags. Supported flags
// are i (case-insensitive), m (multiline anchors) and s (dot matches newline).
func CompileRegex(pattern, flags string) (*regexp.Regexp, error) {
	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			if !strings.ContainsRune(prefix.String(), f) {
				prefix.WriteRune(f)
			}
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad regex: %w", err)
	}
	return re, nil
}
