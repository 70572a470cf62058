package edoc

import (
	"strings"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
)

// IndexSpec describes a secondary index.
type IndexSpec struct {
	Name   string
	Keys   []KeyPart
	Unique bool

	// Sparse indexes skip documents where any key field is missing or null.
	Sparse bool
}

// KeyPart is one field of a compound index key. Field may be a dotted path.
type KeyPart struct {
	Field     string
	Direction int // 1 or -1
}

func Asc(field string) KeyPart  { return KeyPart{field, 1} }
func Desc(field string) KeyPart { return KeyPart{field, -1} }

// KeyExtractor computes the index key of a document. ExtractKey appends the
// key to buf; ok is false when the document contributes no entry. Keys must
// be prefix-free: no key may be a proper prefix of another.
type KeyExtractor interface {
	ExtractKey(buf []byte, doc bson.Raw) (key []byte, ok bool)
}

// fieldKeyExtractor is the default extractor: the order-preserving encoding
// of each key part's value, concatenated.
type fieldKeyExtractor struct {
	parts  []KeyPart
	sparse bool
}

func (e fieldKeyExtractor) ExtractKey(buf []byte, doc bson.Raw) ([]byte, bool) {
	for _, kp := range e.parts {
		v, ok := query.Lookup(doc, kp.Field)
		if e.sparse && (!ok || query.RankOf(v.Type) == query.RankNull) {
			return buf, false
		}
		buf = query.AppendKey(buf, v, kp.Direction < 0)
	}
	return buf, true
}

type index struct {
	spec      IndexSpec
	tree      string
	extractor KeyExtractor
	custom    bool
}

func (db *DB) newIndex(coll string, spec IndexSpec, tree string) *index {
	idx := &index{
		spec: spec,
		tree: tree,
	}
	if ext := db.opt.Extractors[IndexRef{coll, spec.Name}]; ext != nil {
		idx.extractor = ext
		idx.custom = true
	} else {
		idx.extractor = fieldKeyExtractor{spec.Keys, spec.Sparse}
	}
	return idx
}

func (idx *index) name() string {
	return idx.spec.Name
}

func (idx *index) fields() []string {
	fields := make([]string, len(idx.spec.Keys))
	for i, kp := range idx.spec.Keys {
		fields[i] = kp.Field
	}
	return fields
}

// describeKey renders the key values of doc for error messages.
func (idx *index) describeKey(doc bson.Raw, key []byte) string {
	if idx.custom {
		return hexstr(key)
	}
	var buf strings.Builder
	buf.WriteByte('{')
	for i, kp := range idx.spec.Keys {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(kp.Field)
		buf.WriteString(": ")
		if v, ok := query.Lookup(doc, kp.Field); ok {
			buf.WriteString(v.String())
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.String()
}

func validateIndexSpec(coll string, spec IndexSpec) error {
	if spec.Name == "" {
		return collErrf(InvalidArgument, coll, "", nil, "index name is required")
	}
	if strings.ContainsRune(spec.Name, 0) {
		return collErrf(InvalidArgument, coll, spec.Name, nil, "index name contains NUL")
	}
	if len(spec.Keys) == 0 {
		return collErrf(InvalidArgument, coll, spec.Name, nil, "index has no key parts")
	}
	seen := make(map[string]bool, len(spec.Keys))
	for _, kp := range spec.Keys {
		if kp.Field == "" {
			return collErrf(InvalidArgument, coll, spec.Name, nil, "empty key field")
		}
		if strings.HasPrefix(kp.Field, "$") {
			return collErrf(InvalidArgument, coll, spec.Name, nil, "key field %q starts with $", kp.Field)
		}
		if kp.Direction != 1 && kp.Direction != -1 {
			return collErrf(InvalidArgument, coll, spec.Name, nil, "direction of %s must be 1 or -1, got %d", kp.Field, kp.Direction)
		}
		if seen[kp.Field] {
			return collErrf(InvalidArgument, coll, spec.Name, nil, "duplicate key field %s", kp.Field)
		}
		seen[kp.Field] = true
	}
	return nil
}
