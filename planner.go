package edoc

import (
	"fmt"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
)

// PlanKind is the access path chosen for a query.
type PlanKind int

const (
	FullScan PlanKind = iota
	PrimaryKeyLookup
	IndexScan
)

func (k PlanKind) String() string {
	switch k {
	case FullScan:
		return "full_scan"
	case PrimaryKeyLookup:
		return "primary_key"
	case IndexScan:
		return "index_scan"
	default:
		return fmt.Sprintf("plan(%d)", int(k))
	}
}

// Plan describes how a query is executed.
type Plan struct {
	Kind PlanKind

	// Index is the name of the scanned index for IndexScan.
	Index string

	// Residual reports whether fetched documents are re-checked against the
	// whole filter.
	Residual bool
}

func (p Plan) String() string {
	s := p.Kind.String()
	if p.Index != "" {
		s += "(" + p.Index + ")"
	}
	if p.Residual {
		s += "+filter"
	}
	return s
}

type plan struct {
	Plan
	index *index

	// key is the primary key for PrimaryKeyLookup and the scan prefix for
	// IndexScan.
	key []byte
}

// planQuery picks an access path. Only filters made of nothing but
// top-level literal equalities can use the primary key or an index; the
// result is always the same set of documents a full scan would return.
func planQuery(cat *catalog, f *query.Filter) plan {
	eqs, ok := f.Equalities()
	if !ok || len(eqs) == 0 {
		return plan{Plan: Plan{Kind: FullScan, Residual: !f.IsEmpty()}}
	}

	byField := make(map[string]bson.RawValue, len(eqs))
	var hasNull bool
	for _, eq := range eqs {
		byField[eq.Field] = eq.Value
		if isNullRank(eq.Value) {
			hasNull = true
		}
	}

	if id, found := byField[idField]; found {
		return plan{
			Plan: Plan{Kind: PrimaryKeyLookup, Residual: len(eqs) > 1},
			key:  primaryKey(id),
		}
	}

	var best *index
	for _, idx := range cat.indexes {
		if !indexEligible(idx, byField) {
			continue
		}
		if best == nil || betterIndex(idx, best) {
			best = idx
		}
	}
	if best == nil {
		return plan{Plan: Plan{Kind: FullScan, Residual: true}}
	}

	var key []byte
	for _, kp := range best.spec.Keys {
		key = query.AppendKey(key, byField[kp.Field], kp.Direction < 0)
	}
	return plan{
		Plan: Plan{
			Kind:     IndexScan,
			Index:    best.name(),
			Residual: len(eqs) > len(best.spec.Keys) || hasNull,
		},
		index: best,
		key:   key,
	}
}

func isNullRank(v bson.RawValue) bool {
	return query.RankOf(v.Type) == query.RankNull
}

func indexEligible(idx *index, byField map[string]bson.RawValue) bool {
	if idx.custom {
		return false
	}
	for _, kp := range idx.spec.Keys {
		v, found := byField[kp.Field]
		if !found {
			return false
		}
		if idx.spec.Sparse && isNullRank(v) {
			return false
		}
	}
	return true
}

// betterIndex prefers unique indexes, then more key parts. Ties keep the
// index declared first.
func betterIndex(a, b *index) bool {
	if a.spec.Unique != b.spec.Unique {
		return a.spec.Unique
	}
	return len(a.spec.Keys) > len(b.spec.Keys)
}

// Explain reports the plan a Find with this filter would use.
func (tx *Tx) Explain(coll string, filter any) (Plan, error) {
	cat, err := tx.catalog(coll)
	if err != nil {
		return Plan{}, err
	}
	f, err := query.Compile(filter)
	if err != nil {
		return Plan{}, queryErr(coll, err)
	}
	return planQuery(cat, f).Plan, nil
}

func (db *DB) Explain(coll string, filter any) (p Plan, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		p, err = tx.Explain(coll, filter)
		return err
	})
	return
}
