package edoc

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

type DumpFlags uint64

const (
	DumpCollectionHeaders = DumpFlags(1 << iota)
	DumpDocs
	DumpStats
	DumpIndexes
	DumpIndexEntries
	DumpSchema

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every collection; meant for tests and
// debugging small databases.
func (tx *Tx) Dump(f DumpFlags) string {
	var buf strings.Builder
	for _, name := range tx.collectionNames() {
		cat, err := tx.catalog(name)
		if err != nil {
			fmt.Fprintf(&buf, "%s ** ERROR: %v\n", name, err)
			continue
		}
		tx.dumpCollection(&buf, f, cat)
	}
	return buf.String()
}

func (tx *Tx) dumpCollection(w *strings.Builder, f DumpFlags, cat *catalog) {
	prefix := cat.name()
	se, err := tx.schemaEntry(prefix)
	if err != nil {
		fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
		return
	}

	if f.Contains(DumpCollectionHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d docs)\n", prefix, se.DocCount)
	}
	if f.Contains(DumpSchema) {
		raw, err := se.encode()
		if err == nil {
			fmt.Fprintf(w, "%s.schema = %s\n", prefix, loggableDoc(raw))
		} else {
			fmt.Fprintf(w, "%s.schema ** ERROR: %v\n", prefix, err)
		}
	}
	if f.Contains(DumpStats) {
		s, err := tx.CollectionStats(prefix)
		if err != nil {
			fmt.Fprintf(w, "%s.stats ** ERROR: %v\n", prefix, err)
		} else {
			fmt.Fprintf(w, "%s.stats: index_entries = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, s.IndexEntries, s.DataSize, s.DataAlloc, s.IndexSize, s.IndexAlloc, s.TotalAlloc())
		}
	}

	if f.Contains(DumpDocs) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		if data := tx.stx.Bucket(cat.entry.Tree, dataBucket); data != nil {
			c := data.Cursor()
			var pos int
			for k, v := c.First(); k != nil; k, v = c.Next() {
				pos++
				fmt.Fprintf(w, "%s.%d = %s\n", prefix, pos, loggableDoc(bson.Raw(v)))
			}
		}
	}

	if f.Contains(DumpIndexes) {
		for _, idx := range cat.indexes {
			tx.dumpIndex(w, prefix, f, cat, idx)
		}
	}
}

func (tx *Tx) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, cat *catalog, idx *index) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + idx.name()

	var attrs []string
	for _, kp := range idx.spec.Keys {
		attrs = append(attrs, fmt.Sprintf("%s:%d", kp.Field, kp.Direction))
	}
	if idx.spec.Unique {
		attrs = append(attrs, "unique")
	}
	if idx.spec.Sparse {
		attrs = append(attrs, "sparse")
	}
	if idx.custom {
		attrs = append(attrs, "custom")
	}
	fmt.Fprintf(w, "%s (%s)\n", prefix, strings.Join(attrs, ", "))

	if !f.Contains(DumpIndexEntries) {
		return
	}
	b, err := tx.indexBucket(cat, idx)
	if err != nil {
		fmt.Fprintf(w, "%s ** ERROR: %v\n", prefix, err)
		return
	}
	data := tx.stx.Bucket(cat.entry.Tree, dataBucket)
	c := b.Cursor()
	var pos int
	for k, v := c.First(); k != nil; k, v = c.Next() {
		pos++
		key := hexstr(k[:len(k)-len(v)])
		var id bson.RawValue
		if data != nil {
			if doc := data.Get(v); doc != nil {
				id = docID(doc)
			}
		}
		if id.Type == 0 {
			fmt.Fprintf(w, "%s.%d: %s => %s ** DANGLING\n", prefix, pos, key, hexstr(v))
			continue
		}
		fmt.Fprintf(w, "%s.%d: %s => %v\n", prefix, pos, key, dumpValue(id))
	}
}

func dumpValue(v bson.RawValue) string {
	if v.Type == bson.TypeString {
		return fmt.Sprintf("%q", v.StringValue())
	}
	return v.String()
}
