package edoc

import (
	"go.mongodb.org/mongo-driver/bson"
)

type CollectionStats struct {
	Docs         int
	IndexEntries int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (cs *CollectionStats) TotalSize() int64 {
	return cs.DataSize + cs.IndexSize
}

func (cs *CollectionStats) TotalAlloc() int64 {
	return cs.DataAlloc + cs.IndexAlloc
}

// CollectionStats reports storage usage of a collection. The in-memory
// backend only fills in the entry counts.
func (tx *Tx) CollectionStats(coll string) (CollectionStats, error) {
	cat, err := tx.catalog(coll)
	if err != nil {
		return CollectionStats{}, err
	}

	var result CollectionStats
	if data := tx.stx.Bucket(cat.entry.Tree, dataBucket); data != nil {
		bs := data.Stats()
		result.Docs = bs.KeyN
		result.DataSize = bs.LeafInuse
		result.DataAlloc = bs.TotalAlloc()
	}
	for _, idx := range cat.indexes {
		b, err := tx.indexBucket(cat, idx)
		if err != nil {
			return result, err
		}
		bs := b.Stats()
		result.IndexEntries += bs.KeyN
		result.IndexSize += bs.LeafInuse
		result.IndexAlloc += bs.TotalAlloc()
	}
	return result, nil
}

func (db *DB) CollectionStats(coll string) (cs CollectionStats, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		cs, err = tx.CollectionStats(coll)
		return err
	})
	return
}

// loggableDoc renders a document as relaxed Extended JSON for logs and dumps.
func loggableDoc(doc bson.Raw) string {
	if doc == nil {
		return "<none>"
	}
	js, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "<invalid: " + err.Error() + ">"
	}
	return string(js)
}
