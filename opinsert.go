package edoc

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Insert adds a document to a collection and returns its _id, generating
// an ObjectID when the document has none.
//
// A document rejected by the validator or a unique index leaves the
// transaction unchanged.
func (tx *Tx) Insert(coll string, doc any) (id bson.RawValue, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("insert", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return bson.RawValue{}, err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return bson.RawValue{}, err
	}
	raw, err := rawDoc(doc)
	if err != nil {
		return bson.RawValue{}, err
	}
	raw, id, err = withID(raw)
	if err != nil {
		return bson.RawValue{}, err
	}
	return id, tx.insert(cat, id, raw)
}

func (tx *Tx) insert(cat *catalog, id bson.RawValue, doc bson.Raw) error {
	if err := cat.validateDoc(doc); err != nil {
		return err
	}
	data := tx.stx.Bucket(cat.entry.Tree, dataBucket)
	if data == nil {
		return collErrf(StorageFailure, cat.name(), "", nil, "data bucket is missing")
	}
	pk := primaryKey(id)
	if data.Get(pk) != nil {
		tx.db.metrics.uniqueViolations.Inc()
		return &Error{Kind: UniqueViolation, Collection: cat.name(), Index: idField, Key: id.String(), Msg: "duplicate _id"}
	}
	if err := tx.checkUniqueAll(cat, pk, doc); err != nil {
		return err
	}

	if err := data.Put(pk, doc); err != nil {
		return storageErr(cat.name(), err, "insert")
	}
	if err := tx.insertIndexEntries(cat, pk, doc); err != nil {
		return err
	}
	cat, err := tx.adjustCount(cat, 1)
	if err != nil {
		return err
	}
	if tx.db.verbose {
		tx.db.logf("db: INSERT %s/%v => %s", cat.name(), id, loggableDoc(doc))
	}
	tx.notify(cat.name(), OpInsert, id, doc, nil)
	return nil
}

// checkUniqueAll verifies every unique index before anything is written,
// so a violation leaves no partial changes behind.
func (tx *Tx) checkUniqueAll(cat *catalog, pk []byte, doc bson.Raw) error {
	for _, idx := range cat.indexes {
		if !idx.spec.Unique {
			continue
		}
		key, ok := tx.extractKey(idx, doc)
		if !ok {
			continue
		}
		b, err := tx.indexBucket(cat, idx)
		if err == nil {
			err = tx.checkUnique(cat, idx, b, key, pk, doc)
		}
		releaseKey(key)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertMany inserts documents in order, stopping at the first failure.
func (tx *Tx) InsertMany(coll string, docs []any) ([]bson.RawValue, error) {
	ids := make([]bson.RawValue, 0, len(docs))
	for _, doc := range docs {
		id, err := tx.Insert(coll, doc)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (db *DB) Insert(coll string, doc any) (id bson.RawValue, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		id, err = tx.Insert(coll, doc)
		return err
	})
	return
}

// InsertMany inserts all documents in one transaction; on failure none of
// them are stored.
func (db *DB) InsertMany(coll string, docs []any) (ids []bson.RawValue, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		ids, err = tx.InsertMany(coll, docs)
		return err
	})
	if err != nil {
		ids = nil
	}
	return
}
