package edoc

import (
	"bytes"
	"time"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
)

// UpdateByID applies an update document ($set, $unset, $inc, or a whole
// replacement) to the document with the given _id. It reports whether the
// document exists.
func (tx *Tx) UpdateByID(coll string, id any, update any) (found bool, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("update", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return false, err
	}
	u, err := compileUpdate(update)
	if err != nil {
		return false, err
	}
	return tx.updateByID(coll, id, u)
}

// ReplaceByID replaces the document with the given _id, keeping the _id.
func (tx *Tx) ReplaceByID(coll string, id any, doc any) (found bool, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("replace", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return false, err
	}
	raw, err := rawDoc(doc)
	if err != nil {
		return false, err
	}
	return tx.updateByID(coll, id, &updater{replacement: raw})
}

func (tx *Tx) updateByID(coll string, id any, u *updater) (bool, error) {
	idv, err := idValue(id)
	if err != nil {
		return false, err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return false, err
	}
	return tx.update(cat, primaryKey(idv), u)
}

// UpdateMany applies update to every document matching filter and returns
// the number of matched documents.
func (tx *Tx) UpdateMany(coll string, filter any, update any) (n int, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("update_many", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return 0, err
	}
	u, err := compileUpdate(update)
	if err != nil {
		return 0, err
	}
	pks, err := tx.collectPKs(coll, filter)
	if err != nil {
		return 0, err
	}
	defer releasePKList(pks)

	cat, err := tx.catalog(coll)
	if err != nil {
		return 0, err
	}
	for _, pk := range pks {
		found, err := tx.update(cat, pk, u)
		if err != nil {
			return n, err
		}
		if found {
			n++
		}
	}
	return n, nil
}

func (tx *Tx) update(cat *catalog, pk []byte, u *updater) (bool, error) {
	data := tx.stx.Bucket(cat.entry.Tree, dataBucket)
	if data == nil {
		return false, nil
	}
	cur := data.Get(pk)
	if cur == nil {
		return false, nil
	}
	oldDoc := bson.Raw(cloneBytes(cur))
	id := docID(oldDoc)

	newDoc, err := u.apply(oldDoc)
	if err != nil {
		return true, storageErr(cat.name(), withCollection(err, cat.name()), "update")
	}
	if bytes.Equal(newDoc, oldDoc) {
		if tx.db.verbose {
			tx.db.logf("db: UPDATE.NOOP %s/%v", cat.name(), id)
		}
		return true, nil
	}
	if err := cat.validateDoc(newDoc); err != nil {
		return true, err
	}
	if err := tx.checkUniqueAll(cat, pk, newDoc); err != nil {
		return true, err
	}

	if err := data.Put(pk, newDoc); err != nil {
		return true, storageErr(cat.name(), err, "update")
	}
	if err := tx.updateIndexEntries(cat, pk, oldDoc, newDoc); err != nil {
		return true, err
	}
	tx.markWritten()
	if tx.db.verbose {
		tx.db.logf("db: UPDATE %s/%v => %s", cat.name(), id, loggableDoc(newDoc))
	}
	tx.notify(cat.name(), OpUpdate, id, newDoc, oldDoc)
	return true, nil
}

// collectPKs returns the primary keys of the documents matching filter.
// Writes must not run while a cursor walks the same buckets, so
// multi-document writes gather keys first.
func (tx *Tx) collectPKs(coll string, filter any) ([][]byte, error) {
	f, err := query.Compile(filter)
	if err != nil {
		return nil, queryErr(coll, err)
	}
	c, err := tx.find(coll, f, borrowedTxn{tx})
	if err != nil {
		return nil, err
	}
	defer c.Close()

	pks := pkListPool.Get().([][]byte)
	for c.Next() {
		pks = append(pks, primaryKey(c.ID()))
	}
	if err := c.Err(); err != nil {
		releasePKList(pks)
		return nil, err
	}
	return pks, nil
}

// withCollection fills in the collection of an argument error.
func withCollection(err error, coll string) error {
	if e, ok := err.(*Error); ok && e.Collection == "" {
		e.Collection = coll
	}
	return err
}

func (db *DB) UpdateByID(coll string, id any, update any) (found bool, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		found, err = tx.UpdateByID(coll, id, update)
		return err
	})
	return
}

func (db *DB) ReplaceByID(coll string, id any, doc any) (found bool, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		found, err = tx.ReplaceByID(coll, id, doc)
		return err
	})
	return
}

func (db *DB) UpdateMany(coll string, filter any, update any) (n int, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		n, err = tx.UpdateMany(coll, filter, update)
		return err
	})
	return
}
