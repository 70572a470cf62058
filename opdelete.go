package edoc

import (
	"time"
)

// DeleteByID removes the document with the given _id and reports whether
// it existed.
func (tx *Tx) DeleteByID(coll string, id any) (found bool, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("delete", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return false, err
	}
	idv, err := idValue(id)
	if err != nil {
		return false, err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return false, err
	}
	return tx.delete(cat, primaryKey(idv))
}

// DeleteMany removes every document matching filter and returns how many
// were removed.
func (tx *Tx) DeleteMany(coll string, filter any) (n int, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("delete_many", start, err) }()

	if err := tx.requireWritable(); err != nil {
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
		found, err := tx.delete(cat, pk)
		if err != nil {
			return n, err
		}
		if found {
			n++
		}
	}
	return n, nil
}

func (tx *Tx) delete(cat *catalog, pk []byte) (bool, error) {
	data := tx.stx.Bucket(cat.entry.Tree, dataBucket)
	if data == nil {
		return false, nil
	}
	cur := data.Get(pk)
	if cur == nil {
		if tx.db.verbose {
			tx.db.logf("db: DELETE.NOTFOUND %s/%s", cat.name(), hexstr(pk))
		}
		return false, nil
	}
	oldDoc := cloneBytes(cur)
	id := docID(oldDoc)

	if err := tx.deleteIndexEntries(cat, pk, oldDoc); err != nil {
		return true, err
	}
	if err := data.Delete(pk); err != nil {
		return true, storageErr(cat.name(), err, "delete")
	}
	if _, err := tx.adjustCount(cat, -1); err != nil {
		return true, err
	}
	if tx.db.verbose {
		tx.db.logf("db: DELETE %s/%v", cat.name(), id)
	}
	tx.notify(cat.name(), OpDelete, id, nil, oldDoc)
	return true, nil
}

func (db *DB) DeleteByID(coll string, id any) (found bool, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		found, err = tx.DeleteByID(coll, id)
		return err
	})
	return
}

func (db *DB) DeleteMany(coll string, filter any) (n int, err error) {
	err = db.Tx(true, func(tx *Tx) error {
		n, err = tx.DeleteMany(coll, filter)
		return err
	})
	return
}
