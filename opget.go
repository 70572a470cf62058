package edoc

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// FindByID returns the document with the given _id, or nil if there is
// none. The document is valid until tx ends.
func (tx *Tx) FindByID(coll string, id any) (doc bson.Raw, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("find_by_id", start, err) }()

	idv, err := idValue(id)
	if err != nil {
		return nil, err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return nil, err
	}
	doc = tx.getByPK(cat, primaryKey(idv))
	if tx.db.verbose {
		if doc != nil {
			tx.db.logf("db: GET %s/%v => %s", coll, idv, loggableDoc(doc))
		} else {
			tx.db.logf("db: GET.NOTFOUND %s/%v", coll, idv)
		}
	}
	return doc, nil
}

// Exists reports whether a document with the given _id exists.
func (tx *Tx) Exists(coll string, id any) (bool, error) {
	idv, err := idValue(id)
	if err != nil {
		return false, err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return false, err
	}
	found := tx.getByPK(cat, primaryKey(idv)) != nil
	if tx.db.verbose {
		if found {
			tx.db.logf("db: EXISTS.YES %s/%v", coll, idv)
		} else {
			tx.db.logf("db: EXISTS.NO %s/%v", coll, idv)
		}
	}
	return found, nil
}

func (tx *Tx) getByPK(cat *catalog, pk []byte) bson.Raw {
	data := tx.stx.Bucket(cat.entry.Tree, dataBucket)
	if data == nil {
		return nil
	}
	if v := data.Get(pk); v != nil {
		return bson.Raw(v)
	}
	return nil
}

// FindByID returns a copy of the document with the given _id, or nil.
func (db *DB) FindByID(coll string, id any) (doc bson.Raw, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		doc, err = tx.FindByID(coll, id)
		doc = bson.Raw(cloneBytes(doc))
		return err
	})
	return
}

func (db *DB) Exists(coll string, id any) (found bool, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		found, err = tx.Exists(coll, id)
		return err
	})
	return
}
