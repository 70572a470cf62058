package edoc

import (
	"bytes"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

const reindexLogInterval = 100_000

// Index buckets hold one entry per (key, document) pair: the bucket key is
// the index key followed by the primary key, the value is the primary key.
// Removing a single pair is therefore a point delete, and all documents with
// a given key are the entries prefixed by it.

func indexEntryKey(key, pk []byte) []byte {
	out := make([]byte, 0, len(key)+len(pk))
	out = append(out, key...)
	return append(out, pk...)
}

func (tx *Tx) indexBucket(cat *catalog, idx *index) (storageBucket, error) {
	b := tx.stx.Bucket(cat.entry.Tree, idx.tree)
	if b == nil {
		return nil, collErrf(StorageFailure, cat.name(), idx.name(), nil, "index bucket is missing")
	}
	return b, nil
}

func (tx *Tx) extractKey(idx *index, doc bson.Raw) ([]byte, bool) {
	buf := keyBytesPool.Get().([]byte)
	key, ok := idx.extractor.ExtractKey(buf[:0], doc)
	if !ok {
		keyBytesPool.Put(key[:0])
		return nil, false
	}
	return key, true
}

func releaseKey(key []byte) {
	if key != nil {
		keyBytesPool.Put(key[:0])
	}
}

// checkUnique fails if any document other than pk holds key.
func (tx *Tx) checkUnique(cat *catalog, idx *index, b storageBucket, key, pk []byte, doc bson.Raw) error {
	c := b.Cursor()
	for k, v := c.Seek(key); k != nil && bytes.HasPrefix(k, key); k, v = c.Next() {
		if !bytes.Equal(v, pk) {
			tx.db.metrics.uniqueViolations.Inc()
			err := collErrf(UniqueViolation, cat.name(), idx.name(), nil, "duplicate key")
			err.Key = idx.describeKey(doc, key)
			return err
		}
	}
	return nil
}

func (tx *Tx) putIndexEntry(cat *catalog, idx *index, b storageBucket, key, pk []byte, doc bson.Raw) error {
	if idx.spec.Unique {
		if err := tx.checkUnique(cat, idx, b, key, pk, doc); err != nil {
			return err
		}
	}
	if err := b.Put(indexEntryKey(key, pk), pk); err != nil {
		return storageErr(cat.name(), err, "index %s: put", idx.name())
	}
	return nil
}

// insertIndexEntries adds the entries of a new document to every index.
func (tx *Tx) insertIndexEntries(cat *catalog, pk []byte, doc bson.Raw) error {
	for _, idx := range cat.indexes {
		key, ok := tx.extractKey(idx, doc)
		if !ok {
			continue
		}
		b, err := tx.indexBucket(cat, idx)
		if err == nil {
			err = tx.putIndexEntry(cat, idx, b, key, pk, doc)
		}
		releaseKey(key)
		if err != nil {
			return err
		}
	}
	return nil
}

// updateIndexEntries moves the entries of a document whose keys changed.
func (tx *Tx) updateIndexEntries(cat *catalog, pk []byte, oldDoc, newDoc bson.Raw) error {
	for _, idx := range cat.indexes {
		if err := tx.updateIndexEntry(cat, idx, pk, oldDoc, newDoc); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) updateIndexEntry(cat *catalog, idx *index, pk []byte, oldDoc, newDoc bson.Raw) error {
	oldKey, oldOK := tx.extractKey(idx, oldDoc)
	defer releaseKey(oldKey)
	newKey, newOK := tx.extractKey(idx, newDoc)
	defer releaseKey(newKey)

	if oldOK == newOK && bytes.Equal(oldKey, newKey) {
		return nil
	}
	b, err := tx.indexBucket(cat, idx)
	if err != nil {
		return err
	}
	if oldOK {
		if err := tx.deleteIndexEntry(cat, idx, b, oldKey, pk); err != nil {
			return err
		}
	}
	if newOK {
		return tx.putIndexEntry(cat, idx, b, newKey, pk, newDoc)
	}
	return nil
}

// deleteIndexEntry removes one entry. In strict (testing) mode a missing
// entry means the index has drifted from the data and is reported.
func (tx *Tx) deleteIndexEntry(cat *catalog, idx *index, b storageBucket, key, pk []byte) error {
	k := indexEntryKey(key, pk)
	if tx.db.strict && b.Get(k) == nil {
		err := collErrf(StorageFailure, cat.name(), idx.name(), nil, "index entry is missing")
		err.Key = hexstr(k)
		return err
	}
	if err := b.Delete(k); err != nil {
		return storageErr(cat.name(), err, "index %s: delete", idx.name())
	}
	return nil
}

// deleteIndexEntries removes the entries of a deleted document.
func (tx *Tx) deleteIndexEntries(cat *catalog, pk []byte, doc bson.Raw) error {
	for _, idx := range cat.indexes {
		key, ok := tx.extractKey(idx, doc)
		if !ok {
			continue
		}
		b, err := tx.indexBucket(cat, idx)
		if err == nil {
			err = tx.deleteIndexEntry(cat, idx, b, key, pk)
		}
		releaseKey(key)
		if err != nil {
			return err
		}
	}
	return nil
}

// populateIndex fills a freshly created index from the primary tree.
func (tx *Tx) populateIndex(cat *catalog, idx *index) error {
	data := tx.stx.Bucket(cat.entry.Tree, dataBucket)
	if data == nil {
		return nil
	}
	b, err := tx.indexBucket(cat, idx)
	if err != nil {
		return err
	}

	var n int
	c := data.Cursor()
	for pk, v := c.First(); pk != nil; pk, v = c.Next() {
		doc := bson.Raw(v)
		key, ok := tx.extractKey(idx, doc)
		if !ok {
			continue
		}
		err := tx.putIndexEntry(cat, idx, b, key, pk, doc)
		releaseKey(key)
		if err != nil {
			return err
		}
		n++
		if n%reindexLogInterval == 0 {
			tx.db.log.Info("db: indexing", zap.String("collection", cat.name()), zap.String("index", idx.name()), zap.Int("entries", n))
		}
	}
	if tx.db.verbose {
		tx.db.log.Debug("db: INDEXED", zap.String("collection", cat.name()), zap.String("index", idx.name()), zap.Int("entries", n))
	}
	return nil
}
