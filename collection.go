package edoc

import (
	"slices"
	"strings"
	"time"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// CollectionOptions configure a new collection.
type CollectionOptions struct {
	// Validator is a JSON Schema (as a BSON-encodable value) that every
	// inserted or updated document must satisfy.
	Validator any

	// Metadata is an arbitrary document stored in the schema entry.
	Metadata any
}

func validateCollectionName(name string) error {
	if name == "" {
		return argErrf("collection name is empty")
	}
	if strings.HasPrefix(name, "__") {
		return collErrf(InvalidArgument, name, "", nil, "collection names starting with __ are reserved")
	}
	if strings.ContainsRune(name, 0) {
		return collErrf(InvalidArgument, name, "", nil, "collection name contains NUL")
	}
	return nil
}

func (tx *Tx) CreateCollection(name string, opts CollectionOptions) (err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("create_collection", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return err
	}
	if err := validateCollectionName(name); err != nil {
		return err
	}
	existing, err := tx.lookupCatalog(name)
	if err != nil {
		return err
	}
	if existing != nil {
		return collErrf(AlreadyExists, name, "", nil, "collection already exists")
	}

	se := newSchemaEntry(name, time.Now())
	if opts.Validator != nil {
		v, err := rawDoc(opts.Validator)
		if err != nil {
			return collErrf(InvalidArgument, name, "", err, "validator")
		}
		if _, err := compileValidator(v); err != nil {
			return collErrf(InvalidArgument, name, "", err, "bad validator")
		}
		se.Options.Validator = v
	}
	if opts.Metadata != nil {
		md, err := rawDoc(opts.Metadata)
		if err != nil {
			return collErrf(InvalidArgument, name, "", err, "metadata")
		}
		se.Metadata = md
	}

	if _, err := tx.stx.CreateBucket(se.Tree, dataBucket); err != nil {
		return storageErr(name, err, "create collection")
	}
	if _, err := tx.saveCatalog(&catalog{entry: se}, true); err != nil {
		return err
	}
	if tx.db.verbose {
		tx.db.log.Debug("db: CREATE", zap.String("collection", name))
	}
	return nil
}

// DropCollection removes a collection with all its documents and indexes.
func (tx *Tx) DropCollection(name string) (err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("drop_collection", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return err
	}
	cat, err := tx.catalog(name)
	if err != nil {
		return err
	}
	if err := tx.stx.DeleteBucket(cat.entry.Tree, ""); err != nil && err != ErrBucketNotFound {
		return storageErr(name, err, "drop collection")
	}
	sb := tx.stx.Bucket(schemaBucket, "")
	if sb == nil {
		return collErrf(StorageFailure, name, "", nil, "schema bucket is missing")
	}
	if err := sb.Delete([]byte(name)); err != nil {
		return storageErr(name, err, "drop schema entry")
	}
	tx.forgetCatalog(name)
	if tx.db.verbose {
		tx.db.log.Debug("db: DROP", zap.String("collection", name))
	}
	return nil
}

// CollectionNames lists existing collections in name order.
func (tx *Tx) CollectionNames() ([]string, error) {
	if err := tx.requireOpen(); err != nil {
		return nil, err
	}
	return tx.collectionNames(), nil
}

// schemaEntry decodes the current schema entry straight from the
// transaction's snapshot. Cached catalogs can carry a stale doc_count, so
// anything that reports it reads it from here.
func (tx *Tx) schemaEntry(name string) (*SchemaEntry, error) {
	if err := tx.requireOpen(); err != nil {
		return nil, err
	}
	if tx.writable {
		cat, err := tx.catalog(name)
		if err != nil {
			return nil, err
		}
		return cat.entry, nil
	}
	sb := tx.stx.Bucket(schemaBucket, "")
	var data []byte
	if sb != nil {
		data = sb.Get([]byte(name))
	}
	if data == nil {
		return nil, collErrf(NotFound, name, "", nil, "no such collection")
	}
	se, err := decodeSchemaEntry(data)
	if err != nil {
		return nil, storageErr(name, err, "schema entry")
	}
	return se, nil
}

// CollectionInfo returns a copy of the collection's schema entry.
func (tx *Tx) CollectionInfo(name string) (*SchemaEntry, error) {
	se, err := tx.schemaEntry(name)
	if err != nil {
		return nil, err
	}
	c := *se
	c.Indexes = slices.Clone(se.Indexes)
	c.Metadata = bson.Raw(cloneBytes(se.Metadata))
	c.Options.Validator = bson.Raw(cloneBytes(se.Options.Validator))
	return &c, nil
}

// SetMetadata replaces the metadata document of a collection.
func (tx *Tx) SetMetadata(name string, metadata any) (err error) {
	if err := tx.requireWritable(); err != nil {
		return err
	}
	cat, err := tx.catalog(name)
	if err != nil {
		return err
	}
	md, err := rawDoc(metadata)
	if err != nil {
		return collErrf(InvalidArgument, name, "", err, "metadata")
	}
	cat.entry.Metadata = md
	cat.entry.ModifiedAt = time.Now()
	_, err = tx.saveCatalog(cat, false)
	return err
}

// adjustCount applies delta to the collection's doc_count, clamping at zero.
func (tx *Tx) adjustCount(cat *catalog, delta int64) (*catalog, error) {
	n := cat.entry.DocCount + delta
	if n < 0 {
		tx.db.log.Warn("db: doc_count went negative", zap.String("collection", cat.name()), zap.Int64("count", n))
		n = 0
	}
	cat.entry.DocCount = n
	cat.entry.ModifiedAt = time.Now()
	return tx.saveCatalog(cat, false)
}

// CreateIndex adds an index and fills it from the existing documents. If
// the documents violate a unique index, nothing is left behind.
func (tx *Tx) CreateIndex(coll string, spec IndexSpec) (err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("create_index", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return err
	}
	if err := validateIndexSpec(coll, spec); err != nil {
		return err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return err
	}
	if _, ie := cat.entry.index(spec.Name); ie != nil {
		return collErrf(AlreadyExists, coll, spec.Name, nil, "index already exists")
	}

	ie := indexEntryFor(spec)
	if _, err := tx.stx.CreateBucket(cat.entry.Tree, ie.Tree); err != nil {
		return storageErr(coll, err, "create index %s", spec.Name)
	}
	cat.entry.Indexes = append(cat.entry.Indexes, ie)
	cat.entry.ModifiedAt = time.Now()
	cat, err = tx.saveCatalog(cat, true)
	if err != nil {
		return err
	}

	if err := tx.populateIndex(cat, cat.index(spec.Name)); err != nil {
		return tx.undoCreateIndex(cat, spec.Name, err)
	}
	if tx.db.verbose {
		tx.db.log.Debug("db: CREATE INDEX", zap.String("collection", coll), zap.String("index", spec.Name))
	}
	return nil
}

func (tx *Tx) undoCreateIndex(cat *catalog, name string, cause error) error {
	if err := tx.dropIndex(cat, name); err != nil {
		return storageErr(cat.name(), err, "undo index %s after: %v", name, cause)
	}
	return cause
}

func (tx *Tx) DropIndex(coll, name string) (err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("drop_index", start, err) }()

	if err := tx.requireWritable(); err != nil {
		return err
	}
	cat, err := tx.catalog(coll)
	if err != nil {
		return err
	}
	if err := tx.dropIndex(cat, name); err != nil {
		return err
	}
	if tx.db.verbose {
		tx.db.log.Debug("db: DROP INDEX", zap.String("collection", coll), zap.String("index", name))
	}
	return nil
}

func (tx *Tx) dropIndex(cat *catalog, name string) error {
	i, ie := cat.entry.index(name)
	if ie == nil {
		return collErrf(NotFound, cat.name(), name, nil, "no such index")
	}
	if err := tx.stx.DeleteBucket(cat.entry.Tree, ie.Tree); err != nil && err != ErrBucketNotFound {
		return storageErr(cat.name(), err, "drop index %s", name)
	}
	cat.entry.Indexes = slices.Delete(cat.entry.Indexes, i, i+1)
	cat.entry.ModifiedAt = time.Now()
	_, err := tx.saveCatalog(cat, true)
	return err
}

// Indexes returns the collection's index specs in declaration order.
func (tx *Tx) Indexes(coll string) ([]IndexSpec, error) {
	cat, err := tx.catalog(coll)
	if err != nil {
		return nil, err
	}
	specs := make([]IndexSpec, len(cat.indexes))
	for i, idx := range cat.indexes {
		specs[i] = idx.spec
		specs[i].Keys = slices.Clone(idx.spec.Keys)
	}
	return specs, nil
}

// Count returns the number of documents matching filter. An empty filter
// is answered from the stored document count.
func (tx *Tx) Count(coll string, filter any) (n int64, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("count", start, err) }()

	f, err := query.Compile(filter)
	if err != nil {
		return 0, queryErr(coll, err)
	}
	if f.IsEmpty() {
		se, err := tx.schemaEntry(coll)
		if err != nil {
			return 0, err
		}
		return se.DocCount, nil
	}

	c, err := tx.find(coll, f, borrowedTxn{tx})
	if err != nil {
		return 0, err
	}
	defer c.Close()
	for c.Next() {
		n++
	}
	return n, c.Err()
}

func (db *DB) CreateCollection(name string, opts CollectionOptions) error {
	return db.Tx(true, func(tx *Tx) error {
		return tx.CreateCollection(name, opts)
	})
}

func (db *DB) DropCollection(name string) error {
	return db.Tx(true, func(tx *Tx) error {
		return tx.DropCollection(name)
	})
}

func (db *DB) CollectionNames() (names []string, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		names, err = tx.CollectionNames()
		return err
	})
	return
}

func (db *DB) CollectionInfo(name string) (se *SchemaEntry, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		se, err = tx.CollectionInfo(name)
		return err
	})
	return
}

func (db *DB) SetMetadata(name string, metadata any) error {
	return db.Tx(true, func(tx *Tx) error {
		return tx.SetMetadata(name, metadata)
	})
}

func (db *DB) CreateIndex(coll string, spec IndexSpec) error {
	return db.Tx(true, func(tx *Tx) error {
		return tx.CreateIndex(coll, spec)
	})
}

func (db *DB) DropIndex(coll, name string) error {
	return db.Tx(true, func(tx *Tx) error {
		return tx.DropIndex(coll, name)
	})
}

func (db *DB) Indexes(coll string) (specs []IndexSpec, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		specs, err = tx.Indexes(coll)
		return err
	})
	return
}

func (db *DB) Count(coll string, filter any) (n int64, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		n, err = tx.Count(coll, filter)
		return err
	})
	return
}
