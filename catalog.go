package edoc

import (
	"github.com/xeipuuv/gojsonschema"
)

// catalog is the compiled form of a SchemaEntry. Catalogs held by the DB
// cache are shared between read transactions and must not be mutated; write
// transactions always build their own from the transaction's snapshot.
type catalog struct {
	entry     *SchemaEntry
	indexes   []*index
	validator *gojsonschema.Schema
	epoch     uint64
}

func (db *DB) compileCatalog(se *SchemaEntry, epoch uint64) (*catalog, error) {
	cat := &catalog{entry: se, epoch: epoch}
	for i := range se.Indexes {
		ie := &se.Indexes[i]
		spec, err := ie.spec()
		if err != nil {
			return nil, err
		}
		cat.indexes = append(cat.indexes, db.newIndex(se.Name, spec, ie.Tree))
	}
	if len(se.Options.Validator) > 0 {
		v, err := compileValidator(se.Options.Validator)
		if err != nil {
			return nil, collErrf(InvalidArgument, se.Name, "", err, "bad validator")
		}
		cat.validator = v
	}
	return cat, nil
}

func (cat *catalog) name() string {
	return cat.entry.Name
}

func (cat *catalog) index(name string) *index {
	for _, idx := range cat.indexes {
		if idx.spec.Name == name {
			return idx
		}
	}
	return nil
}

// catalog returns the catalog of the named collection, or a NotFound error.
func (tx *Tx) catalog(name string) (*catalog, error) {
	cat, err := tx.lookupCatalog(name)
	if err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, collErrf(NotFound, name, "", nil, "no such collection")
	}
	return cat, nil
}

// lookupCatalog returns nil if the collection does not exist.
func (tx *Tx) lookupCatalog(name string) (*catalog, error) {
	if err := tx.requireOpen(); err != nil {
		return nil, err
	}
	if cat, ok := tx.catalogs[name]; ok {
		return cat, nil
	}

	useCache := !tx.writable && tx.catalogEpoch != 0
	if useCache {
		if cat, ok := tx.db.catalogs.Get(name); ok && cat.epoch == tx.catalogEpoch {
			tx.rememberCatalog(name, cat)
			return cat, nil
		}
	}

	sb := tx.stx.Bucket(schemaBucket, "")
	if sb == nil {
		return nil, nil
	}
	data := sb.Get([]byte(name))
	if data == nil {
		tx.rememberCatalog(name, nil)
		return nil, nil
	}
	se, err := decodeSchemaEntry(data)
	if err != nil {
		return nil, storageErr(name, err, "schema entry")
	}
	cat, err := tx.db.compileCatalog(se, tx.catalogEpoch)
	if err != nil {
		return nil, err
	}
	if useCache {
		tx.db.catalogs.Add(name, cat)
	}
	tx.rememberCatalog(name, cat)
	return cat, nil
}

func (tx *Tx) rememberCatalog(name string, cat *catalog) {
	if tx.catalogs == nil {
		tx.catalogs = make(map[string]*catalog)
	}
	tx.catalogs[name] = cat
}

// saveCatalog persists cat's schema entry. A structural change also
// recompiles the transaction-local catalog.
func (tx *Tx) saveCatalog(cat *catalog, structural bool) (*catalog, error) {
	name := cat.name()
	data, err := cat.entry.encode()
	if err != nil {
		return nil, collErrf(InvalidArgument, name, "", err, "encode schema entry")
	}
	sb, err := tx.stx.CreateBucket(schemaBucket, "")
	if err != nil {
		return nil, storageErr(name, err, "schema bucket")
	}
	if err := sb.Put([]byte(name), data); err != nil {
		return nil, storageErr(name, err, "save schema entry")
	}
	if structural {
		tx.markStructural()
		cat, err = tx.db.compileCatalog(cat.entry, 0)
		if err != nil {
			return nil, err
		}
	} else {
		tx.markWritten()
	}
	tx.rememberCatalog(name, cat)
	return cat, nil
}

func (tx *Tx) forgetCatalog(name string) {
	tx.markStructural()
	tx.rememberCatalog(name, nil)
}

func (db *DB) invalidateCatalogs(touched map[string]*catalog) {
	for name := range touched {
		db.catalogs.Remove(name)
	}
}

// collectionNames lists the collections in the schema bucket, in name order.
func (tx *Tx) collectionNames() []string {
	sb := tx.stx.Bucket(schemaBucket, "")
	if sb == nil {
		return nil
	}
	var names []string
	c := sb.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		names = append(names, string(k))
	}
	return names
}
