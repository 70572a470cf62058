package edoc

import (
	"time"

	"github.com/andreyvit/edoc/query"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
)

// docSource yields candidate documents for a cursor; nil means the end.
type docSource interface {
	next() (bson.Raw, error)
}

type emptySource struct{}

func (emptySource) next() (bson.Raw, error) { return nil, nil }

type pointSource struct {
	data    storageBucket
	pk      []byte
	done    bool
	scanned prometheus.Counter
}

func (s *pointSource) next() (bson.Raw, error) {
	if s.done {
		return nil, nil
	}
	s.done = true
	v := s.data.Get(s.pk)
	if v == nil {
		return nil, nil
	}
	s.scanned.Inc()
	return bson.Raw(v), nil
}

// rangeSource walks a RawRange over either the data bucket (values are
// documents) or an index bucket (values are primary keys, resolved via data).
type rangeSource struct {
	rc      *RawRangeCursor
	data    storageBucket
	index   *index
	coll    string
	scanned prometheus.Counter
}

func (s *rangeSource) next() (bson.Raw, error) {
	if !s.rc.Next() {
		return nil, nil
	}
	s.scanned.Inc()
	if s.index == nil {
		return bson.Raw(s.rc.Value()), nil
	}
	pk := s.rc.Value()
	doc := s.data.Get(pk)
	if doc == nil {
		err := collErrf(StorageFailure, s.coll, s.index.name(), nil, "index entry points to a missing document")
		err.Key = hexstr(pk)
		return nil, err
	}
	return bson.Raw(doc), nil
}

// openSource opens the access path chosen by the plan. idDir orders a full
// scan by _id descending when negative.
func (c *Cursor) openSource(tx *Tx, idDir int) (docSource, error) {
	data := tx.stx.Bucket(c.cat.entry.Tree, dataBucket)
	if data == nil {
		return emptySource{}, nil
	}
	scanned := tx.db.metrics.scanned
	switch c.plan.Kind {
	case PrimaryKeyLookup:
		return &pointSource{
			data:    data,
			pk:      c.plan.key,
			scanned: scanned.WithLabelValues("primary_key"),
		}, nil
	case IndexScan:
		b, err := tx.indexBucket(c.cat, c.plan.index)
		if err != nil {
			return nil, err
		}
		rang := RawPrefix(c.plan.key)
		return &rangeSource{
			rc:      rang.newCursor(b.Cursor(), tx.db.log),
			data:    data,
			index:   c.plan.index,
			coll:    c.cat.name(),
			scanned: scanned.WithLabelValues("index"),
		}, nil
	default:
		rang := RawRange{Reverse: idDir < 0}
		return &rangeSource{
			rc:      rang.newCursor(data.Cursor(), tx.db.log),
			coll:    c.cat.name(),
			scanned: scanned.WithLabelValues("full_scan"),
		}, nil
	}
}

func (tx *Tx) find(coll string, f *query.Filter, binding txnBinding) (*Cursor, error) {
	cat, err := tx.catalog(coll)
	if err != nil {
		return nil, err
	}
	c := newCursor(binding, cat, f)
	if tx.db.verbose {
		tx.db.logf("db: FIND %s %v via %v", coll, f, c.plan.Plan)
	}
	return c, nil
}

// Find returns a cursor over the documents matching filter. The cursor
// reads within tx and must be closed before tx ends.
func (tx *Tx) Find(coll string, filter any) (c *Cursor, err error) {
	start := time.Now()
	defer func() { tx.db.metrics.observe("find", start, err) }()

	f, err := query.Compile(filter)
	if err != nil {
		return nil, queryErr(coll, err)
	}
	return tx.find(coll, f, borrowedTxn{tx})
}

// FindOne returns the first matching document in stored order, or nil.
func (tx *Tx) FindOne(coll string, filter any) (bson.Raw, error) {
	c, err := tx.Find(coll, filter)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	c.limit = 1
	if c.Next() {
		return c.Doc(), nil
	}
	return nil, c.Err()
}

// Find returns a cursor with its own read transaction, which lives until
// the cursor is closed.
func (db *DB) Find(coll string, filter any) (c *Cursor, err error) {
	start := time.Now()
	defer func() { db.metrics.observe("find", start, err) }()

	f, err := query.Compile(filter)
	if err != nil {
		return nil, queryErr(coll, err)
	}
	tx, err := db.BeginRead()
	if err != nil {
		return nil, err
	}
	c, err = tx.find(coll, f, ownedTxn{tx})
	if err != nil {
		return nil, tx.closeAll(err)
	}
	return c, nil
}

// FindOne returns a copy of the first matching document, or nil.
func (db *DB) FindOne(coll string, filter any) (doc bson.Raw, err error) {
	err = db.Tx(false, func(tx *Tx) error {
		doc, err = tx.FindOne(coll, filter)
		doc = bson.Raw(cloneBytes(doc))
		return err
	})
	return
}
