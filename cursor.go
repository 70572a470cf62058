package edoc

import (
	"slices"

	"github.com/andreyvit/edoc/query"
	"go.mongodb.org/mongo-driver/bson"
)

// txnBinding ties a cursor to the transaction it reads from.
type txnBinding interface {
	txn() *Tx
	release() error
	bindingKind() string
}

// ownedTxn is a read transaction opened for the cursor alone. Closing the
// cursor rolls it back.
type ownedTxn struct{ tx *Tx }

func (b ownedTxn) txn() *Tx            { return b.tx }
func (b ownedTxn) release() error      { return b.tx.Close() }
func (b ownedTxn) bindingKind() string { return "owned" }

// borrowedTxn is the caller's transaction; the caller ends it.
type borrowedTxn struct{ tx *Tx }

func (b borrowedTxn) txn() *Tx            { return b.tx }
func (b borrowedTxn) release() error      { return nil }
func (b borrowedTxn) bindingKind() string { return "borrowed" }

type cursorState int

const (
	cursorCreated cursorState = iota
	cursorActive
	cursorExhausted
)

// Cursor iterates over the documents matching a query. Options can only be
// set before the first call to Next. Always Close a cursor; for cursors
// returned by DB.Find this ends the underlying read transaction.
type Cursor struct {
	binding txnBinding
	cat     *catalog
	filter  *query.Filter
	plan    plan

	state cursorState
	skip  int
	limit int
	sort  []KeyPart
	proj  *projection

	src      docSource
	sorted   bool
	buffered []bson.Raw
	pos      int

	skipped  int
	returned int
	doc      bson.Raw
	id       bson.RawValue
	err      error
	closed   bool
}

func newCursor(binding txnBinding, cat *catalog, f *query.Filter) *Cursor {
	return &Cursor{
		binding: binding,
		cat:     cat,
		filter:  f,
		plan:    planQuery(cat, f),
	}
}

func (c *Cursor) requireCreated(what string) error {
	if c.state != cursorCreated {
		return collErrf(InvalidArgument, c.cat.name(), "", nil, "cannot set %s after iteration started", what)
	}
	return nil
}

// SetSkip makes the cursor drop the first n matching documents.
func (c *Cursor) SetSkip(n int) error {
	if err := c.requireCreated("skip"); err != nil {
		return err
	}
	if n < 0 {
		return collErrf(InvalidArgument, c.cat.name(), "", nil, "negative skip %d", n)
	}
	c.skip = n
	return nil
}

// SetLimit caps the number of returned documents; 0 means no limit.
func (c *Cursor) SetLimit(n int) error {
	if err := c.requireCreated("limit"); err != nil {
		return err
	}
	if n < 0 {
		return collErrf(InvalidArgument, c.cat.name(), "", nil, "negative limit %d", n)
	}
	c.limit = n
	return nil
}

// SetSort orders the results by the given fields. Skip and limit apply
// after sorting.
func (c *Cursor) SetSort(keys ...KeyPart) error {
	if err := c.requireCreated("sort"); err != nil {
		return err
	}
	for _, kp := range keys {
		if kp.Field == "" {
			return collErrf(InvalidArgument, c.cat.name(), "", nil, "empty sort field")
		}
		if kp.Direction != 1 && kp.Direction != -1 {
			return collErrf(InvalidArgument, c.cat.name(), "", nil, "sort direction of %s must be 1 or -1", kp.Field)
		}
	}
	c.sort = slices.Clone(keys)
	return nil
}

// SetProjection restricts the fields of returned documents, e.g.
// bson.D{{"name", 1}, {"address.city", 1}} or bson.D{{"password", 0}}.
func (c *Cursor) SetProjection(spec any) error {
	if err := c.requireCreated("projection"); err != nil {
		return err
	}
	p, err := compileProjection(spec)
	if err != nil {
		return collErrf(InvalidArgument, c.cat.name(), "", err, "bad projection")
	}
	c.proj = p
	return nil
}

// Plan returns the access path the cursor uses.
func (c *Cursor) Plan() Plan {
	return c.plan.Plan
}

// Next advances to the next document. It returns false when the cursor is
// exhausted or has failed; check Err afterwards.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil || c.state == cursorExhausted {
		return false
	}
	if c.state == cursorCreated {
		c.state = cursorActive
		if err := c.start(); err != nil {
			c.fail(err)
			return false
		}
	}
	for {
		if c.limit > 0 && c.returned >= c.limit {
			c.exhaust()
			return false
		}
		doc, err := c.fetch()
		if err != nil {
			c.fail(err)
			return false
		}
		if doc == nil {
			c.exhaust()
			return false
		}
		if c.skipped < c.skip {
			c.skipped++
			continue
		}
		c.returned++
		c.id = docID(doc)
		if c.proj != nil {
			doc, err = c.proj.apply(doc)
			if err != nil {
				c.fail(collErrf(StorageFailure, c.cat.name(), "", err, "projection"))
				return false
			}
		}
		c.doc = doc
		return true
	}
}

func (c *Cursor) start() error {
	tx := c.binding.txn()
	if err := tx.requireOpen(); err != nil {
		return err
	}
	src, err := c.openSource(tx, c.sortedByID())
	if err != nil {
		return err
	}
	c.src = src
	if len(c.sort) == 0 || c.plan.Kind == PrimaryKeyLookup || c.sortedByID() != 0 {
		return nil
	}
	return c.bufferAndSort()
}

// sortedByID returns the direction of a sort on _id alone that a full scan
// can produce directly, or 0.
func (c *Cursor) sortedByID() int {
	if c.plan.Kind == FullScan && len(c.sort) == 1 && c.sort[0].Field == idField {
		return c.sort[0].Direction
	}
	return 0
}

func (c *Cursor) bufferAndSort() error {
	maxDocs := c.binding.txn().db.opt.MaxSortDocs
	for {
		doc, err := c.nextMatch()
		if err != nil {
			return err
		}
		if doc == nil {
			break
		}
		if len(c.buffered) >= maxDocs {
			c.buffered = nil
			return collErrf(InvalidArgument, c.cat.name(), "", nil, "sort needs more than %d documents in memory", maxDocs)
		}
		c.buffered = append(c.buffered, doc)
	}
	slices.SortStableFunc(c.buffered, func(a, b bson.Raw) int {
		return compareBySort(a, b, c.sort)
	})
	c.sorted = true
	return nil
}

func compareBySort(a, b bson.Raw, keys []KeyPart) int {
	for _, kp := range keys {
		av, _ := query.Lookup(a, kp.Field)
		bv, _ := query.Lookup(b, kp.Field)
		if r := query.Compare(av, bv); r != 0 {
			return r * kp.Direction
		}
	}
	return 0
}

func (c *Cursor) fetch() (bson.Raw, error) {
	if c.sorted {
		if c.pos >= len(c.buffered) {
			return nil, nil
		}
		doc := c.buffered[c.pos]
		c.pos++
		return doc, nil
	}
	return c.nextMatch()
}

// nextMatch returns the next document from the source that passes the
// filter, or nil at the end.
func (c *Cursor) nextMatch() (bson.Raw, error) {
	for {
		doc, err := c.src.next()
		if err != nil || doc == nil {
			return nil, err
		}
		if !c.plan.Residual || c.filter.Match(doc) {
			return doc, nil
		}
	}
}

func (c *Cursor) exhaust() {
	c.state = cursorExhausted
	c.doc = nil
	c.buffered = nil
	c.src = nil
}

func (c *Cursor) fail(err error) {
	c.err = err
	c.exhaust()
}

// Doc returns the current document. It stays valid until the cursor's
// transaction ends; copy it to keep it longer.
func (c *Cursor) Doc() bson.Raw {
	return c.doc
}

// ID returns the _id of the current document, even when projected away.
func (c *Cursor) ID() bson.RawValue {
	return c.id
}

// Decode unmarshals the current document into v.
func (c *Cursor) Decode(v any) error {
	if c.doc == nil {
		return collErrf(InvalidArgument, c.cat.name(), "", nil, "no current document")
	}
	if err := bson.Unmarshal(c.doc, v); err != nil {
		return collErrf(InvalidArgument, c.cat.name(), "", err, "decode document")
	}
	return nil
}

func (c *Cursor) Err() error {
	return c.err
}

// All reads the remaining documents, copying each, and closes the cursor.
func (c *Cursor) All() ([]bson.Raw, error) {
	var docs []bson.Raw
	for c.Next() {
		docs = append(docs, bson.Raw(cloneBytes(c.doc)))
	}
	err := c.Err()
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return docs, err
}

// Close releases the cursor. An owned transaction is rolled back. Close is
// idempotent.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.exhaust()
	return c.binding.release()
}
