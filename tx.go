package edoc

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Tx is a read or write transaction. A Tx is not safe for concurrent use.
type Tx struct {
	db       *DB
	stx      storageTx
	managed  bool
	writable bool
	closed   bool

	written    bool
	structural bool

	// catalogEpoch is the catalog epoch the snapshot was taken at, or zero
	// when the snapshot cannot be tied to one (shared cache bypassed).
	catalogEpoch uint64
	catalogs     map[string]*catalog

	memo map[string]any

	changeHandler func(chg *Change)

	startTime time.Time
	stack     []byte
}

func (db *DB) beginTx(writable, managed bool) (*Tx, error) {
	if writable {
		db.PendingWriterCount.Add(1)
		defer db.PendingWriterCount.Add(-1)
	}

	epoch := db.epoch.Load()
	stx, err := db.store.BeginTx(writable)
	if err != nil {
		return nil, storageErr("", err, "begin transaction")
	}
	if epoch&1 != 0 || db.epoch.Load() != epoch {
		epoch = 0
	}

	tx := &Tx{
		db:           db,
		stx:          stx,
		managed:      managed,
		writable:     writable,
		catalogEpoch: epoch,
		startTime:    time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	if writable {
		db.WriterCount.Add(1)
		db.WriteCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
		db.ReadCount.Add(1)
	}
	return tx, nil
}

// Tx runs f inside a transaction. A writable transaction is committed if f
// returns nil and rolled back otherwise; a panic inside f is turned into an
// error and rolls back as well.
func (db *DB) Tx(writable bool, f func(tx *Tx) error) error {
	tx, err := db.beginTx(writable, true)
	if err != nil {
		return err
	}
	defer tx.Close()

	err = safelyCall(f, tx)
	if err != nil || !writable {
		return err
	}
	return tx.commit()
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// Read runs f in a read transaction and panics on storage errors; handy in
// tests and in code that treats storage failure as fatal.
func (db *DB) Read(f func(tx *Tx)) {
	tx, err := db.BeginRead()
	if err != nil {
		panic(err)
	}
	defer tx.Close()
	f(tx)
}

// Write runs f in a write transaction and commits it, panicking on failure.
func (db *DB) Write(f func(tx *Tx)) {
	tx, err := db.BeginUpdate()
	if err != nil {
		panic(err)
	}
	defer tx.Close()
	f(tx)
	if err := tx.Commit(); err != nil {
		panic(fmt.Errorf("commit: %w", err))
	}
}

// BeginRead starts a read transaction that the caller must Close.
func (db *DB) BeginRead() (*Tx, error) {
	return db.beginTx(false, false)
}

// BeginUpdate starts a write transaction that the caller must Commit or Close.
func (db *DB) BeginUpdate() (*Tx, error) {
	if db.readOnly {
		return nil, argErrf("database is open read-only")
	}
	return db.beginTx(true, false)
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.writable
}

// OnChange installs a handler that observes every mutation made through tx.
func (tx *Tx) OnChange(f func(chg *Change)) {
	tx.changeHandler = f
}

func (tx *Tx) requireWritable() error {
	if tx.closed {
		return argErrf("transaction is closed")
	}
	if !tx.writable {
		return argErrf("transaction is read-only")
	}
	return nil
}

func (tx *Tx) requireOpen() error {
	if tx.closed {
		return argErrf("transaction is closed")
	}
	return nil
}

func (tx *Tx) markWritten() {
	tx.written = true
}

// markStructural records a catalog change that readers with cached
// catalogs must not miss.
func (tx *Tx) markStructural() {
	tx.written = true
	tx.structural = true
}

// Commit commits a write transaction. For read transactions it is the same
// as Close. Transactions run by DB.Tx are committed by DB.Tx.
func (tx *Tx) Commit() error {
	if tx.managed {
		return argErrf("cannot commit a managed transaction")
	}
	return tx.commit()
}

func (tx *Tx) commit() error {
	if tx.closed {
		return argErrf("transaction is closed")
	}
	if !tx.writable {
		return tx.Close()
	}

	size := tx.stx.Size()
	var err error
	if tx.structural {
		tx.db.epoch.Add(1) // odd: readers bypass the catalog cache
		err = tx.stx.Commit()
		tx.db.epoch.Add(1)
		tx.db.invalidateCatalogs(tx.catalogs)
	} else {
		err = tx.stx.Commit()
	}
	if err == nil {
		tx.db.lastSize.Store(size)
	}
	tx.finish()
	if err != nil {
		return storageErr("", err, "commit")
	}
	return nil
}

// Close rolls back the transaction unless it has been committed. It is safe
// to call Close more than once.
func (tx *Tx) Close() error {
	if tx.closed {
		return nil
	}
	err := tx.stx.Rollback()
	if tx.written && tx.db.verbose {
		tx.db.log.Debug("db: ROLLBACK", zap.Duration("elapsed", time.Since(tx.startTime)))
	}
	tx.finish()
	return storageErr("", err, "rollback")
}

func (tx *Tx) finish() {
	tx.closed = true
	if trackTxns {
		tx.db.removeTx(tx)
	}
	if tx.writable {
		tx.db.WriterCount.Add(-1)
	} else {
		tx.db.ReaderCount.Add(-1)
	}
}

// closeAll closes tx and joins the error with err.
func (tx *Tx) closeAll(err error) error {
	return multierr.Append(err, tx.Close())
}

func (tx *Tx) GetMemo(key string) (any, bool) {
	v, found := tx.memo[key]
	return v, found
}

// Memo caches the result of f for the lifetime of the transaction.
func (tx *Tx) Memo(key string, f func() (any, error)) (any, error) {
	v, found := tx.memo[key]
	if found {
		if e, ok := v.(error); ok {
			return nil, e
		}
		return v, nil
	}

	if tx.memo == nil {
		tx.memo = make(map[string]any)
	}

	v, err := f()
	if err != nil {
		tx.memo[key] = err
	} else {
		tx.memo[key] = v
	}
	return v, err
}

func Memo[T any](tx *Tx, key string, f func() (T, error)) (T, error) {
	v, err := tx.Memo(key, func() (any, error) {
		return f()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
