package edoc

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const trackTxns = true

// DB is an open database. It is safe for concurrent use; writers are
// serialized by the store, readers see a snapshot as of their transaction
// start.
type DB struct {
	store    storage
	log      *zap.Logger
	sugar    *zap.SugaredLogger
	verbose  bool
	strict   bool
	readOnly bool
	opt      Options
	metrics  *metrics

	// epoch is incremented twice around every commit that changes a
	// catalog, so it is odd while such a commit is in flight.
	epoch    atomic.Uint64
	catalogs *lru.Cache[string, *catalog]

	lastSize           atomic.Int64
	ReaderCount        atomic.Int64
	WriterCount        atomic.Int64
	PendingWriterCount atomic.Int64
	ReadCount          atomic.Uint64
	WriteCount         atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

// Open opens (creating if needed) the database file at path. With
// Options.InMemory the path is ignored and the data lives only as long as
// the DB.
func Open(path string, opt Options) (*DB, error) {
	opt.setDefaults()

	var store storage
	if opt.InMemory {
		store = newMemStorage()
	} else {
		bs, err := openBoltStorage(path, &opt)
		if err != nil {
			return nil, storageErr("", err, "open %s", path)
		}
		store = bs
	}

	cache, err := lru.New[string, *catalog](opt.CatalogCacheSize)
	if err != nil {
		store.Close()
		return nil, argErrf("catalog cache: %v", err)
	}

	db := &DB{
		store:    store,
		log:      opt.Logger,
		sugar:    opt.Logger.Sugar(),
		verbose:  opt.Verbose,
		strict:   opt.IsTesting,
		readOnly: opt.ReadOnly,
		opt:      opt,
		metrics:  newMetrics(opt.Registerer),
		catalogs: cache,
	}
	db.epoch.Store(2)

	if !opt.ReadOnly {
		err := db.Tx(true, func(tx *Tx) error {
			_, err := tx.stx.CreateBucket(schemaBucket, "")
			return err
		})
		if err != nil {
			store.Close()
			return nil, storageErr("", err, "initialize")
		}
	}

	db.log.Debug("db: opened", zap.String("path", path), zap.Bool("in_memory", opt.InMemory), zap.Bool("read_only", opt.ReadOnly))
	return db, nil
}

func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) Logger() *zap.Logger {
	return db.log
}

// logf writes a verbose-mode trace line.
func (db *DB) logf(format string, args ...any) {
	db.sugar.Debugf(format, args...)
}

func (db *DB) Close() error {
	db.catalogs.Purge()
	if err := db.store.Close(); err != nil {
		return storageErr("", err, "close")
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	found := slices.Index(db.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(db.txns)
	db.txns[found] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

// DescribeOpenTxns lists open transactions with the stacks that opened
// them; useful for hunting leaked cursors.
func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms\n", ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms:\n%s", ms, tx.stack)
		}
	}

	return buf.String()
}
