package edoc

import (
	"bytes"
	"errors"
	"unsafe"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func openBoltStorage(path string, opt *Options) (*boltStorage, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	bopt.ReadOnly = opt.ReadOnly
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) Bucket(name, sub string) storageBucket {
	root := tx.btx.Bucket(unsafeBytesFromString(name))
	if root == nil {
		return nil
	}
	if sub == "" {
		return boltBucket{b: root}
	}
	leaf := root.Bucket(unsafeBytesFromString(sub))
	if leaf == nil {
		return nil
	}
	return boltBucket{b: leaf}
}

func (tx *boltStorageTx) CreateBucket(name, sub string) (storageBucket, error) {
	root, err := tx.btx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return boltBucket{b: root}, nil
	}
	leaf, err := root.CreateBucketIfNotExists([]byte(sub))
	if err != nil {
		return nil, err
	}
	return boltBucket{b: leaf}, nil
}

func (tx *boltStorageTx) DeleteBucket(name, sub string) error {
	var err error
	if sub == "" {
		err = tx.btx.DeleteBucket(unsafeBytesFromString(name))
	} else {
		root := tx.btx.Bucket(unsafeBytesFromString(name))
		if root == nil {
			return ErrBucketNotFound
		}
		err = root.DeleteBucket(unsafeBytesFromString(sub))
	}
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return ErrBucketNotFound
	}
	return err
}

func (tx *boltStorageTx) Commit() error { return tx.btx.Commit() }

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if errors.Is(err, bbolt.ErrTxClosed) {
		return nil
	}
	return err
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse + s.InlineBucketInuse),
		LeafAlloc:   int64(s.LeafAlloc + s.InlineBucketInuse),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) First() ([]byte, []byte) { return c.c.First() }

func (c boltCursor) Last() ([]byte, []byte) { return c.c.Last() }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.c.Seek(seek) }

func (c boltCursor) SeekLast(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.c.Last()
	}

	limit := append([]byte(nil), prefix...)
	if inc(limit) {
		k, _ := c.c.Seek(limit)
		if k == nil {
			return c.c.Last()
		}
		return c.c.Prev()
	}

	// All-0xFF prefix: fall back to linear scan.
	k, _ := c.c.Seek(prefix)
	for k != nil && bytes.HasPrefix(k, prefix) {
		k, _ = c.c.Next()
	}
	if k == nil {
		return c.c.Last()
	}
	return c.c.Prev()
}

func (c boltCursor) Next() ([]byte, []byte) { return c.c.Next() }

func (c boltCursor) Prev() ([]byte, []byte) { return c.c.Prev() }

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
