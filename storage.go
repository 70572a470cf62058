package edoc

import "errors"

// ErrBucketNotFound is returned by storageTx.DeleteBucket when the bucket doesn't exist.
var ErrBucketNotFound = errors.New("bucket not found")

// storage is an ordered transactional key-value store (Bolt or in-memory).
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns a bucket. Use sub="" for a root bucket, non-empty for a nested bucket.
	// Returns nil if the bucket doesn't exist.
	Bucket(name, sub string) storageBucket

	// CreateBucket creates a bucket if it doesn't exist, creating the root
	// bucket as needed.
	CreateBucket(name, sub string) (storageBucket, error)

	// DeleteBucket deletes a nested bucket, or a root bucket with all of its
	// nested buckets when sub is empty.
	DeleteBucket(name, sub string) error

	Commit() error

	// Rollback aborts the transaction. It is safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket is a sorted key-value tree.
type storageBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor

	// Stats returns storage-specific bucket statistics.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket.
type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key that has the given prefix or sorts before it.
	SeekLast(prefix []byte) (key, value []byte)

	Next() (key, value []byte)
	Prev() (key, value []byte)
}
