package edoc

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestRawRangeCursor_BoundsPrefixAndReverse(t *testing.T) {
	for name, s := range testStorages(t) {
		t.Run(name, func(t *testing.T) {
			wtx := must(s.BeginTx(true))
			buck := must(wtx.CreateBucket("b", ""))
			mustPut(t, buck, []byte{0x10, 0x01}, []byte("a"))
			mustPut(t, buck, []byte{0x10, 0x02}, []byte("b"))
			mustPut(t, buck, []byte{0x10, 0x03}, []byte("c"))
			mustPut(t, buck, []byte{0x11, 0x01}, []byte("x"))
			ensure(wtx.Commit())

			rtx := must(s.BeginTx(false))
			defer rtx.Rollback()
			rbuck := nonNil(rtx.Bucket("b", ""))
			logger := zap.NewNop()

			scan := func(r RawRange) []string {
				cur := r.newCursor(rbuck.Cursor(), logger)
				var got []string
				for cur.Next() {
					got = append(got, string(cur.Value()))
				}
				return got
			}

			deepEqual(t, scan(RawPrefix([]byte{0x10})), []string{"a", "b", "c"})
			deepEqual(t, scan(RawPrefix([]byte{0x10}).Reversed()), []string{"c", "b", "a"})
			deepEqual(t, scan(RawRange{}), []string{"a", "b", "c", "x"})
			deepEqual(t, scan(RawRange{Reverse: true}), []string{"x", "c", "b", "a"})
			deepEqual(t, scan(RawRange{Lower: []byte{0x10, 0x01}, LowerInc: false}), []string{"b", "c", "x"})
			deepEqual(t, scan(RawRange{Lower: []byte{0x10, 0x01}, LowerInc: true, Upper: []byte{0x10, 0x03}}), []string{"a", "b"})
			deepEqual(t, scan(RawRange{Upper: []byte{0x10, 0x03}, UpperInc: false, Reverse: true}), []string{"b", "a"})
			deepEqual(t, scan(RawRange{Upper: []byte{0x10, 0x03}, UpperInc: true, Reverse: true}), []string{"c", "b", "a"})
			deepEqual(t, scan(RawPrefix([]byte{0x12})), []string(nil))
			deepEqual(t, scan(RawPrefix([]byte{0x12}).Reversed()), []string(nil))
		})
	}
}

func TestRawRangeCursor_PrefixMismatchPanics(t *testing.T) {
	s := newMemStorage()
	wtx := must(s.BeginTx(true))
	buck := must(wtx.CreateBucket("b", ""))
	mustPut(t, buck, []byte{0x10}, []byte("a"))
	ensure(wtx.Commit())

	rtx := must(s.BeginTx(false))
	defer rtx.Rollback()
	rbuck := nonNil(rtx.Bucket("b", ""))
	logger := zap.NewNop()

	assertPanics(t, func() {
		cur := (&RawRange{Prefix: []byte{0x10}, Lower: []byte{0x11}, LowerInc: true}).newCursor(rbuck.Cursor(), logger)
		_ = cur.Next()
	})
	assertPanics(t, func() {
		cur := (&RawRange{Prefix: []byte{0x10}, Upper: []byte{0x11}, UpperInc: true, Reverse: true}).newCursor(rbuck.Cursor(), logger)
		_ = cur.Next()
	})
}

func testStorages(t *testing.T) map[string]storage {
	opt := Options{IsTesting: true}
	opt.setDefaults()
	bs := must(openBoltStorage(filepath.Join(t.TempDir(), "raw.db"), &opt))
	ms := newMemStorage()
	t.Cleanup(func() {
		bs.Close()
		ms.Close()
	})
	return map[string]storage{"bolt": bs, "mem": ms}
}

func mustPut(t *testing.T, buck storageBucket, k, v []byte) {
	t.Helper()
	ensure(buck.Put(k, v))
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func nonNil[T comparable](v T) T {
	var zero T
	if v == zero {
		panic("unexpected nil")
	}
	return v
}

func assertPanics(t testing.TB, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("** expected panic")
		}
	}()
	f()
}
