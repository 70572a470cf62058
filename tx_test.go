package edoc

import (
	"errors"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestTx_MemoCachesValueAndError(t *testing.T) {
	db := setup(t)

	db.Read(func(tx *Tx) {
		calls := 0
		v, err := tx.Memo("k", func() (any, error) {
			calls++
			return 42, nil
		})
		if err != nil || v.(int) != 42 || calls != 1 {
			t.Fatalf("Memo #1 = (%v, %v), calls=%d; wanted (42, nil), calls=1", v, err, calls)
		}
		v, err = tx.Memo("k", func() (any, error) {
			calls++
			return 777, nil
		})
		if err != nil || v.(int) != 42 || calls != 1 {
			t.Fatalf("Memo #2 = (%v, %v), calls=%d; wanted (42, nil), calls=1", v, err, calls)
		}

		calls = 0
		wantErr := errors.New("boom")
		v, err = tx.Memo("e", func() (any, error) {
			calls++
			return nil, wantErr
		})
		if err == nil || v != nil || calls != 1 {
			t.Fatalf("Memo err #1 = (%v, %v), calls=%d; wanted (nil, err), calls=1", v, err, calls)
		}
		v, err = tx.Memo("e", func() (any, error) {
			calls++
			return 1, nil
		})
		if err == nil || v != nil || calls != 1 {
			t.Fatalf("Memo err #2 = (%v, %v), calls=%d; wanted (nil, err), calls=1", v, err, calls)
		}
		if v, found := tx.GetMemo("k"); !found || v.(int) != 42 {
			t.Fatalf("GetMemo = (%v, %v), wanted (42, true)", v, found)
		}
	})

	db.Read(func(tx *Tx) {
		calls := 0
		v, err := Memo[int](tx, "typed", func() (int, error) {
			calls++
			return 7, nil
		})
		if err != nil || v != 7 || calls != 1 {
			t.Fatalf("Memo[int] #1 = (%v, %v), calls=%d; wanted (7, nil), calls=1", v, err, calls)
		}
		v, err = Memo[int](tx, "typed", func() (int, error) {
			calls++
			return 8, nil
		})
		if err != nil || v != 7 || calls != 1 {
			t.Fatalf("Memo[int] #2 = (%v, %v), calls=%d; wanted (7, nil), calls=1", v, err, calls)
		}
	})
}

func TestTx_BeginUpdateRollsBackOnClose(t *testing.T) {
	db := setup(t)
	ensure(db.CreateCollection("t", CollectionOptions{}))

	tx := must(db.BeginUpdate())
	must(tx.Insert("t", bson.D{{"_id", 1}}))
	ensure(tx.Close())
	ensure(tx.Close())

	isnil(t, must(db.FindByID("t", 1)))
	deepEqual(t, must(db.Count("t", nil)), int64(0))
}

func TestTx_BeginUpdateCommit(t *testing.T) {
	db := setup(t)
	ensure(db.CreateCollection("t", CollectionOptions{}))

	tx := must(db.BeginUpdate())
	must(tx.Insert("t", bson.D{{"_id", 1}}))
	ensure(tx.Commit())
	if err := tx.Commit(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("second Commit = %v, wanted ErrInvalidArgument", err)
	}
	ensure(tx.Close())

	isnonnil(t, must(db.FindByID("t", 1)))
	if _, err := tx.FindByID("t", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("FindByID on closed tx = %v, wanted ErrInvalidArgument", err)
	}
}

func TestDBTx_ErrorRollsBack(t *testing.T) {
	db := setup(t)
	ensure(db.CreateCollection("t", CollectionOptions{}))

	err := db.Tx(true, func(tx *Tx) error {
		must(tx.Insert("t", bson.D{{"_id", 1}}))
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("db.Tx err = %v, wanted boom", err)
	}
	isnil(t, must(db.FindByID("t", 1)))
}

func TestDBTx_ManagedCommitFails(t *testing.T) {
	db := setup(t)
	err := db.Tx(true, func(tx *Tx) error {
		return tx.Commit()
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("db.Tx err = %v, wanted ErrInvalidArgument", err)
	}
}

func TestDBTx_PanicBecomesError(t *testing.T) {
	db := setup(t)
	ensure(db.CreateCollection("t", CollectionOptions{}))

	err := db.Tx(true, func(tx *Tx) error {
		must(tx.Insert("t", bson.D{{"_id", 1}}))
		panic("boom")
	})
	if err == nil || !strings.Contains(err.Error(), "panic: boom") {
		t.Fatalf("db.Tx err = %v, wanted panic error", err)
	}
	isnil(t, must(db.FindByID("t", 1)))
	deepEqual(t, db.WriterCount.Load(), int64(0))
}

func TestTx_ReadOnlyRejectsWrites(t *testing.T) {
	db := setup(t)
	ensure(db.CreateCollection("t", CollectionOptions{}))

	db.Read(func(tx *Tx) {
		if tx.IsWritable() {
			t.Fatalf("read tx is writable")
		}
		if _, err := tx.Insert("t", bson.D{{"_id", 1}}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("Insert in read tx = %v, wanted ErrInvalidArgument", err)
		}
		if err := tx.CreateCollection("u", CollectionOptions{}); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("CreateCollection in read tx = %v, wanted ErrInvalidArgument", err)
		}
		if _, err := tx.DeleteByID("t", 1); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("DeleteByID in read tx = %v, wanted ErrInvalidArgument", err)
		}
	})
}

func TestDB_DescribeOpenTxns(t *testing.T) {
	db := setup(t)
	deepEqual(t, db.DescribeOpenTxns(), "NO OPEN TRANSACTIONS")
	tx := must(db.BeginRead())
	if s := db.DescribeOpenTxns(); !strings.HasPrefix(s, "1 OPEN TRANSACTIONS:") {
		t.Fatalf("DescribeOpenTxns = %q, wanted one transaction", s)
	}
	ensure(tx.Close())
	deepEqual(t, db.DescribeOpenTxns(), "NO OPEN TRANSACTIONS")
}
