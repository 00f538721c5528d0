package state

import (
	"errors"
	"math/big"
	"testing"

	"trustescrow/storage"
)

type record struct {
	Name   string
	Amount *big.Int
	Seen   uint64
}

func TestUpdateCommitsWrites(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)

	err := mgr.Update(func(st Store) error {
		return st.KVPut([]byte("records/a"), &record{Name: "a", Amount: big.NewInt(42), Seen: 1})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var got record
	err = mgr.View(func(st Store) error {
		ok, err := st.KVGet([]byte("records/a"), &got)
		if err != nil {
			return err
		}
		if !ok {
			t.Fatalf("expected record to exist")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got.Name != "a" || got.Amount.Cmp(big.NewInt(42)) != 0 || got.Seen != 1 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestUpdateDiscardsWritesOnError(t *testing.T) {
	db := storage.NewMemDB()
	mgr := NewManager(db)
	if err := mgr.Update(func(st Store) error {
		return st.KVPut([]byte("records/a"), &record{Name: "before", Amount: big.NewInt(1)})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	before := db.Snapshot()

	boom := errors.New("boom")
	err := mgr.Update(func(st Store) error {
		if err := st.KVPut([]byte("records/a"), &record{Name: "after", Amount: big.NewInt(2)}); err != nil {
			return err
		}
		if err := st.KVPut([]byte("records/b"), &record{Name: "new", Amount: big.NewInt(3)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	after := db.Snapshot()
	if len(after) != len(before) {
		t.Fatalf("expected %d keys after abort, got %d", len(before), len(after))
	}
	for k, v := range before {
		if string(after[k]) != string(v) {
			t.Fatalf("key %x changed after aborted update", k)
		}
	}
}

func TestUpdateReadsOwnWrites(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.Update(func(st Store) error {
		if err := st.KVPut([]byte("counter"), uint64(7)); err != nil {
			return err
		}
		var v uint64
		ok, err := st.KVGet([]byte("counter"), &v)
		if err != nil {
			return err
		}
		if !ok || v != 7 {
			t.Fatalf("expected pending write to be visible, got ok=%v v=%d", ok, v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.View(func(st Store) error {
		return st.KVPut([]byte("k"), uint64(1))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestKVGetMissingKey(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	err := mgr.View(func(st Store) error {
		var v uint64
		ok, err := st.KVGet([]byte("absent"), &v)
		if err != nil {
			return err
		}
		if ok {
			t.Fatalf("expected missing key")
		}
		_, err = st.KVGet(nil, &v)
		if err == nil {
			t.Fatalf("expected error for empty key")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestManagerOverLevelDB(t *testing.T) {
	db, err := storage.NewMemLevelDB()
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	mgr := NewManager(db)
	if err := mgr.Update(func(st Store) error {
		return st.KVPut([]byte("k"), "v")
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	var got string
	if err := mgr.View(func(st Store) error {
		_, err := st.KVGet([]byte("k"), &got)
		return err
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if got != "v" {
		t.Fatalf("expected v, got %q", got)
	}
}
