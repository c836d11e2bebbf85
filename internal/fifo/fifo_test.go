package fifo

import (
	"encoding/binary"
	"testing"

	"github.com/SimonWaldherr/qflow/internal/page"
)

func i32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func toI32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func TestEmptyFifo(t *testing.T) {
	pool := page.NewMallocPool(4096)
	f := New(pool, 4, 1, DefaultCapacity)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := f.SendEOF(); err != nil {
			t.Errorf("SendEOF: %v", err)
		}
	}()
	<-done

	_, ok, err := f.GetTuple()
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if ok {
		t.Fatalf("expected EOF on empty fifo")
	}
}

func TestSingleTupleFifo(t *testing.T) {
	pool := page.NewMallocPool(4096)
	f := New(pool, 4, 1, DefaultCapacity)

	go func() {
		if err := f.Append(i32(42)); err != nil {
			t.Errorf("Append: %v", err)
		}
		if err := f.SendEOF(); err != nil {
			t.Errorf("SendEOF: %v", err)
		}
	}()

	tup, ok, err := f.GetTuple()
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if !ok || toI32(tup) != 42 {
		t.Fatalf("expected [42], got ok=%v tup=%v", ok, tup)
	}

	_, ok, err = f.GetTuple()
	if err != nil {
		t.Fatalf("GetTuple 2: %v", err)
	}
	if ok {
		t.Fatalf("expected EOF after single tuple")
	}
}

func TestManyTuplesPreserveOrder(t *testing.T) {
	pool := page.NewMallocPool(256) // small pages to force multiple page publishes
	f := New(pool, 4, 1, DefaultCapacity)

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			if err := f.Append(i32(int32(i))); err != nil {
				t.Errorf("Append(%d): %v", i, err)
				return
			}
		}
		if err := f.SendEOF(); err != nil {
			t.Errorf("SendEOF: %v", err)
		}
	}()

	for i := 0; i < n; i++ {
		tup, ok, err := f.GetTuple()
		if err != nil {
			t.Fatalf("GetTuple(%d): %v", i, err)
		}
		if !ok {
			t.Fatalf("unexpected EOF at %d", i)
		}
		if got := toI32(tup); got != int32(i) {
			t.Fatalf("out of order: want %d got %d", i, got)
		}
	}
	if _, ok, _ := f.GetTuple(); ok {
		t.Fatalf("expected EOF after %d tuples", n)
	}
}

func TestTerminateUnblocksReader(t *testing.T) {
	pool := page.NewMallocPool(4096)
	f := New(pool, 1, 1, DefaultCapacity)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := f.GetTuple()
		errCh <- err
	}()

	if !f.Terminate(false) {
		t.Fatalf("Terminate should succeed before EOF")
	}

	err := <-errCh
	if err != ErrTerminatedBuffer {
		t.Fatalf("expected ErrTerminatedBuffer, got %v", err)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	pool := page.NewMallocPool(4096)
	f := New(pool, 4, 1, DefaultCapacity)

	if !f.Terminate(false) {
		t.Fatalf("first terminate should succeed")
	}
	if f.Terminate(true) {
		t.Fatalf("second terminate should report false")
	}
}

func TestGetPageRequiresBoundary(t *testing.T) {
	pool := page.NewMallocPool(4096)
	f := New(pool, 4, 1, DefaultCapacity)

	go func() {
		_ = f.Append(i32(1))
		_ = f.Append(i32(2))
		_ = f.SendEOF()
	}()

	// Consume one of two tuples so the read cursor sits mid-page.
	if _, ok, _ := f.GetTuple(); !ok {
		t.Fatalf("expected a tuple")
	}

	if _, err := f.GetPage(); err == nil {
		t.Fatalf("expected contract violation calling GetPage mid-page")
	}
}

func TestGetPageOnBoundary(t *testing.T) {
	pool := page.NewMallocPool(4096)
	f := New(pool, 4, 1, DefaultCapacity)

	go func() {
		_ = f.Append(i32(7))
		_ = f.SendEOF()
	}()

	p, err := f.GetPage()
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if p == nil || p.Count() != 1 {
		t.Fatalf("expected a 1-tuple page, got %v", p)
	}
}
