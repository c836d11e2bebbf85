package page

import "testing"

func TestMallocPoolAppendFull(t *testing.T) {
	pool := NewMallocPool(32)
	p, err := pool.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if p.Full() {
		t.Fatalf("fresh page should not be full")
	}
	for i := 0; i < 4; i++ {
		p.Append(make([]byte, 8))
	}
	if !p.Full() {
		t.Fatalf("page should be full after filling capacity")
	}
	if p.Count() != 4 {
		t.Fatalf("expected count 4, got %d", p.Count())
	}
}

func TestSentinelInvariants(t *testing.T) {
	s := Sentinel()
	if !s.Empty() {
		t.Fatalf("sentinel must be empty")
	}
	if !s.Full() {
		t.Fatalf("sentinel must be full")
	}
	if !s.AtEnd() {
		t.Fatalf("sentinel must report begin==end (AtEnd)")
	}
	if _, ok := s.ReadNext(); ok {
		t.Fatalf("sentinel must yield no tuples")
	}
}

func TestMmapPoolOutstandingBalances(t *testing.T) {
	pool := NewMmapPool(4096)
	var pages []*Page
	for i := 0; i < 500; i++ {
		p, err := pool.Alloc(8)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", i, err)
		}
		pages = append(pages, p)
	}
	if got := pool.Outstanding(); got != 500 {
		t.Fatalf("expected 500 outstanding, got %d", got)
	}
	for _, p := range pages {
		pool.Free(p)
	}
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("expected 0 outstanding after balanced free, got %d", got)
	}
}

func TestPageReinitForSpill(t *testing.T) {
	pool := NewMallocPool(4096)
	p, _ := pool.Alloc(4)
	p.Append([]byte{1, 2, 3, 4})
	p.Reinit(8)
	if p.TupleSize() != 8 {
		t.Fatalf("expected tuple size 8 after reinit")
	}
	if !p.Empty() {
		t.Fatalf("reinit should clear the page")
	}
}
