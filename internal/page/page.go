// Package page implements the fixed-size byte frame and pool allocator
// strategies that back every tuple-fifo in the core.
//
// A Page is owned by exactly one Pool at a time; the pool that produced
// it is stored in the page itself so callers never need to remember
// which pool to return it to. Three Pool implementations are provided:
// a heap-backed pool (Malloc), an mmap-backed pool with deferred
// coalesced unmapping, and a Sentinel pool that hands out a single page
// that is simultaneously empty, full, and at EOF.
package page

import (
	"fmt"
)

// headerSize is the size, in bytes, of the bookkeeping Go struct fields
// conceptually prepended to every page's tuple storage. Unlike the
// source system (which packs this into the same byte buffer as the
// tuples), Go pages keep bookkeeping as struct fields and use a plain
// []byte slice purely for tuple storage; headerSize only matters for
// the page_size >= header + tuple_size invariant check.
const headerSize = 0

// Page is a fixed-size frame owned by a Pool, viewed as a flat byte
// buffer holding zero or more fixed-width tuples.
type Page struct {
	pool      Pool
	buf       []byte // capacity == pool.PageSize(); len grows as tuples append
	tupleSize int
	count     int
	readPos   int // byte offset of the next tuple to be read
	Next      *Page
}

// Pool allocates and frees Pages of a single fixed size.
type Pool interface {
	// Alloc returns a new Page initialized for tupleSize-byte tuples.
	Alloc(tupleSize int) (*Page, error)
	// Free returns a page to its owning pool. Pages must only be freed
	// to the pool that allocated them.
	Free(p *Page)
	// PageSize returns the fixed page size for this pool.
	PageSize() int
}

// newPage constructs a page of the given pool/page/tuple size. Shared by
// all three pool implementations.
func newPage(pool Pool, pageSize, tupleSize int) (*Page, error) {
	if pageSize < headerSize+tupleSize {
		return nil, fmt.Errorf("page: page_size %d smaller than tuple_size %d", pageSize, tupleSize)
	}
	return &Page{
		pool:      pool,
		buf:       make([]byte, 0, pageSize),
		tupleSize: tupleSize,
	}, nil
}

// Capacity returns the maximum number of tuples this page can hold.
func (p *Page) Capacity() int {
	if p.tupleSize == 0 {
		return 0
	}
	return cap(p.buf) / p.tupleSize
}

// Count returns the number of tuples currently appended.
func (p *Page) Count() int { return p.count }

// TupleSize returns the fixed tuple width this page was allocated for.
func (p *Page) TupleSize() int { return p.tupleSize }

// Full reports whether appending another tuple would exceed capacity.
func (p *Page) Full() bool {
	return len(p.buf)+p.tupleSize > cap(p.buf)
}

// Empty reports whether the page holds zero tuples.
func (p *Page) Empty() bool { return p.count == 0 }

// Append copies tuple into the page. The caller must check Full() first;
// Append panics on overflow since that is a contract violation, not a
// runtime condition operators are expected to recover from.
func (p *Page) Append(tuple []byte) {
	if len(tuple) != p.tupleSize {
		panic(fmt.Sprintf("page: tuple size %d does not match page tuple size %d", len(tuple), p.tupleSize))
	}
	if p.Full() {
		panic("page: Append called on a full page")
	}
	p.buf = append(p.buf, tuple...)
	p.count++
}

// Clear resets the page to empty without releasing its backing buffer,
// so it can be reused (e.g. hash-join's spilled-partition tail page).
func (p *Page) Clear() {
	p.buf = p.buf[:0]
	p.count = 0
	p.readPos = 0
}

// Reinit resizes the page for a new tuple size, clearing its contents.
// Used by hash-join when a spilled right-side partition's page is
// reinitialized to hold left-side tuples.
func (p *Page) Reinit(tupleSize int) {
	p.tupleSize = tupleSize
	p.buf = p.buf[:0]
	p.count = 0
	p.readPos = 0
}

// Pool returns the owning pool, so operators never need to remember
// which pool a page came from.
func (p *Page) Pool() Pool { return p.pool }

// Bytes returns the raw packed bytes of the page (header-free; the Go
// rendering stores bookkeeping out of band). Used by hash-join to write
// whole-page images to its spill files.
func (p *Page) Bytes() []byte { return p.buf }

// SetBytes replaces the page's contents wholesale (used when reading a
// page image back from a file) and recomputes the tuple count.
func (p *Page) SetBytes(buf []byte, tupleSize int) {
	p.tupleSize = tupleSize
	p.buf = buf
	p.count = len(buf) / tupleSize
	p.readPos = 0
}

// Begin resets the read cursor to the first tuple.
func (p *Page) Begin() { p.readPos = 0 }

// AtEnd reports whether the read cursor has consumed every tuple.
func (p *Page) AtEnd() bool { return p.readPos >= len(p.buf) }

// Page.Next is the intrusive page-list pointer; nothing in this module
// links pages through it.

// ReadNext returns the next tuple under the read cursor and advances it.
// Returns false if the cursor is already at end.
func (p *Page) ReadNext() ([]byte, bool) {
	if p.AtEnd() {
		return nil, false
	}
	t := p.buf[p.readPos : p.readPos+p.tupleSize]
	p.readPos += p.tupleSize
	return t, true
}

// Tuples returns every tuple in the page in order, without touching the
// read cursor. Used by hash-join's in-memory build phase.
func (p *Page) Tuples() [][]byte {
	out := make([][]byte, 0, p.count)
	for off := 0; off+p.tupleSize <= len(p.buf); off += p.tupleSize {
		out = append(out, p.buf[off:off+p.tupleSize])
	}
	return out
}
