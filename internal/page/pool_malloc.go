package page

// MallocPool is a thin wrapper over ordinary heap allocation. It is the
// default pool for operators that don't need mmap's coalesced-unmap
// behavior (most of them: anything that isn't expected to churn through
// thousands of pages per query).
type MallocPool struct {
	pageSize int
}

// NewMallocPool returns a pool that allocates pageSize-byte pages on the
// Go heap.
func NewMallocPool(pageSize int) *MallocPool {
	return &MallocPool{pageSize: pageSize}
}

func (m *MallocPool) Alloc(tupleSize int) (*Page, error) {
	return newPage(m, m.pageSize, tupleSize)
}

func (m *MallocPool) Free(p *Page) {
	// Nothing to do: the Go garbage collector reclaims the backing
	// array once the last reference drops. Free exists so callers can
	// treat every Pool uniformly regardless of strategy.
}

func (m *MallocPool) PageSize() int { return m.pageSize }
