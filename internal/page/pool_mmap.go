package page

import (
	"fmt"
	"sync"
)

// mmapChunkBytes is the size of each anonymous mapping. 1008 KiB becomes
// exactly 1 MiB once the platform's mmap rounds up and adds guard
// pages, per the source system's chunking rationale.
const mmapChunkBytes = 1008 * 1024

// MmapPool allocates pages out of ~1 MiB anonymous mappings. Freed
// pages accumulate in a "free" region that is coalesced into a single
// munmap call instead of one syscall per page; outstanding allocations
// are tracked so the pool can unmap everything and self-destruct once
// nothing references it anymore (conceptually tying its lifetime to a
// single query).
type MmapPool struct {
	mu        sync.Mutex
	pageSize  int
	available   []byte // unsliced region still available for carving
	free        []byte // accumulated, contiguous, recently-freed region
	outstanding int

	// destroyed guards against use-after-self-destruct in tests; the
	// pool is otherwise expected to simply be dropped once outstanding
	// hits zero.
	destroyed bool
}

// NewMmapPool returns an mmap-backed pool for pageSize-byte pages.
func NewMmapPool(pageSize int) *MmapPool {
	return &MmapPool{pageSize: pageSize}
}

func (m *MmapPool) PageSize() int { return m.pageSize }

func (m *MmapPool) Alloc(tupleSize int) (*Page, error) {
	if m.pageSize < headerSize+tupleSize {
		return nil, fmt.Errorf("page: page_size %d smaller than tuple_size %d", m.pageSize, tupleSize)
	}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil, fmt.Errorf("page: Alloc on a self-destructed MmapPool")
	}

	if len(m.available) < m.pageSize {
		if len(m.free) > 0 {
			// Recycle recently freed memory; saves a munmap+mmap pair.
			m.available = m.free
			m.free = nil
		} else {
			chunk, err := mmapChunk(mmapChunkBytes)
			if err != nil {
				m.mu.Unlock()
				return nil, fmt.Errorf("page: mmap chunk: %w", err)
			}
			m.available = chunk
		}
	}

	buf := m.available[:m.pageSize]
	m.available = m.available[m.pageSize:]
	m.outstanding++
	m.mu.Unlock()

	p := &Page{
		pool:      m,
		buf:       buf[:0],
		tupleSize: tupleSize,
	}
	return p, nil
}

func (m *MmapPool) Free(p *Page) {
	m.mu.Lock()

	data := p.buf[:m.pageSize:cap(p.buf)]

	// Does this page extend the current free region? sameBackingArray
	// compares addresses: the page extends the region iff it starts
	// exactly where the region ends, which happens when the pages of one
	// chunk are released in the order they were allocated. Any other
	// free unmaps the old region and starts a new one at this page,
	// matching the reference unmap-then-start-new-sequence behavior.
	if !sameBackingArray(m.free, data) {
		if len(m.free) > 0 {
			_ = munmapChunk(m.free)
		}
		m.free = data
	} else {
		m.free = m.free[:len(m.free)+m.pageSize]
	}

	m.outstanding--
	selfDestruct := m.outstanding == 0
	m.mu.Unlock()

	if selfDestruct {
		m.destroy()
	}
}

// destroy unmaps every outstanding region. Called once outstanding
// drops to zero, mirroring the reference pool's self-destruct-on-last-
// free behavior.
func (m *MmapPool) destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	avail, free := m.available, m.free
	m.available, m.free = nil, nil
	m.mu.Unlock()

	_ = munmapChunk(avail)
	_ = munmapChunk(free)
}

// Outstanding reports the number of pages not yet freed. Exposed for
// tests asserting invariant 2 of §8 (balanced alloc/free -> zero
// outstanding).
func (m *MmapPool) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outstanding
}
