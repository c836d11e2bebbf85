package page

import "sync"

// sentinelPage is a single Page, shared process-wide, whose read cursor
// always equals its write cursor: it is simultaneously empty, full, and
// at EOF. It is used as a tuple-fifo's initial read page and as the
// replacement read page after every get_page(), eliminating the need to
// special-case "no page yet" throughout the fifo.
//
// A capacity-zero buffer makes Full()/Empty()/AtEnd() all true by
// construction: Full() because len(buf)+tupleSize always exceeds
// cap(buf)==0; Empty() because count is always zero (Append always
// panics, and nothing ever calls it on the sentinel); AtEnd() because
// readPos (0) >= len(buf) (0).
var sentinelOnce sync.Once
var sentinelPage *Page

func sentinelSingleton() *Page {
	sentinelOnce.Do(func() {
		sentinelPage = &Page{
			pool:      SentinelPool{},
			buf:       make([]byte, 0, 0),
			tupleSize: 1,
		}
	})
	return sentinelPage
}

// SentinelPool always hands out the same sentinel page. Free is a
// no-op: the sentinel is never actually released.
type SentinelPool struct{}

func (SentinelPool) Alloc(tupleSize int) (*Page, error) {
	return sentinelSingleton(), nil
}

func (SentinelPool) Free(p *Page) {
	// no-op by design
}

func (SentinelPool) PageSize() int { return 0 }

// Sentinel returns the process-wide sentinel page.
func Sentinel() *Page { return sentinelSingleton() }

// IsSentinel reports whether p is the sentinel page.
func IsSentinel(p *Page) bool { return p == sentinelSingleton() }
