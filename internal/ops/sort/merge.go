package sort

import "github.com/SimonWaldherr/qflow/internal/stage"

// KeyFunc extracts the ordering key from a tuple.
type KeyFunc func(stage.Tuple) string

// head is one active input's current front tuple, kept in an
// insertion-sorted slice ordered by key so the smallest head is always
// at index 0. Ported from the reference merge.cpp's "sorted list of
// runs, always merge from the front" scheme, generalized from a fixed
// array of open run files to an arbitrary slice of sources (child
// fifos for the generic Merge operator, or run files for Sort's
// internal merge phase).
type head struct {
	src source
	cur stage.Tuple
	key string
}

// mergeSources performs a k-way merge of srcs, each assumed already
// sorted by key, writing the merged order to emit. It maintains an
// insertion-sorted slice of active heads rather than a heap: for the
// small fan-ins a single merge level handles (bounded by
// MaxConcurrentMerges upstream), a linear insertion is simpler than a
// heap and the reference implementation does the same.
func mergeSources(key KeyFunc, srcs []source, emit func(stage.Tuple) error) error {
	heads := make([]*head, 0, len(srcs))
	for _, s := range srcs {
		h, err := pullHead(key, s)
		if err != nil {
			return err
		}
		if h != nil {
			heads = insertSorted(heads, h)
		}
	}

	for len(heads) > 0 {
		h := heads[0]
		if err := emit(h.cur); err != nil {
			return err
		}
		heads = heads[1:]

		next, err := pullHead(key, h.src)
		if err != nil {
			return err
		}
		if next != nil {
			heads = insertSorted(heads, next)
		}
	}
	return nil
}

func pullHead(key KeyFunc, s source) (*head, error) {
	t, ok, err := s.next()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &head{src: s, cur: t, key: key(t)}, nil
}

func insertSorted(heads []*head, h *head) []*head {
	i := 0
	for i < len(heads) && heads[i].key <= h.key {
		i++
	}
	heads = append(heads, nil)
	copy(heads[i+1:], heads[i:])
	heads[i] = h
	return heads
}

// Merge is a generic stage.Body that k-way merges its children's
// output fifos, each of which must already be sorted by Key. It is
// exposed standalone (not only as Sort's internal merge phase) since
// the reference engine runs MERGE as its own independent stage, used
// whenever several already-ordered streams need combining without a
// fresh sort (e.g. merging partitioned sort outputs from a prior
// stage).
type Merge struct {
	Key KeyFunc
}

func (Merge) Kind() string { return "merge" }

func (m Merge) Run(a *stage.Adaptor) error {
	p := a.Packet()
	srcs := make([]source, len(p.Children))
	for i, c := range p.Children {
		srcs[i] = fifoSource{f: c.Output}
	}
	return mergeSources(m.Key, srcs, a.Output)
}
