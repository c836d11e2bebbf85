package hashjoin

import (
	"fmt"
	"io"

	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/page"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

// source abstracts "the next tuple, if any" so the join algorithm can
// run identically over a live packet fifo (the top-level call) and over
// a spilled partition file reopened for a recursive join (deeper
// calls), without the recursive path needing the stage/fifo machinery
// at all.
type source interface {
	next() (stage.Tuple, bool, error)
}

// fifoSource adapts a packet's output fifo to source.
type fifoSource struct {
	f *fifo.TupleFifo
}

func (s fifoSource) next() (stage.Tuple, bool, error) { return s.f.GetTuple() }

// sliceSource replays an in-memory slice of tuples, used once a
// partition has been fully loaded from its spill file for a recursive
// join or the sort-merge fallback.
type sliceSource struct {
	tuples [][]byte
	pos    int
}

func (s *sliceSource) next() (stage.Tuple, bool, error) {
	if s.pos >= len(s.tuples) {
		return nil, false, nil
	}
	t := s.tuples[s.pos]
	s.pos++
	return t, true, nil
}

// writePageImage appends a page's packed tuple bytes to w. Grounded on
// the teacher's disk-backend page write (backend_disk.go writes whole
// row/page images rather than framing each record), adapted here since
// every tuple on one side of a partition shares the same fixed width,
// so no length prefix is needed to split them back out.
func writePageImage(w io.Writer, p *page.Page) error {
	_, err := w.Write(p.Bytes())
	return err
}

// readFixedTuples reads every tupleSize-byte record from r until EOF.
func readFixedTuples(r io.Reader, tupleSize int) ([][]byte, error) {
	var out [][]byte
	buf := make([]byte, tupleSize)
	for {
		n, err := io.ReadFull(r, buf)
		if err == io.EOF {
			return out, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("ops/hashjoin: truncated tuple (%d of %d bytes)", n, tupleSize)
		}
		if err != nil {
			return nil, err
		}
		t := make([]byte, tupleSize)
		copy(t, buf)
		out = append(out, t)
	}
}
