package sort

import (
	"encoding/binary"
	"io"

	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

// source is "the next tuple, if any", letting the merge step run
// identically over live child fifos (the generic Merge operator) and
// over spilled, already-sorted run files (Sort's own internal merge
// phase).
type source interface {
	next() (stage.Tuple, bool, error)
	close() error
}

// fifoSource adapts a packet's output fifo to source; close is a no-op
// since the fifo's lifetime is owned by its producing packet.
type fifoSource struct {
	f *fifo.TupleFifo
}

func (s fifoSource) next() (stage.Tuple, bool, error) { return s.f.GetTuple() }
func (fifoSource) close() error                       { return nil }

// fileSource reads a length-prefixed tuple stream back from a spilled
// run file, one tuple at a time, so the merge phase never needs an
// entire run resident in memory.
type fileSource struct {
	r    io.ReadCloser
	hdr  [4]byte
	done bool
}

func newFileSource(r io.ReadCloser) *fileSource {
	return &fileSource{r: r}
}

func (s *fileSource) next() (stage.Tuple, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if _, err := io.ReadFull(s.r, s.hdr[:]); err != nil {
		if err == io.EOF {
			s.done = true
			return nil, false, nil
		}
		return nil, false, err
	}
	n := binary.LittleEndian.Uint32(s.hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, false, err
	}
	return buf, true, nil
}

func (s *fileSource) close() error { return s.r.Close() }

func writeTuple(w io.Writer, t []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(t)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(t)
	return err
}
