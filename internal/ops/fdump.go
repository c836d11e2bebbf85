package ops

import (
	"bufio"
	"io"

	"github.com/SimonWaldherr/qflow/internal/stage"
)

// FDump is a sink operator: it writes every tuple from its single
// child to Dst verbatim and produces no output of its own (it still
// exists as a packet so it participates in the normal dispatch/adaptor
// lifecycle). Grounded on the teacher's disk-backend row append path
// (backend_disk.go's sequential write loop), mirrored for the
// fixed-tuple-width output this core writes.
type FDump struct {
	Dst io.Writer
}

func (FDump) Kind() string { return "fdump" }

func (fd FDump) Run(a *stage.Adaptor) error {
	child, err := childFifo(a.Packet(), 0)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fd.Dst)
	err = pullAll(child, func(t stage.Tuple) error {
		_, werr := w.Write(t)
		return werr
	})
	if err != nil {
		return err
	}
	return w.Flush()
}
