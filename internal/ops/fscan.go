package ops

import (
	"bufio"
	"fmt"
	"io"

	"github.com/SimonWaldherr/qflow/internal/page"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

// FScan is a source operator with no packet children: it reads
// fixed-width binary tuples from an io.Reader (a spilled partition or
// sort run reopened from disk) and feeds them to its output fifo one
// page at a time. Grounded on the teacher's disk-backend table scan
// (backend_disk.go's sequential page read loop over an os.File),
// narrowed here to the fixed-tuple-width records this core carries
// rather than the teacher's variable-length row format.
type FScan struct {
	Src       io.Reader
	TupleSize int
	PageSize  int
}

func (FScan) Kind() string { return "fscan" }

func (fs FScan) Run(a *stage.Adaptor) error {
	if fs.TupleSize <= 0 {
		return fmt.Errorf("ops: FScan requires a positive TupleSize")
	}
	pageSize := fs.PageSize
	if pageSize <= 0 {
		pageSize = 64 * 1024
	}
	pool := page.NewMallocPool(pageSize)

	r := bufio.NewReader(fs.Src)
	buf := make([]byte, fs.TupleSize)
	for {
		p, err := pool.Alloc(fs.TupleSize)
		if err != nil {
			return fmt.Errorf("ops: FScan alloc: %w", err)
		}
		for !p.Full() {
			n, rerr := io.ReadFull(r, buf)
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				if n > 0 {
					return fmt.Errorf("ops: FScan truncated tuple (%d of %d bytes)", n, fs.TupleSize)
				}
				if p.Empty() {
					return nil
				}
				return fs.flush(a, p)
			}
			if rerr != nil {
				return fmt.Errorf("ops: FScan read: %w", rerr)
			}
			p.Append(buf)
		}
		if err := fs.flush(a, p); err != nil {
			return err
		}
	}
}

func (FScan) flush(a *stage.Adaptor, p *page.Page) error {
	for _, t := range p.Tuples() {
		if err := a.Output(t); err != nil {
			return err
		}
	}
	return nil
}
