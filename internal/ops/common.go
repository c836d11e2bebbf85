// Package ops implements the small shim operator bodies that plug into
// stage packets (aggregate, sieve, echo, func-call, fscan, fdump); the
// two stateful operators, hash-join and external sort, live in the
// hashjoin and sort subpackages. Every body here is grounded on the
// teacher's query-execution code (exec.go's operator dispatch, the
// storage backends' row encoding) generalized from row-oriented SQL
// execution to the flat, fixed-width tuple model the dataflow core
// uses throughout.
package ops

import (
	"fmt"

	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

// KeyFunc extracts a comparable key from a tuple, used by Aggregate to
// group records without needing to understand tuple layout itself (the
// hashjoin and sort packages declare their own KeyFunc types).
type KeyFunc func(stage.Tuple) string

// PredFunc is a boolean predicate over a tuple, used by Sieve.
type PredFunc func(stage.Tuple) bool

// pullAll drains every tuple from a child packet's output fifo into a
// body, or returns the first error/termination observed. Used by
// Aggregate (which needs the whole input before emitting anything) and
// by Sieve and FDump (which handle each tuple as it arrives).
func pullAll(f *fifo.TupleFifo, fn func(stage.Tuple) error) error {
	for {
		t, ok, err := f.GetTuple()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

// childFifo is a tiny convenience wrapper so operator bodies can refer
// to "my Nth child's output" without repeating bounds checks.
func childFifo(p *stage.Packet, i int) (*fifo.TupleFifo, error) {
	if i < 0 || i >= len(p.Children) {
		return nil, fmt.Errorf("ops: packet %s has no child %d", p, i)
	}
	return p.Children[i].Output, nil
}
