package ops

import "github.com/SimonWaldherr/qflow/internal/stage"

// Echo copies its single child page-at-a-time to its output unchanged.
// It is the simplest possible body, grounded on the teacher's
// pass-through projection path (exec.go's identity SELECT *). Echo does
// not implement stage.Mergeable, so no other packet can attach to a
// running Echo as a follower.
type Echo struct{}

func (Echo) Kind() string { return "echo" }

func (Echo) Run(a *stage.Adaptor) error {
	child, err := childFifo(a.Packet(), 0)
	if err != nil {
		return err
	}
	for {
		p, err := child.GetPage()
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}
		if err := a.OutputPage(p); err != nil {
			return err
		}
	}
}
