package ops

import "github.com/SimonWaldherr/qflow/internal/stage"

// Aggregate groups its single child's tuples by Key and folds each
// group through Combine, emitting one tuple per group (via Emit) once
// the child reaches EOF. Grounded on the teacher's GROUP BY execution
// in exec.go (a map keyed by the grouping expression's string form,
// accumulated in input order, emitted once the source is exhausted);
// generalized here to an arbitrary accumulator type rather than the
// teacher's fixed SUM/COUNT/AVG aggregate set.
type Aggregate struct {
	Key     KeyFunc
	Zero    func() any
	Combine func(acc any, t stage.Tuple) any
	Emit    func(key string, acc any) (stage.Tuple, error)
}

func (Aggregate) Kind() string { return "aggregate" }

func (ag Aggregate) Run(a *stage.Adaptor) error {
	child, err := childFifo(a.Packet(), 0)
	if err != nil {
		return err
	}

	groups := make(map[string]any)
	var order []string

	err = pullAll(child, func(t stage.Tuple) error {
		k := ag.Key(t)
		acc, seen := groups[k]
		if !seen {
			acc = ag.Zero()
			order = append(order, k)
		}
		groups[k] = ag.Combine(acc, t)
		return nil
	})
	if err != nil {
		return err
	}

	for _, k := range order {
		out, err := ag.Emit(k, groups[k])
		if err != nil {
			return err
		}
		if err := a.Output(out); err != nil {
			return err
		}
	}
	return nil
}
