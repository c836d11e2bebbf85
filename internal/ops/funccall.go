package ops

import "github.com/SimonWaldherr/qflow/internal/stage"

// ProducerFunc generates output tuples directly against the adaptor;
// FuncCall invokes it once and returns whatever it returns.
type ProducerFunc func(a *stage.Adaptor) error

// FuncCall is a childless source operator: it invokes Produce with its
// own output adaptor and finishes. Grounded on the teacher's scalar
// function evaluation in exec.go (a callable producing rows without
// reading any), generalized to an arbitrary Go producer rather than an
// AST-interpreted expression list.
type FuncCall struct {
	Produce ProducerFunc
}

func (FuncCall) Kind() string { return "func-call" }

func (fc FuncCall) Run(a *stage.Adaptor) error {
	return fc.Produce(a)
}
