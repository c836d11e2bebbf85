package ops

import "github.com/SimonWaldherr/qflow/internal/stage"

// PassFunc is Sieve's per-tuple callback: given the adaptor and the
// next input tuple, it decides what (if anything) to emit. It may
// write zero, one, or several output tuples through a, and may hold
// state across calls (a running dedup set, a reservoir for top-k,
// a counter for a row limit).
type PassFunc func(a *stage.Adaptor, t stage.Tuple) error

// FlushFunc is Sieve's end-of-input callback, invoked once after the
// child reaches EOF so a stateful Pass can emit whatever it held back.
type FlushFunc func(a *stage.Adaptor) error

// Sieve invokes Pass for every input tuple and, at EOF, Flush.
// Grounded on the teacher's WHERE-clause evaluation in exec.go,
// generalized from a stateless AST predicate to the pass/flush shape
// so a Sieve body can implement either a plain filter or a stateful
// operator (dedup, limit, top-k) without changing its Kind.
type Sieve struct {
	Pass  PassFunc
	Flush FlushFunc // optional; nil means nothing to do at EOF
}

func (Sieve) Kind() string { return "sieve" }

func (s Sieve) Run(a *stage.Adaptor) error {
	child, err := childFifo(a.Packet(), 0)
	if err != nil {
		return err
	}
	if err := pullAll(child, func(t stage.Tuple) error {
		return s.Pass(a, t)
	}); err != nil {
		return err
	}
	if s.Flush == nil {
		return nil
	}
	return s.Flush(a)
}

// FilterPass adapts a stateless boolean predicate to PassFunc, for the
// common case of a Sieve that only ever drops or passes tuples
// unchanged.
func FilterPass(pred PredFunc) PassFunc {
	return func(a *stage.Adaptor, t stage.Tuple) error {
		if !pred(t) {
			return nil
		}
		return a.Output(t)
	}
}
