// Package stage implements the per-operator-kind stage container and
// global dispatcher: a fixed worker pool per operator kind, an
// opportunistic-sharing (OSP) merge table, and the packet lifecycle
// that ties a tree of operator packets to running goroutines.
//
// The worker-pool shape is adapted from the teacher's
// ConcurrencyManager/WorkerPool (channel-backed work queues, a
// context.Context-scoped worker loop, sync.WaitGroup shutdown drain),
// generalized from two fixed work types (read/write) to an arbitrary,
// dynamically registered set of operator kinds.
package stage

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/qflow/internal/fifo"
)

// Tuple is a flat, fixed-width byte record whose interpretation is
// private to operator bodies.
type Tuple = []byte

// FilterFunc is a packet's output filter: a projection+predicate
// callback applied to every tuple an operator body emits before it
// reaches that packet's own output fifo.
type FilterFunc func(Tuple) (Tuple, bool)

// Identity is the default filter: keep every tuple unchanged.
func Identity(t Tuple) (Tuple, bool) { return t, true }

// Body is the kind-specific behavior of a packet: the operator
// implementation that reads its children's fifos and writes to its
// adaptor.
type Body interface {
	// Kind names the operator (e.g. "hash-join", "sort", "merge").
	Kind() string
	// Run executes the operator to completion, writing through adaptor.
	// It must return promptly once any input fifo reports
	// fifo.ErrTerminatedBuffer.
	Run(a *Adaptor) error
}

// Mergeable is implemented by a Body that supports opportunistic
// sharing: Host bodies are asked whether a newcomer packet's stream can
// be served from the host's own computation.
type Mergeable interface {
	// CanMerge decides whether newcomer can be attached to this
	// (already-running) host body instead of being scheduled
	// separately.
	CanMerge(newcomer *Packet) bool
}

// Packet is the unit of work submitted to a container.
type Packet struct {
	ID       uuid.UUID
	Kind     string
	Output   *fifo.TupleFifo
	Filter   FilterFunc
	Children []*Packet
	Body     Body
}

// NewPacket constructs a packet. filter may be nil, in which case
// Identity is used.
func NewPacket(kind string, output *fifo.TupleFifo, filter FilterFunc, body Body, children ...*Packet) *Packet {
	if filter == nil {
		filter = Identity
	}
	return &Packet{
		ID:       uuid.New(),
		Kind:     kind,
		Output:   output,
		Filter:   filter,
		Children: children,
		Body:     body,
	}
}

// terminateChildren terminates every child packet's output fifo, used
// when a packet's own execution fails or is cancelled.
func (p *Packet) terminateChildren() {
	for _, c := range p.Children {
		c.Output.Terminate(true)
	}
}

// String renders a packet for log lines.
func (p *Packet) String() string {
	return fmt.Sprintf("%s[%s]", p.Kind, p.ID)
}
