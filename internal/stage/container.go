package stage

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/SimonWaldherr/qflow/internal/fifo"
)

// running tracks one packet currently executing inside a container,
// together with the adaptor its body writes through. It is the entry
// the OSP merge table scans when a new packet of the same kind is
// dispatched.
type running struct {
	packet  *Packet
	adaptor *Adaptor
}

// Container is a stage container: the fixed worker pool for exactly one
// operator kind, plus its opportunistic-sharing merge table. Adapted
// from the teacher's ConcurrencyManager/WorkerPool (a channel-backed
// request queue drained by a fixed goroutine pool, context-scoped, with
// a WaitGroup drain on shutdown), generalized from two static work
// kinds (read/write) to one dynamically registered kind per container.
type Container struct {
	kind     string
	sharing  bool
	requests chan *Packet

	mu      sync.Mutex
	active  []*running
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewContainer starts a container for kind with the given worker count.
// sharing enables opportunistic-sharing lookups against already-running
// packets of this kind.
func NewContainer(parent context.Context, kind string, workers int, sharing bool) *Container {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	c := &Container{
		kind:     kind,
		sharing:  sharing,
		requests: make(chan *Packet, workers*4),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return c
}

// Kind returns the operator kind this container serves.
func (c *Container) Kind() string { return c.kind }

// Submit enqueues p for execution, first attempting an opportunistic
// merge onto a compatible already-running packet of the same kind. If
// a merge succeeds, p never occupies a worker slot of its own: its
// output arrives as a side effect of the host's execution.
func (c *Container) Submit(p *Packet) {
	if c.sharing {
		if host, ok := c.tryMerge(p); ok {
			log.Printf("stage[%s]: merged %s onto host %s", c.kind, p, host.packet)
			return
		}
	}
	c.requests <- p
}

// tryMerge scans currently running packets of this kind for one whose
// Body implements Mergeable and accepts p.
func (c *Container) tryMerge(p *Packet) (*running, bool) {
	c.mu.Lock()
	candidates := make([]*running, len(c.active))
	copy(candidates, c.active)
	c.mu.Unlock()

	for _, r := range candidates {
		m, ok := r.packet.Body.(Mergeable)
		if !ok || !m.CanMerge(p) {
			continue
		}
		if r.adaptor.attach(p) {
			return r, true
		}
	}
	return nil, false
}

// worker drains the request channel, running one packet's body at a
// time to completion before taking the next.
func (c *Container) worker(id int) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case p, ok := <-c.requests:
			if !ok {
				return
			}
			c.run(p)
		}
	}
}

// run executes a single packet's body to completion, registering it in
// the merge table for the duration so later-dispatched compatible
// packets can attach as followers.
func (c *Container) run(p *Packet) {
	a := newAdaptor(p)
	r := &running{packet: p, adaptor: a}

	c.mu.Lock()
	c.active = append(c.active, r)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		for i, x := range c.active {
			if x == r {
				c.active = append(c.active[:i], c.active[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
	}()

	err := p.Body.Run(a)
	if err != nil {
		if err == fifo.ErrTerminatedBuffer {
			log.Printf("stage[%s]: %s stopped: input terminated", c.kind, p)
		} else {
			log.Printf("stage[%s]: %s failed: %v", c.kind, p, err)
		}
		a.terminateAll()
		p.terminateChildren()
		return
	}
	a.closeAll()
}

// Shutdown cancels the container's context and waits for all workers to
// drain. It does not close in-flight fifos; callers that need to abort
// outstanding work should Terminate the relevant packets first.
func (c *Container) Shutdown() {
	c.cancel()
	close(c.requests)
	c.wg.Wait()
}

// Running reports how many packets of this kind are currently executing
// (hosts only; merged followers don't occupy a worker).
func (c *Container) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// sweepCompleted is a no-op placeholder kept for symmetry with the
// janitor's per-kind sweep call; container bookkeeping already removes
// entries from active as soon as each run completes.
func (c *Container) sweepCompleted() {}

var errUnknownKind = fmt.Errorf("stage: unknown kind")
