package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher is the global registry mapping operator kind to the
// container that serves it. One Dispatcher is created per running
// query engine (see the top-level Config-driven entry point); it owns
// every container's lifetime.
type Dispatcher struct {
	mu         sync.RWMutex
	containers map[string]*Container
	ctx        context.Context
}

// NewDispatcher creates an empty dispatcher scoped to ctx: cancelling
// ctx shuts down every container registered on it.
func NewDispatcher(ctx context.Context) *Dispatcher {
	return &Dispatcher{
		containers: make(map[string]*Container),
		ctx:        ctx,
	}
}

// RegisterStage creates and registers a container for kind with the
// given worker count and sharing policy. Registering the same kind
// twice replaces the previous container (the old one is left to drain
// on its own; callers should register stages once at startup).
func (d *Dispatcher) RegisterStage(kind string, workers int, sharing bool) *Container {
	c := NewContainer(d.ctx, kind, workers, sharing)
	d.mu.Lock()
	d.containers[kind] = c
	d.mu.Unlock()
	return c
}

// Dispatch submits an entire packet tree rooted at p: every descendant
// is submitted to its own container before p itself is, in post-order,
// so a packet's children are always already running (or opportunistically
// merged onto a running host) by the time the packet's body starts
// pulling from their output fifos. This is the single entry point by
// which a query plan, once built, begins executing.
func (d *Dispatcher) Dispatch(p *Packet) error {
	seen := make(map[uuid.UUID]bool)
	return d.dispatchTree(p, seen)
}

func (d *Dispatcher) dispatchTree(p *Packet, seen map[uuid.UUID]bool) error {
	if seen[p.ID] {
		return nil
	}
	seen[p.ID] = true

	for _, child := range p.Children {
		if err := d.dispatchTree(child, seen); err != nil {
			return err
		}
	}

	d.mu.RLock()
	c, ok := d.containers[p.Kind]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("stage: dispatch %s: %w: %q", p, errUnknownKind, p.Kind)
	}
	c.Submit(p)
	return nil
}

// Container returns the container registered for kind, if any. Used by
// the janitor to drive periodic OSP sweeps across every registered
// kind.
func (d *Dispatcher) Container(kind string) (*Container, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.containers[kind]
	return c, ok
}

// Kinds returns every currently registered operator kind.
func (d *Dispatcher) Kinds() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ks := make([]string, 0, len(d.containers))
	for k := range d.containers {
		ks = append(ks, k)
	}
	return ks
}

// Shutdown shuts down every registered container and waits for their
// workers to drain.
func (d *Dispatcher) Shutdown() {
	d.mu.RLock()
	containers := make([]*Container, 0, len(d.containers))
	for _, c := range d.containers {
		containers = append(containers, c)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range containers {
		wg.Add(1)
		go func(c *Container) {
			defer wg.Done()
			c.Shutdown()
		}(c)
	}
	wg.Wait()
}
