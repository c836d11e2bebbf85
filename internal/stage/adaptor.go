package stage

import (
	"sync"

	"github.com/SimonWaldherr/qflow/internal/page"
)

// follower is a packet merged into a running host: it observes the
// host's raw operator output, applies its own filter, and writes the
// result to its own output fifo.
type follower struct {
	packet *Packet
}

// Adaptor is the per-running-packet I/O surface: the operator body
// writes through it, and the container worker uses it to fan output out
// to any packets that were opportunistically merged onto this one.
type Adaptor struct {
	packet *Packet

	mu        sync.Mutex
	followers []*follower
	accepting bool
}

// newAdaptor creates an adaptor for packet and marks it as accepting
// mergers; the container clears that flag once the operator body
// returns.
func newAdaptor(p *Packet) *Adaptor {
	return &Adaptor{packet: p, accepting: true}
}

// Packet returns the adaptor's own (host) packet.
func (a *Adaptor) Packet() *Packet { return a.packet }

// attach merges newcomer onto this adaptor as a follower. Returns false
// if the adaptor has already stopped accepting mergers (the operator
// body has finished).
func (a *Adaptor) attach(newcomer *Packet) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.accepting {
		return false
	}
	a.followers = append(a.followers, &follower{packet: newcomer})
	return true
}

// stopAccepting prevents any further packets from merging onto this
// adaptor. Called once the operator body returns.
func (a *Adaptor) stopAccepting() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepting = false
}

// Output writes one raw tuple from the operator body to the host's
// output fifo (after the host packet's own filter) and, after
// evaluating each follower's filter independently against the same raw
// tuple, to every follower's output fifo too.
func (a *Adaptor) Output(raw Tuple) error {
	if out, keep := a.packet.Filter(raw); keep {
		if err := a.packet.Output.Append(out); err != nil {
			return err
		}
	}

	a.mu.Lock()
	followers := make([]*follower, len(a.followers))
	copy(followers, a.followers)
	a.mu.Unlock()

	for _, f := range followers {
		out, keep := f.packet.Filter(raw)
		if !keep {
			continue
		}
		if err := f.packet.Output.Append(out); err != nil {
			// A follower's own fifo having been terminated by its
			// reader doesn't abort the host's computation; it only
			// stops future writes reaching that one follower.
			continue
		}
	}
	return nil
}

// OutputPage writes every tuple of p, in order, through Output, so the
// host's filter and each follower see them one tuple at a time; the
// page itself is not handed to the output fifo. Echo uses it to pass on
// whole pages it reads with GetPage.
func (a *Adaptor) OutputPage(p *page.Page) error {
	for _, t := range p.Tuples() {
		if err := a.Output(t); err != nil {
			return err
		}
	}
	return nil
}

// closeAll closes (sends EOF on) the host's output fifo and every
// follower's output fifo. Called by the container worker once the
// operator body returns successfully.
func (a *Adaptor) closeAll() {
	a.stopAccepting()
	_ = a.packet.Output.SendEOF()

	a.mu.Lock()
	followers := a.followers
	a.mu.Unlock()

	for _, f := range followers {
		_ = f.packet.Output.SendEOF()
	}
}

// terminateAll terminates the host's output fifo and every follower's,
// used when the operator body returns an error or observes its input
// terminated.
func (a *Adaptor) terminateAll() {
	a.stopAccepting()
	a.packet.Output.Terminate(false)

	a.mu.Lock()
	followers := a.followers
	a.mu.Unlock()

	for _, f := range followers {
		f.packet.Output.Terminate(false)
	}
}
