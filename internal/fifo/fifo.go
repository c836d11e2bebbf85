// Package fifo implements the tuple-fifo: a paged, bounded,
// single-producer/single-consumer channel with hysteresis-based
// backpressure and a sentinel-page read cursor, ported from the
// reference tuple_fifo state machine (full-page publish on append,
// cooperative send_eof handoff, idempotent terminate).
package fifo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/SimonWaldherr/qflow/internal/page"
)

// ErrTerminatedBuffer is returned to whichever side of a fifo observes
// that its peer has terminated the buffer. Surviving operators treat it
// as an early, non-fatal EOF at the loop level but propagate it as a
// failure of the packet as a whole, per the error-handling design.
var ErrTerminatedBuffer = errors.New("fifo: terminated buffer")

// ErrContractViolation marks a programming error: a second call to
// send_eof, a write after done_writing, or get_page off a page
// boundary. These abort rather than degrade gracefully.
var ErrContractViolation = errors.New("fifo: contract violation")

// TupleFifo is a bounded, ordered queue of fully packed pages between
// exactly one writer and one reader.
type TupleFifo struct {
	mu         sync.Mutex
	notEmpty   *sync.Cond
	notFull    *sync.Cond
	pages      []*page.Page // full pages awaiting read, FIFO order
	writePage  *page.Page
	readPage  *page.Page

	pool      page.Pool
	tupleSize int

	threshold   int // hysteresis: pages required before a sleeping side resumes
	capacity    int // max pages queued before the writer blocks (bounded queue)
	currPages   int // pages currently queued (== len(pages))
	doneWriting bool
	terminated  bool
	// terminatedByReader/terminatedByWriter record which side called
	// terminate first, so the correct side is responsible for teardown
	// (mirrors the reference "reader owns teardown once done_writing"
	// rule, generalized to cover pure termination too).
	terminatedByReader bool
	terminatedByWriter bool
}

// DefaultCapacity is the default number of queued pages a fifo holds
// before the writer blocks.
const DefaultCapacity = 4

// New creates a tuple-fifo of tupleSize-byte tuples backed by pool, with
// the given hysteresis threshold and page capacity. capacity is the
// number of full pages the fifo may hold before Append blocks;
// threshold is the number of pages of progress required before a
// sleeping side wakes again (must be <= capacity).
func New(pool page.Pool, tupleSize, threshold, capacity int) *TupleFifo {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if threshold < 1 || threshold > capacity {
		threshold = capacity
	}
	f := &TupleFifo{
		pool:      pool,
		tupleSize: tupleSize,
		threshold: threshold,
		capacity:  capacity,
		readPage:  page.Sentinel(),
		writePage: page.Sentinel(),
	}
	f.notEmpty = sync.NewCond(&f.mu)
	f.notFull = sync.NewCond(&f.mu)
	return f
}

// TupleSize returns the fixed tuple width this fifo carries.
func (f *TupleFifo) TupleSize() int { return f.tupleSize }

// availableReads returns the number of full pages ready to be read,
// not counting a still-being-filled write page.
func (f *TupleFifo) availableReads() int { return len(f.pages) }

// availableWrites returns the number of page slots free before the
// fifo is considered "full" for backpressure purposes.
func (f *TupleFifo) availableWrites() int {
	return f.capacity - len(f.pages)
}

// Append copies tuple into the fifo's current write page, publishing
// the page and acquiring a fresh one once it's full.
func (f *TupleFifo) Append(tuple []byte) error {
	f.mu.Lock()
	if f.doneWriting {
		f.mu.Unlock()
		return fmt.Errorf("fifo: Append after send_eof: %w", ErrContractViolation)
	}
	if err := f.checkTerminatedLocked(); err != nil {
		f.mu.Unlock()
		return err
	}

	if page.IsSentinel(f.writePage) {
		np, err := f.pool.Alloc(f.tupleSize)
		if err != nil {
			f.mu.Unlock()
			return fmt.Errorf("fifo: allocate write page: %w", err)
		}
		f.writePage = np
	}

	if f.writePage.Full() {
		// Block for space before publishing: the writer suspends here
		// when the fifo is full and fewer than `threshold` pages are
		// available, per the hysteresis rule.
		f.waitForReaderLocked()
		if err := f.checkTerminatedLocked(); err != nil {
			f.mu.Unlock()
			return err
		}
		if err := f.publishWritePageLocked(false); err != nil {
			f.mu.Unlock()
			return err
		}
	}

	f.writePage.Append(tuple)
	f.mu.Unlock()
	return nil
}

// publishWritePageLocked moves the current write page onto the pending
// list (if non-empty) and allocates a replacement, unless done is true
// in which case no replacement is allocated. Caller holds f.mu.
func (f *TupleFifo) publishWritePageLocked(done bool) error {
	if !f.writePage.Empty() {
		f.pages = append(f.pages, f.writePage)
		f.currPages++
		f.writePage = page.Sentinel()
		if f.availableReads() >= f.threshold || done {
			f.notEmpty.Broadcast()
		}
	}

	if done {
		f.doneWriting = true
		f.notEmpty.Broadcast()
		return nil
	}

	np, err := f.pool.Alloc(f.tupleSize)
	if err != nil {
		return fmt.Errorf("fifo: allocate write page: %w", err)
	}
	f.writePage = np
	return nil
}

// GetTuple dequeues the next tuple. Returns (tuple, true) on success, or
// (nil, false) once the writer has sent EOF and no tuples remain.
func (f *TupleFifo) GetTuple() ([]byte, bool, error) {
	for {
		f.mu.Lock()
		if err := f.checkTerminatedLocked(); err != nil {
			f.mu.Unlock()
			return nil, false, err
		}

		if t, ok := f.readPage.ReadNext(); ok {
			f.mu.Unlock()
			return t, true, nil
		}

		// Current read page exhausted; advance to the next one.
		if !f.advanceReadPageLocked() {
			if f.doneWriting {
				f.mu.Unlock()
				return nil, false, nil
			}
			// Wait for more pages, honoring hysteresis.
			f.waitForWriterLocked()
			f.mu.Unlock()
			continue
		}
		f.mu.Unlock()
	}
}

// advanceReadPageLocked replaces the exhausted read page with the next
// queued page, if one is ready without blocking. Reports whether it
// advanced.
func (f *TupleFifo) advanceReadPageLocked() bool {
	if len(f.pages) == 0 {
		return false
	}
	next := f.pages[0]
	f.pages = f.pages[1:]
	f.currPages--
	next.Begin()
	f.readPage = next

	if f.availableWrites() >= f.threshold && !f.doneWriting {
		f.notFull.Broadcast()
	}
	return true
}

// waitForWriterLocked blocks until at least `threshold` pages are
// available or the writer is done, applying the hysteresis rule: once
// slept, a side refuses to resume until `threshold` pages of progress
// exist, unless done_writing overrides it.
func (f *TupleFifo) waitForWriterLocked() {
	threshold := 1
	for !f.doneWriting && len(f.pages) < threshold && !f.terminated {
		f.notEmpty.Wait()
		threshold = f.threshold
	}
}

// waitForReaderLocked mirrors waitForWriterLocked for the write side.
func (f *TupleFifo) waitForReaderLocked() {
	threshold := 1
	for f.availableWrites() < threshold && !f.terminated {
		f.notFull.Wait()
		threshold = f.threshold
	}
}

// GetPage hands the reader an entire full page, replacing the internal
// read page with the sentinel. Only legal when the read cursor sits at
// a page boundary (i.e. right after construction or a prior GetPage).
func (f *TupleFifo) GetPage() (*page.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkTerminatedLocked(); err != nil {
		return nil, err
	}

	if !f.readPage.AtEnd() {
		return nil, fmt.Errorf("fifo: GetPage off a page boundary: %w", ErrContractViolation)
	}

	for len(f.pages) == 0 && !f.doneWriting {
		f.waitForWriterLocked()
		if err := f.checkTerminatedLocked(); err != nil {
			return nil, err
		}
	}

	if len(f.pages) == 0 {
		return nil, nil // EOF
	}

	next := f.pages[0]
	f.pages = f.pages[1:]
	f.currPages--
	f.readPage = page.Sentinel()

	if f.availableWrites() >= f.threshold && !f.doneWriting {
		f.notFull.Broadcast()
	}
	return next, nil
}

// SendEOF publishes any partial write page and marks the fifo as done
// writing. Unlike the reference implementation's context switch, Go's
// goroutine scheduler makes "the writer never returns" unnecessary to
// model literally: SendEOF simply returns once the reader has been
// woken, and the calling goroutine is expected to exit its operator
// loop immediately afterward (the stage worker enforces this).
func (f *TupleFifo) SendEOF() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.doneWriting {
		return fmt.Errorf("fifo: SendEOF called twice: %w", ErrContractViolation)
	}
	if err := f.checkTerminatedLocked(); err != nil {
		return err
	}

	return f.publishWritePageLocked(true)
}

// Terminate marks the fifo terminated and wakes both sides. Returns
// false if EOF was already sent (the reader owns teardown in that
// case) or if terminate was already called.
func (f *TupleFifo) Terminate(fromReader bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.terminated || f.doneWriting {
		return false
	}

	f.terminated = true
	if fromReader {
		f.terminatedByReader = true
	} else {
		f.terminatedByWriter = true
	}
	f.notEmpty.Broadcast()
	f.notFull.Broadcast()
	return true
}

// Terminated reports whether the fifo has been terminated.
func (f *TupleFifo) Terminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// TerminatedBy reports which side called Terminate first, so callers
// can decide who is responsible for releasing backing resources.
func (f *TupleFifo) TerminatedBy() (byReader, byWriter bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminatedByReader, f.terminatedByWriter
}

func (f *TupleFifo) checkTerminatedLocked() error {
	if f.terminated {
		return ErrTerminatedBuffer
	}
	return nil
}
