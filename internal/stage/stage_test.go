package stage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/page"
)

// echoBody emits a fixed set of tuples once, then closes.
type echoBody struct {
	tuples [][]byte
}

func (echoBody) Kind() string { return "echo" }

func (b echoBody) Run(a *Adaptor) error {
	for _, t := range b.tuples {
		if err := a.Output(t); err != nil {
			return err
		}
	}
	return nil
}

func drain(t *testing.T, f *fifo.TupleFifo) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		tup, ok, err := f.GetTuple()
		if err != nil {
			t.Fatalf("GetTuple: %v", err)
		}
		if !ok {
			return out
		}
		cp := append([]byte(nil), tup...)
		out = append(out, cp)
	}
}

func TestDispatchSingleEcho(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(ctx)
	d.RegisterStage("echo", 2, false)

	pool := page.NewMallocPool(4096)
	out := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	body := echoBody{tuples: [][]byte{{1, 0, 0, 0}, {2, 0, 0, 0}}}
	p := NewPacket("echo", out, nil, body)

	var wg sync.WaitGroup
	wg.Add(1)
	var got [][]byte
	go func() {
		defer wg.Done()
		got = drain(t, out)
	}()

	if err := d.Dispatch(p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	wg.Wait()

	if len(got) != 2 {
		t.Fatalf("expected 2 tuples, got %d", len(got))
	}
}

// mergeableEcho accepts any newcomer packet of the same kind as a
// follower, exercising the OSP attach path.
type mergeableEcho struct {
	echoBody
}

func (mergeableEcho) CanMerge(*Packet) bool { return true }

// gatedMergeableEcho is a mergeableEcho that waits for release before
// emitting, so it is still running when a follower tries to attach.
type gatedMergeableEcho struct {
	mergeableEcho
	release <-chan struct{}
}

func (b gatedMergeableEcho) Run(a *Adaptor) error {
	<-b.release
	return b.mergeableEcho.Run(a)
}

func TestOpportunisticMergeFansOutToFollower(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(ctx)
	c := d.RegisterStage("echo", 1, true)

	pool := page.NewMallocPool(4096)

	release := make(chan struct{})
	hostOut := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	hostBody := gatedMergeableEcho{mergeableEcho{echoBody{tuples: [][]byte{{9, 0, 0, 0}}}}, release}
	host := NewPacket("echo", hostOut, nil, hostBody)

	followerOut := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	follower := NewPacket("echo", followerOut, nil, echoBody{})

	if err := d.Dispatch(host); err != nil {
		t.Fatalf("Dispatch host: %v", err)
	}
	// Wait until the host is running (and held open by its gate)
	// before the follower attempts to merge onto it.
	for c.Running() == 0 {
		time.Sleep(time.Millisecond)
	}
	if err := d.Dispatch(follower); err != nil {
		t.Fatalf("Dispatch follower: %v", err)
	}
	close(release)

	hostGot := drain(t, hostOut)
	followerGot := drain(t, followerOut)

	if len(hostGot) != 1 {
		t.Fatalf("expected host to see 1 tuple, got %d", len(hostGot))
	}
	if len(followerGot) != 1 {
		t.Fatalf("expected follower to observe the host's tuple via merge, got %d", len(followerGot))
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := NewDispatcher(ctx)
	pool := page.NewMallocPool(4096)
	out := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	p := NewPacket("nonexistent", out, nil, echoBody{})

	if err := d.Dispatch(p); err == nil {
		t.Fatalf("expected error dispatching unregistered kind")
	}
}
