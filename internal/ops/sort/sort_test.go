package sort

import (
	"context"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/page"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

func i32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func toI32(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

func intKey(t stage.Tuple) string {
	// Fixed-width zero-padded key so lexical string order matches
	// numeric order for the small ranges these tests use.
	v := toI32(t)
	return string([]byte{
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	})
}

type sourceBody struct{ tuples [][]byte }

func (sourceBody) Kind() string { return "source" }
func (s sourceBody) Run(a *stage.Adaptor) error {
	for _, t := range s.tuples {
		if err := a.Output(t); err != nil {
			return err
		}
	}
	return nil
}

func runSort(t *testing.T, cfg Config, input [][]byte) [][]byte {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := stage.NewDispatcher(ctx)
	d.RegisterStage("source", 1, false)
	d.RegisterStage("sort", 1, false)

	pool := page.NewMallocPool(4096)
	srcOut := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	src := stage.NewPacket("source", srcOut, nil, sourceBody{tuples: input})

	out := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	cfg.TempDir = t.TempDir()
	sp := stage.NewPacket("sort", out, nil, Sort{Config: cfg}, src)
	if err := d.Dispatch(sp); err != nil {
		t.Fatalf("dispatch sort: %v", err)
	}

	var got [][]byte
	for {
		tup, ok, err := out.GetTuple()
		if err != nil {
			t.Fatalf("GetTuple: %v", err)
		}
		if !ok {
			return got
		}
		got = append(got, append([]byte(nil), tup...))
	}
}

func TestSortSingleRunShortCircuit(t *testing.T) {
	cfg := Config{Key: intKey, RunSize: 1000}
	input := [][]byte{i32(5), i32(1), i32(3)}

	got := runSort(t, cfg, input)
	want := []int32{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d tuples, got %d", len(want), len(got))
	}
	for i, w := range want {
		if toI32(got[i]) != w {
			t.Fatalf("position %d: want %d got %d", i, w, toI32(got[i]))
		}
	}
}

func TestSortMultipleRunsCascadeMerge(t *testing.T) {
	cfg := Config{Key: intKey, RunSize: 8, MaxConcurrentMerges: 2}

	rng := rand.New(rand.NewSource(1))
	const n = 200
	input := make([][]byte, n)
	want := make([]int32, n)
	for i := 0; i < n; i++ {
		v := int32(rng.Intn(10000))
		input[i] = i32(v)
		want[i] = v
	}

	got := runSort(t, cfg, input)
	if len(got) != n {
		t.Fatalf("expected %d tuples, got %d", n, len(got))
	}
	prev := int32(-1)
	for i, tup := range got {
		v := toI32(tup)
		if v < prev {
			t.Fatalf("output not sorted at position %d: %d before %d", i, prev, v)
		}
		prev = v
	}
}

func TestSortEmptyInput(t *testing.T) {
	cfg := Config{Key: intKey}
	got := runSort(t, cfg, nil)
	if len(got) != 0 {
		t.Fatalf("expected no output for empty input, got %d", len(got))
	}
}

func TestMergeGenericTwoSortedChildren(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := stage.NewDispatcher(ctx)
	d.RegisterStage("source", 2, false)
	d.RegisterStage("merge", 1, false)

	pool := page.NewMallocPool(4096)
	aOut := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	a := stage.NewPacket("source", aOut, nil, sourceBody{tuples: [][]byte{i32(1), i32(3), i32(5)}})
	bOut := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	b := stage.NewPacket("source", bOut, nil, sourceBody{tuples: [][]byte{i32(2), i32(4), i32(6)}})

	out := fifo.New(pool, 4, 1, fifo.DefaultCapacity)
	mp := stage.NewPacket("merge", out, nil, Merge{Key: intKey}, a, b)
	if err := d.Dispatch(mp); err != nil {
		t.Fatalf("dispatch merge: %v", err)
	}

	var got []int32
	for {
		tup, ok, err := out.GetTuple()
		if err != nil {
			t.Fatalf("GetTuple: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, toI32(tup))
	}
	want := []int32{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
