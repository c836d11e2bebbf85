// Package sort implements the external sort operator: run generation
// (buffer tuples in memory up to a configured run size, sort, spill),
// followed by a k-way merge of the resulting runs. Ported from the
// reference sort.cpp (run generation) and merge.cpp (the merge phase),
// with a cascading merge schedule added to bound fan-in: once every
// run has been generated, runs are merged in passes of at most
// MaxConcurrentMerges inputs each until a single run remains.
package sort

import (
	"fmt"
	gosort "sort"

	"github.com/SimonWaldherr/qflow/internal/stage"
	"github.com/SimonWaldherr/qflow/internal/tempfile"
)

// Config parameterizes a sort.
type Config struct {
	Key KeyFunc

	// RunSize is the number of tuples buffered in memory before a run
	// is sorted and spilled. Zero uses DefaultRunSize.
	RunSize int
	// MaxConcurrentMerges caps how many runs a single merge pass
	// combines; with more runs than that, the sort cascades through
	// multiple merge passes. Zero uses DefaultMaxConcurrentMerges.
	MaxConcurrentMerges int
	TempDir             string
}

const (
	DefaultRunSize             = 2048
	DefaultMaxConcurrentMerges = 8
)

// Sort is the stage.Body for a single-child sort packet.
type Sort struct {
	Config
}

func (Sort) Kind() string { return "sort" }

func (s Sort) Run(a *stage.Adaptor) error {
	p := a.Packet()
	if len(p.Children) != 1 {
		return fmt.Errorf("ops/sort: expected 1 child, got %d", len(p.Children))
	}
	child := p.Children[0].Output

	cfg := s.Config
	if cfg.RunSize <= 0 {
		cfg.RunSize = DefaultRunSize
	}
	if cfg.MaxConcurrentMerges <= 0 {
		cfg.MaxConcurrentMerges = DefaultMaxConcurrentMerges
	}

	runs, err := generateRuns(cfg.Key, fifoSource{f: child}, cfg.RunSize, cfg.TempDir)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range runs {
			_ = r.Close()
		}
	}()

	if len(runs) == 0 {
		return nil
	}
	if len(runs) == 1 {
		// Final-merge short-circuit: a single run is already the
		// fully sorted output, so stream it straight through instead
		// of merging it with nothing.
		return streamRun(runs[0], a)
	}

	final, err := cascadeMerge(cfg.Key, runs, cfg.MaxConcurrentMerges, cfg.TempDir)
	if err != nil {
		return err
	}
	defer final.Close()
	return streamRun(final, a)
}

// generateRuns buffers tuples from src up to runSize at a time, sorts
// each buffer by key, and spills it to its own temp file, returning
// the list of sorted run files in generation order.
func generateRuns(key KeyFunc, src source, runSize int, tempDir string) ([]*tempfile.File, error) {
	var runs []*tempfile.File
	buf := make([][]byte, 0, runSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		gosort.Slice(buf, func(i, j int) bool { return key(buf[i]) < key(buf[j]) })
		f, err := tempfile.Create(tempDir, "sort-run-*.tmp")
		if err != nil {
			return fmt.Errorf("ops/sort: create run file: %w", err)
		}
		for _, t := range buf {
			if err := writeTuple(f, t); err != nil {
				return fmt.Errorf("ops/sort: write run: %w", err)
			}
		}
		if err := f.Sync(); err != nil {
			return err
		}
		runs = append(runs, f)
		buf = buf[:0]
		return nil
	}

	for {
		t, ok, err := src.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		buf = append(buf, append([]byte(nil), t...))
		if len(buf) >= runSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return runs, nil
}

// cascadeMerge repeatedly merges up to fanIn runs at a time into a new
// run file until a single run remains, which it returns. Each pass
// runs to completion before the next starts, but within a pass every
// batch is merged as soon as it's formed (eager scheduling), bounded
// by fanIn rather than merging everything in one unbounded pass.
func cascadeMerge(key KeyFunc, runs []*tempfile.File, fanIn int, tempDir string) (*tempfile.File, error) {
	level := runs
	for len(level) > 1 {
		var next []*tempfile.File
		for i := 0; i < len(level); i += fanIn {
			end := i + fanIn
			if end > len(level) {
				end = len(level)
			}
			batch := level[i:end]

			merged, err := mergeBatch(key, batch, tempDir)
			if err != nil {
				return nil, err
			}
			next = append(next, merged)
		}
		for _, r := range level {
			_ = r.Close()
		}
		level = next
	}
	return level[0], nil
}

// mergeBatch merges a batch of already-sorted run files into one new
// run file.
func mergeBatch(key KeyFunc, batch []*tempfile.File, tempDir string) (*tempfile.File, error) {
	srcs := make([]source, len(batch))
	for i, f := range batch {
		r, err := f.Reopen()
		if err != nil {
			return nil, err
		}
		srcs[i] = newFileSource(r)
	}
	defer func() {
		for _, s := range srcs {
			_ = s.close()
		}
	}()

	out, err := tempfile.Create(tempDir, "sort-merge-*.tmp")
	if err != nil {
		return nil, err
	}
	err = mergeSources(key, srcs, func(t stage.Tuple) error {
		return writeTuple(out, t)
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// streamRun reads a fully sorted run file and writes every tuple
// through the adaptor (so the packet's filter and any opportunistically
// merged followers still see it) in order.
func streamRun(run *tempfile.File, a *stage.Adaptor) error {
	r, err := run.Reopen()
	if err != nil {
		return err
	}
	defer r.Close()

	fs := newFileSource(r)
	for {
		t, ok, err := fs.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := a.Output(t); err != nil {
			return err
		}
	}
}
