// Package qflow is the staged dataflow query execution core: a
// dispatcher of per-operator-kind stage containers, a paged tuple-fifo
// transport between them, and the packet/adaptor lifecycle that ties
// an operator tree to running goroutines. process_query (here,
// (*Engine).ProcessQuery) is the sole public entry point: callers build
// a tree of stage.Packet values wired to internal/ops bodies, then hand
// the root to an Engine to execute.
package qflow

import (
	"context"
	"fmt"
	"log"

	"github.com/SimonWaldherr/qflow/internal/config"
	"github.com/SimonWaldherr/qflow/internal/ops/hashjoin"
	"github.com/SimonWaldherr/qflow/internal/ops/sort"
	"github.com/SimonWaldherr/qflow/internal/page"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

// Engine owns one dispatcher's worth of stage containers and the
// background OSP janitor sweeping them, for the lifetime of a process
// (or a test).
type Engine struct {
	cfg        *config.Config
	dispatcher *stage.Dispatcher
	janitor    *stage.Janitor
	pool       page.Pool
	cancel     context.CancelFunc
}

// New builds an Engine from cfg, registering one container per
// configured stage kind. A nil cfg uses config.Default().
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := stage.NewDispatcher(ctx)
	for kind, sc := range cfg.Stages {
		d.RegisterStage(kind, sc.Workers, sc.SharingEnabled)
	}

	j := stage.NewJanitor(d)
	if err := j.Start("@every 30s"); err != nil {
		// A bad cron spec here would be a programming error in this
		// package, not a runtime condition callers can recover from;
		// the janitor is purely observational, so the engine still
		// starts with it simply never ticking.
		log.Printf("qflow: janitor not started: %v", err)
	}

	return &Engine{
		cfg:        cfg,
		dispatcher: d,
		janitor:    j,
		pool:       page.NewMallocPool(cfg.DefaultPageSize),
		cancel:     cancel,
	}
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Dispatcher returns the underlying stage dispatcher, for callers that
// need to register additional stage kinds at runtime (e.g. a
// long-lived service adding operator kinds after startup).
func (e *Engine) Dispatcher() *stage.Dispatcher { return e.dispatcher }

// Pool returns the engine's shared page pool, sized to
// cfg.DefaultPageSize, for callers building fifos and page-consuming
// operators (FScan, hash-join, sort) without each needing to size and
// own a pool separately.
func (e *Engine) Pool() page.Pool { return e.pool }

// SortDefaults returns a sort.Config seeded from the engine's
// configuration (MaxConcurrentMerges, TempDir); callers fill in Key and
// RunSize before handing it to a sort.Sort body.
func (e *Engine) SortDefaults() sort.Config {
	return sort.Config{
		MaxConcurrentMerges: e.cfg.MaxConcurrentMerges,
		TempDir:             e.cfg.TempDir,
	}
}

// HashJoinDefaults returns a hashjoin.Config seeded from the engine's
// configuration (MaxJoinRecursionDepth, TempDir, DefaultPageSize);
// callers fill in BuildKey, ProbeKey, Combine and the two tuple sizes
// before handing it to a hashjoin.HashJoin body.
func (e *Engine) HashJoinDefaults() hashjoin.Config {
	return hashjoin.Config{
		MaxRecursionDepth: e.cfg.MaxJoinRecursionDepth,
		TempDir:           e.cfg.TempDir,
		PageSize:          e.cfg.DefaultPageSize,
	}
}

// ProcessQuery dispatches root and streams every tuple it ultimately
// produces to fn, in order, until the root's output reaches EOF. An
// error from fn aborts the drain but does not terminate the root
// packet's own execution; callers that need to cancel in-flight work
// should terminate root.Output themselves.
func (e *Engine) ProcessQuery(root *stage.Packet, fn func(stage.Tuple) error) error {
	if err := e.dispatcher.Dispatch(root); err != nil {
		return fmt.Errorf("qflow: dispatch root packet: %w", err)
	}
	for {
		t, ok, err := root.Output.GetTuple()
		if err != nil {
			return fmt.Errorf("qflow: reading root output: %w", err)
		}
		if !ok {
			return nil
		}
		if err := fn(t); err != nil {
			return err
		}
	}
}

// Collect is a convenience wrapper around ProcessQuery that gathers
// every output tuple into a slice, useful for tests and small one-shot
// queries where streaming isn't necessary.
func (e *Engine) Collect(root *stage.Packet) ([]stage.Tuple, error) {
	var out []stage.Tuple
	err := e.ProcessQuery(root, func(t stage.Tuple) error {
		out = append(out, append([]byte(nil), t...))
		return nil
	})
	return out, err
}

// Close stops the background janitor and shuts down every registered
// stage container, waiting for their workers to drain.
func (e *Engine) Close() {
	e.janitor.Stop()
	e.dispatcher.Shutdown()
	e.cancel()
}
