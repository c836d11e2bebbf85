// Command qflowdemo drives the dataflow core over a small in-memory
// table, the way cmd/server/main.go drove the teacher's SQL engine over
// a network listener — minus the network surface, since network
// protocols are an explicit non-goal of this core. It builds a fixed
// operator tree (fscan -> sort -> sieve -> aggregate) and prints the
// result.
package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/SimonWaldherr/qflow"
	"github.com/SimonWaldherr/qflow/internal/config"
	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/ops"
	"github.com/SimonWaldherr/qflow/internal/ops/sort"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

func main() {
	var (
		rows     = flag.Int("rows", 1000, "number of synthetic input rows")
		cfgPath  = flag.String("config", "", "path to a YAML config file (optional)")
		minValue = flag.Int("min", 0, "minimum value to keep (sieve predicate)")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("qflowdemo: %v", err)
		}
	}

	engine := qflow.New(cfg)
	defer engine.Close()

	root := buildPipeline(engine, *rows, *minValue)

	count := 0
	var sum int64
	err := engine.ProcessQuery(root, func(t stage.Tuple) error {
		v := int64(binary.LittleEndian.Uint64(t))
		sum += v
		count++
		return nil
	})
	if err != nil {
		log.Fatalf("qflowdemo: query failed: %v", err)
	}

	fmt.Fprintf(os.Stdout, "rows=%d sum=%d\n", count, sum)
}

// buildPipeline wires fscan (reading a synthetically generated column
// of int64 row ids, descending so the sort stage has real work to do)
// into a sort (ascending by value) into a sieve (keep values >=
// minValue) into an aggregate that sums everything through, returning
// the root packet ready for ProcessQuery.
func buildPipeline(engine *qflow.Engine, rows, minValue int) *stage.Packet {
	const tupleSize = 8

	var buf bytes.Buffer
	var b [tupleSize]byte
	for i := rows - 1; i >= 0; i-- {
		binary.LittleEndian.PutUint64(b[:], uint64(i))
		buf.Write(b[:])
	}

	pool := engine.Pool()
	cfg := engine.Config()

	scanOut := fifo.New(pool, tupleSize, 1, fifo.DefaultCapacity)
	scan := stage.NewPacket("fscan", scanOut, nil, ops.FScan{
		Src:       &buf,
		TupleSize: tupleSize,
		PageSize:  cfg.DefaultPageSize,
	})

	sortCfg := engine.SortDefaults()
	sortCfg.Key = func(t stage.Tuple) string {
		// Re-encode big-endian so lexical byte comparison (what the
		// sort's key string is compared by) matches numeric order.
		var k [tupleSize]byte
		binary.BigEndian.PutUint64(k[:], binary.LittleEndian.Uint64(t))
		return string(k[:])
	}
	sortOut := fifo.New(pool, tupleSize, 1, fifo.DefaultCapacity)
	sortStage := stage.NewPacket("sort", sortOut, nil, sort.Sort{Config: sortCfg}, scan)

	sieveOut := fifo.New(pool, tupleSize, 1, fifo.DefaultCapacity)
	keep := ops.Sieve{Pass: ops.FilterPass(func(t stage.Tuple) bool {
		return int64(binary.LittleEndian.Uint64(t)) >= int64(minValue)
	})}
	sieve := stage.NewPacket("sieve", sieveOut, nil, keep, sortStage)

	sumOut := fifo.New(pool, tupleSize, 1, fifo.DefaultCapacity)
	sumAll := ops.Aggregate{
		Key:  func(stage.Tuple) string { return "all" },
		Zero: func() any { return int64(0) },
		Combine: func(acc any, t stage.Tuple) any {
			return acc.(int64) + int64(binary.LittleEndian.Uint64(t))
		},
		Emit: func(_ string, acc any) (stage.Tuple, error) {
			var out [tupleSize]byte
			binary.LittleEndian.PutUint64(out[:], uint64(acc.(int64)))
			return out[:], nil
		},
	}
	return stage.NewPacket("aggregate", sumOut, nil, sumAll, sieve)
}
