// Package benchmarks compares the dataflow core's FScan source against
// a modernc.org/sqlite row source of the same cardinality, exercising
// the one teacher dependency (modernc.org/sqlite) narrowed to
// benchmark-only use per the design notes: a pure-Go SQL engine has no
// home inside a core whose explicit non-goals exclude SQL parsing and
// catalog management, but it remains a useful, already-vendored
// comparison point for "how fast can this core pull rows" benchmarks.
package benchmarks

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/qflow/internal/fifo"
	"github.com/SimonWaldherr/qflow/internal/ops"
	"github.com/SimonWaldherr/qflow/internal/page"
	"github.com/SimonWaldherr/qflow/internal/stage"
)

const benchTupleSize = 8 // int64 row id

func encodeRows(n int) []byte {
	var buf bytes.Buffer
	var b [benchTupleSize]byte
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(b[:], uint64(i))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func runFScan(b *testing.B, data []byte) int {
	b.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := stage.NewDispatcher(ctx)
	d.RegisterStage("fscan", 1, false)

	pool := page.NewMallocPool(4096)
	out := fifo.New(pool, benchTupleSize, 1, fifo.DefaultCapacity)
	src := ops.FScan{Src: bytes.NewReader(data), TupleSize: benchTupleSize, PageSize: 64 * 1024}
	p := stage.NewPacket("fscan", out, nil, src)
	if err := d.Dispatch(p); err != nil {
		b.Fatalf("dispatch fscan: %v", err)
	}

	count := 0
	for {
		_, ok, err := out.GetTuple()
		if err != nil {
			b.Fatalf("GetTuple: %v", err)
		}
		if !ok {
			return count
		}
		count++
	}
}

func openBenchSQLite(b *testing.B) *sql.DB {
	b.Helper()
	dir := b.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "bench.sqlite3"))
	if err != nil {
		b.Fatalf("open sqlite: %v", err)
	}
	b.Cleanup(func() { db.Close() })
	if _, err := db.Exec("CREATE TABLE rows (id INTEGER PRIMARY KEY)"); err != nil {
		b.Fatalf("create table: %v", err)
	}
	return db
}

func seedSQLite(b *testing.B, db *sql.DB, n int) {
	b.Helper()
	tx, err := db.Begin()
	if err != nil {
		b.Fatalf("begin: %v", err)
	}
	stmt, err := tx.Prepare("INSERT INTO rows (id) VALUES (?)")
	if err != nil {
		b.Fatalf("prepare: %v", err)
	}
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(i); err != nil {
			b.Fatalf("insert: %v", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		b.Fatalf("commit: %v", err)
	}
}

func scanSQLite(b *testing.B, db *sql.DB) int {
	b.Helper()
	rows, err := db.Query("SELECT id FROM rows")
	if err != nil {
		b.Fatalf("query: %v", err)
	}
	defer rows.Close()
	count := 0
	var id int64
	for rows.Next() {
		if err := rows.Scan(&id); err != nil {
			b.Fatalf("scan: %v", err)
		}
		count++
	}
	return count
}

// BenchmarkFScanVsSQLite compares pulling N fixed-width rows through
// FScan against scanning the same N rows out of a modernc.org/sqlite
// table, at the row counts the dataflow core's paged fifo is sized
// for.
func BenchmarkFScanVsSQLite(b *testing.B) {
	rowCounts := []int{100, 1000, 10000}

	for _, n := range rowCounts {
		data := encodeRows(n)
		b.Run(fmt.Sprintf("qflow-fscan/rows=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if got := runFScan(b, data); got != n {
					b.Fatalf("expected %d rows, got %d", n, got)
				}
			}
		})

		b.Run(fmt.Sprintf("sqlite-modernc/rows=%d", n), func(b *testing.B) {
			db := openBenchSQLite(b)
			seedSQLite(b, db, n)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if got := scanSQLite(b, db); got != n {
					b.Fatalf("expected %d rows, got %d", n, got)
				}
			}
		})
	}
}

