package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openScratch(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("CREATE TABLE scratch (id INTEGER PRIMARY KEY, val TEXT)"); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return conn
}

func insert(val string) WriteFunc {
	return func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO scratch (val) VALUES (?)", val)
		return err
	}
}

func count(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM scratch").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestBatchWriterCommitsOnClose(t *testing.T) {
	conn := openScratch(t)
	defer conn.Close()

	bw := NewBatchWriter(conn, 2, 0)
	for _, v := range []string{"a", "b", "c"} {
		if err := bw.Submit(insert(v)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- bw.Close() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}

	if n := count(t, conn); n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	if bw.Written() != 3 {
		t.Fatalf("expected 3 written, got %d", bw.Written())
	}
}

func TestBatchWriterRollsBackFailedFlush(t *testing.T) {
	conn := openScratch(t)
	defer conn.Close()

	bw := NewBatchWriter(conn, 2, 0)
	var mu sync.Mutex
	var seen []error
	bw.OnError = func(e error) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	}
	boom := errors.New("intentional error")
	bw.Submit(insert("a"))
	bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return boom })

	if err := bw.Close(); !errors.Is(err, boom) {
		t.Fatalf("expected flush error from Close, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("expected OnError once, got %d", len(seen))
	}
	if n := count(t, conn); n != 0 {
		t.Fatalf("expected 0 rows after rollback, got %d", n)
	}
}

func TestBatchWriterFlushesBySize(t *testing.T) {
	bw := NewBatchWriter(nil, 5, 0)
	var mu sync.Mutex
	called := 0
	for i := 0; i < 12; i++ {
		bw.Submit(func(ctx context.Context, tx *sql.Tx) error {
			mu.Lock()
			called++
			mu.Unlock()
			return nil
		})
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if called != 12 {
		t.Fatalf("expected 12 writes, got %d", called)
	}
}

func TestBatchWriterFlushesOnTimer(t *testing.T) {
	conn := openScratch(t)
	defer conn.Close()

	bw := NewBatchWriter(conn, 100, 10*time.Millisecond)
	defer bw.Close()
	bw.Submit(insert("a"))

	deadline := time.Now().Add(time.Second)
	for bw.Written() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer flush never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBatchWriterRejectsAfterClose(t *testing.T) {
	bw := NewBatchWriter(nil, 2, 0)
	if err := bw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bw.Submit(func(ctx context.Context, tx *sql.Tx) error { return nil }); !errors.Is(err, ErrBatchWriterClosed) {
		t.Fatalf("expected ErrBatchWriterClosed, got %v", err)
	}
	if err := bw.Close(); !errors.Is(err, ErrBatchWriterClosed) {
		t.Fatalf("expected ErrBatchWriterClosed on second close, got %v", err)
	}
}
