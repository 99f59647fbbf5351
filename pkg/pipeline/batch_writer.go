package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WriteFunc performs database writes inside the transaction of one flush.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// ErrBatchWriterClosed is returned by Submit and by a second Close.
var ErrBatchWriterClosed = errors.New("batch writer closed")

// BatchWriter groups basket writes into transactions of up to size items.
// A failing write rolls back every other write in its flush.
type BatchWriter struct {
	db     *sql.DB
	size   int
	ticker *time.Ticker
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	buf    []WriteFunc
	closed bool

	flushes chan []WriteFunc

	// OnError is called for every failed flush, from the committer goroutine.
	OnError func(error)
	Logger  zerolog.Logger

	errMu   sync.Mutex
	firstEr error
	written int
}

// NewBatchWriter starts a writer on db. With interval > 0 a partially filled
// buffer is also flushed on a timer. A nil db runs writes with a nil tx.
func NewBatchWriter(db *sql.DB, size int, interval time.Duration) *BatchWriter {
	if size <= 0 {
		size = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	bw := &BatchWriter{
		db:      db,
		size:    size,
		ctx:     ctx,
		cancel:  cancel,
		buf:     make([]WriteFunc, 0, size),
		flushes: make(chan []WriteFunc, 2),
		Logger:  zerolog.Nop(),
	}
	bw.wg.Add(1)
	go bw.commit()
	if interval > 0 {
		bw.ticker = time.NewTicker(interval)
		bw.wg.Add(1)
		go bw.tick()
	}
	return bw
}

// Submit queues w. It blocks while the committer is behind by more than two
// flushes.
func (bw *BatchWriter) Submit(w WriteFunc) error {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if bw.closed {
		return ErrBatchWriterClosed
	}
	bw.buf = append(bw.buf, w)
	if len(bw.buf) >= bw.size {
		bw.flushLocked()
	}
	return nil
}

// flushLocked hands the buffer to the committer. bw.mu must be held.
func (bw *BatchWriter) flushLocked() {
	if len(bw.buf) == 0 {
		return
	}
	batch := bw.buf
	bw.buf = make([]WriteFunc, 0, bw.size)
	select {
	case bw.flushes <- batch:
	case <-bw.ctx.Done():
		bw.fail(fmt.Errorf("batch writer: dropped %d writes on shutdown", len(batch)))
	}
}

func (bw *BatchWriter) fail(err error) {
	bw.errMu.Lock()
	if bw.firstEr == nil {
		bw.firstEr = err
	}
	bw.errMu.Unlock()
	bw.Logger.Error().Err(err).Msg("batch flush failed")
	if bw.OnError != nil {
		bw.OnError(err)
	}
}

func (bw *BatchWriter) commit() {
	defer bw.wg.Done()
	for batch := range bw.flushes {
		if err := bw.run(batch); err != nil {
			bw.fail(err)
			continue
		}
		bw.errMu.Lock()
		bw.written += len(batch)
		bw.errMu.Unlock()
		bw.Logger.Debug().Int("writes", len(batch)).Msg("batch flushed")
	}
}

func (bw *BatchWriter) run(batch []WriteFunc) error {
	// Flushes finish even while the writer is closing.
	ctx := context.Background()
	if bw.db == nil {
		for _, w := range batch {
			if err := w(ctx, nil); err != nil {
				return err
			}
		}
		return nil
	}
	tx, err := bw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, w := range batch {
		if err := w(ctx, tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush of %d writes: %w", len(batch), err)
	}
	return nil
}

func (bw *BatchWriter) tick() {
	defer bw.wg.Done()
	for {
		select {
		case <-bw.ctx.Done():
			return
		case <-bw.ticker.C:
			bw.mu.Lock()
			bw.flushLocked()
			bw.mu.Unlock()
		}
	}
}

// Written returns how many writes have been committed so far.
func (bw *BatchWriter) Written() int {
	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.written
}

// Close flushes what is buffered, waits for the committer and returns the
// first flush error, if any.
func (bw *BatchWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return ErrBatchWriterClosed
	}
	bw.closed = true
	if bw.ticker != nil {
		bw.ticker.Stop()
	}
	bw.flushLocked()
	bw.mu.Unlock()

	bw.cancel()
	close(bw.flushes)
	bw.wg.Wait()

	bw.errMu.Lock()
	defer bw.errMu.Unlock()
	return bw.firstEr
}
