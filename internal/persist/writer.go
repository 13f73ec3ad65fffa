package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cartsync/internal/model"
)

// writeTimeout bounds a single background cache write.
const writeTimeout = 5 * time.Second

// Writer is the debounced sink between a collection store and an Adapter.
// With a zero delay every scheduled snapshot is written before Schedule returns,
// so the cache matches the store as soon as a state settles. With a delay, only
// the latest snapshot of a burst is written.
type Writer struct {
	adapter *Adapter
	delay   time.Duration
	logger  *slog.Logger

	writeMu  sync.Mutex // serializes backend writes
	writeSeq uint64     // seq of the newest snapshot written, guarded by writeMu

	mu      sync.Mutex
	seq     uint64
	pending *queued
	timer   *time.Timer
	closed  bool
}

type queued struct {
	seq uint64
	c   model.Collection
}

// NewWriter creates a writer for adapter.
func NewWriter(adapter *Adapter, delay time.Duration, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{adapter: adapter, delay: delay, logger: logger}
}

// Schedule queues c for writing. Write failures are logged, not returned: a
// failing cache must never fail a collection mutation.
func (w *Writer) Schedule(c model.Collection) {
	snapshot := c.Clone()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.seq++
	q := &queued{seq: w.seq, c: snapshot}
	if w.delay <= 0 {
		w.mu.Unlock()
		w.write(q)
		return
	}
	w.pending = q
	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.fire)
	} else {
		w.timer.Reset(w.delay)
	}
	w.mu.Unlock()
}

// Flush writes any snapshot still waiting for its debounce delay.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if pending == nil {
		return nil
	}
	return w.save(ctx, pending)
}

// Close flushes and stops accepting snapshots.
func (w *Writer) Close(ctx context.Context) error {
	err := w.Flush(ctx)
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return err
}

func (w *Writer) fire() {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending != nil {
		w.write(pending)
	}
}

func (w *Writer) write(q *queued) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.save(ctx, q); err != nil {
		w.logger.Error("cache write failed",
			slog.String("kind", string(q.c.Kind)),
			slog.String("error", err.Error()),
		)
	}
}

// save writes q unless a newer snapshot already reached the backend.
func (w *Writer) save(ctx context.Context, q *queued) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if q.seq <= w.writeSeq {
		return nil
	}
	if err := w.adapter.Save(ctx, q.c); err != nil {
		return err
	}
	w.writeSeq = q.seq
	return nil
}
