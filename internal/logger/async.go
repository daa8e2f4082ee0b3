package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes buffered records.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by an AsyncHandler and every handler derived from it
// through WithAttrs or WithGroup.
type asyncQueue struct {
	records chan queued
	workers sync.WaitGroup
	dropped atomic.Int64
	once    sync.Once
}

// queued pairs a record with the handler that must format it, so derived
// handlers keep their own attributes and groups.
type queued struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler hands records to a pool of workers. Records below
// slog.LevelError are dropped when the buffer is full; errors always wait
// for room.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts workers goroutines draining a buffer of size records.
// Non-positive arguments fall back to one worker and an unbuffered queue.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	if size < 0 {
		size = 0
	}
	if workers < 1 {
		workers = 1
	}
	q := &asyncQueue{records: make(chan queued, size)}
	for range workers {
		q.workers.Add(1)
		go func() {
			defer q.workers.Done()
			for item := range q.records {
				_ = item.h.Handle(context.Background(), item.rec)
			}
		}()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	item := queued{h: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		h.q.records <- item
		return nil
	}
	select {
	case h.q.records <- item:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// Dropped returns how many records were discarded because the buffer was full.
func (h *AsyncHandler) Dropped() int64 {
	return h.q.dropped.Load()
}

// Close drains the buffer and, if anything was dropped, writes one warning
// with the count. Handle must not be called after Close.
func (h *AsyncHandler) Close() {
	h.q.once.Do(func() {
		close(h.q.records)
		h.q.workers.Wait()
		if n := h.q.dropped.Load(); n > 0 {
			rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async log buffer overflowed", 0)
			rec.AddAttrs(slog.Int64("dropped", n))
			_ = h.inner.Handle(context.Background(), rec)
		}
	})
}
