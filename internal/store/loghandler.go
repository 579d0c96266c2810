// ABOUTME: slog handler that tees records into the activity store.
// ABOUTME: Appends happen on a background goroutine so logging never blocks on disk.

package store

import (
	"context"
	"log/slog"
	"time"
)

// Appender is the slice of the store the log handler writes to.
type Appender interface {
	AppendLog(ctx context.Context, e LogEntry) error
}

// LogHandler wraps another slog handler and copies each record into the
// activity store. Store failures are dropped silently; logging must not fail
// because the disk did.
type LogHandler struct {
	next    slog.Handler
	store   Appender
	entries chan LogEntry
	done    chan struct{}

	// component is inherited from WithAttrs so lines logged through
	// logger.With("component", ...) are attributed correctly.
	component string
}

// NewLogHandler starts the background appender. Call Close to flush it.
func NewLogHandler(next slog.Handler, store Appender) *LogHandler {
	h := &LogHandler{
		next:    next,
		store:   store,
		entries: make(chan LogEntry, 256),
		done:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *LogHandler) run() {
	defer close(h.done)
	for e := range h.entries {
		_ = h.store.AppendLog(context.Background(), e)
	}
}

// Close stops accepting records and waits for queued appends to land.
func (h *LogHandler) Close() {
	close(h.entries)
	<-h.done
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	component := h.component
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = a.Value.String()
			return false
		}
		return true
	})

	e := LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Component: component,
		Message:   r.Message,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case h.entries <- e:
	default:
		// Queue full; drop rather than stall the caller.
	}

	return h.next.Handle(ctx, r)
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "component" {
			clone.component = a.Value.String()
		}
	}
	return &clone
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}
