package kfmt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler is an slog.Handler that serializes records as compact single
// lines into a RingBuffer, grouping attributes the way gopher-os' kfmt
// package formats kernel log lines: "level msg key=value key=value".
type Handler struct {
	mu    sync.Mutex
	ring  *RingBuffer
	attrs []slog.Attr
	group string
}

func NewHandler(ring *RingBuffer) *Handler {
	return &Handler{ring: ring}
}

func (h *Handler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var b strings.Builder
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	_, err := h.ring.Write([]byte(b.String()))
	return err
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	if group != "" {
		b.WriteString(group)
		b.WriteByte('.')
	}
	b.WriteString(a.Key)
	b.WriteByte('=')
	fmt.Fprintf(b, "%v", a.Value.Any())
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := &Handler{ring: h.ring, group: h.group}
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := &Handler{ring: h.ring, attrs: append([]slog.Attr{}, h.attrs...)}
	if h.group == "" {
		next.group = name
	} else {
		next.group = h.group + "." + name
	}
	return next
}

// NewLogger builds an slog.Logger backed by a fresh RingBuffer of the given
// capacity, returning both so callers (the DebugLog syscall, the panic
// path, cmd/kmonitor) can drain the same buffer the logger writes into.
func NewLogger(capacity int) (*slog.Logger, *RingBuffer) {
	ring := NewRingBuffer(capacity)
	return slog.New(NewHandler(ring)), ring
}
