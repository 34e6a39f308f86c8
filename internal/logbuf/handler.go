package logbuf

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
)

// Handler is an slog.Handler that records every entry into a Buffer and
// passes records on to an inner handler at the inner handler's own level.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	bound  map[string]any // WithAttrs values, keys already group-qualified
	prefix string         // open groups joined as "a.b."
}

// NewHandler creates a handler that writes to both buf and inner.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled reports true for every level; the buffer keeps debug entries
// even when stdout is at info.
func (h *Handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.bound)+r.NumAttrs())
	maps.Copy(attrs, h.bound)
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})

	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	if len(attrs) > 0 {
		e.Attrs = attrs
		e.Ticket = ticketOf(attrs, h.prefix)
	}
	h.buf.Write(e)

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	bound := make(map[string]any, len(h.bound)+len(attrs))
	maps.Copy(bound, h.bound)
	for _, a := range attrs {
		flatten(bound, h.prefix, a)
	}
	return &Handler{inner: h.inner.WithAttrs(attrs), buf: h.buf, bound: bound, prefix: h.prefix}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{inner: h.inner.WithGroup(name), buf: h.buf, bound: h.bound, prefix: h.prefix + name + "."}
}

// flatten stores a under prefix+key, expanding group values into dotted keys.
func flatten(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += a.Key + "."
		}
		for _, sub := range v.Group() {
			flatten(dst, p, sub)
		}
		return
	}
	if a.Key == "" {
		return
	}
	raw := v.Any()
	if err, ok := raw.(error); ok {
		// Errors marshal to {} otherwise.
		raw = err.Error()
	}
	dst[prefix+a.Key] = raw
}

// ticketOf finds the ticket id at the top level or inside the open groups.
func ticketOf(attrs map[string]any, prefix string) string {
	for _, k := range []string{TicketKey, prefix + TicketKey} {
		if v, ok := attrs[k]; ok {
			return fmt.Sprint(v)
		}
	}
	return ""
}
