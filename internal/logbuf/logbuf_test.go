package logbuf

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"
)

var t0 = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func messages(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

// fill writes one entry per message, a second apart.
func fill(buf *Buffer, level string, msgs ...string) {
	for i, m := range msgs {
		buf.Write(Entry{Time: t0.Add(time.Duration(i) * time.Second), Level: level, Message: m})
	}
}

func TestQuery(t *testing.T) {
	buf := New(10)
	buf.Write(Entry{Time: t0, Level: "DEBUG", Message: "update received"})
	buf.Write(Entry{Time: t0.Add(time.Second), Level: "INFO", Message: "ticket created", Ticket: "17"})
	buf.Write(Entry{Time: t0.Add(2 * time.Second), Level: "WARN", Message: "copy failed", Ticket: "17"})
	buf.Write(Entry{Time: t0.Add(3 * time.Second), Level: "ERROR", Message: "send failed", Ticket: "18"})
	buf.Write(Entry{Time: t0.Add(4 * time.Second), Level: "bogus", Message: "odd level"})

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"zero filter skips debug", Filter{}, []string{"ticket created", "copy failed", "send failed", "odd level"}},
		{"debug", Filter{MinLevel: slog.LevelDebug}, []string{"update received", "ticket created", "copy failed", "send failed", "odd level"}},
		{"warn and above", Filter{MinLevel: slog.LevelWarn}, []string{"copy failed", "send failed"}},
		{"since", Filter{Since: t0.Add(3 * time.Second)}, []string{"send failed", "odd level"}},
		{"ticket", Filter{Ticket: "17"}, []string{"ticket created", "copy failed"}},
		{"newest within limit", Filter{MinLevel: slog.LevelDebug, Limit: 2}, []string{"send failed", "odd level"}},
		{"limit after filtering", Filter{Ticket: "17", Limit: 1}, []string{"copy failed"}},
		{"no match", Filter{Ticket: "99"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := messages(buf.Query(tt.filter)); !slices.Equal(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRingEvictsOldest(t *testing.T) {
	buf := New(3)
	fill(buf, "INFO", "a", "b", "c", "d", "e")

	if got := messages(buf.Query(Filter{})); !slices.Equal(got, []string{"c", "d", "e"}) {
		t.Errorf("got %q", got)
	}
	if got := messages(buf.Query(Filter{Limit: 5})); len(got) != 3 {
		t.Errorf("limit beyond capacity: %q", got)
	}
}

func TestEmpty(t *testing.T) {
	if got := New(4).Query(Filter{}); len(got) != 0 {
		t.Errorf("expected nothing, got %v", got)
	}
}

func TestNewDefaultSize(t *testing.T) {
	if n := len(New(0).entries); n != DefaultSize {
		t.Errorf("size = %d, want %d", n, DefaultSize)
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newLogger(buf *Buffer, stdout slog.Level) *slog.Logger {
	inner := slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: stdout})
	return slog.New(NewHandler(inner, buf))
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	buf := New(10)
	h := NewHandler(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelWarn}), buf)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug must reach the buffer")
	}

	logger := slog.New(h)
	logger.Debug("update received")
	logger.Info("ticket created", "channel", "-100")
	logger.Warn("copy failed")

	entries := buf.Query(Filter{MinLevel: slog.LevelDebug})
	if got := messages(entries); !slices.Equal(got, []string{"update received", "ticket created", "copy failed"}) {
		t.Fatalf("got %q", got)
	}
	if entries[1].Attrs["channel"] != "-100" || entries[2].Level != "WARN" {
		t.Errorf("unexpected entry details: %+v", entries)
	}
}

func TestHandlerTicketAttr(t *testing.T) {
	buf := New(10)
	logger := newLogger(buf, slog.LevelInfo)

	logger.Info("ticket created", TicketKey, int64(1718000000123))
	logger.Info("unrelated")
	logger.With(TicketKey, int64(1718000000999)).Warn("relay failed")
	logger.Info("ticket closed", TicketKey, int64(1718000000123))

	if got := messages(buf.Query(Filter{Ticket: "1718000000123"})); !slices.Equal(got, []string{"ticket created", "ticket closed"}) {
		t.Errorf("got %q", got)
	}
	if got := messages(buf.Query(Filter{Ticket: "1718000000999"})); !slices.Equal(got, []string{"relay failed"}) {
		t.Errorf("bound attr not matched: %q", got)
	}
}

func TestHandlerGroupsAndErrors(t *testing.T) {
	buf := New(10)
	logger := newLogger(buf, slog.LevelInfo)

	logger.With("component", "relay").WithGroup("relay").With(TicketKey, 7).Info("reply relayed",
		slog.Group("transport", "chat_id", "-100"),
		"error", errors.New("boom"),
	)

	entries := buf.Query(Filter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	attrs := entries[0].Attrs
	for key, want := range map[string]any{
		"component":               "relay",
		"relay.ticket_id":         int64(7),
		"relay.transport.chat_id": "-100",
		"relay.error":             "boom",
	} {
		if attrs[key] != want {
			t.Errorf("%s = %v, want %v", key, attrs[key], want)
		}
	}
	if entries[0].Ticket != "7" {
		t.Errorf("ticket = %q", entries[0].Ticket)
	}
}
