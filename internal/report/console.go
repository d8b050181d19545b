package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ConsoleHandler はコンソール記録ストリームへ書き込むslogハンドラを返す。
// stderr用のハンドラと組み合わせてFanoutで使う。
func (r *Reporter) ConsoleHandler(level slog.Leveler) slog.Handler {
	return &consoleHandler{w: r.console, level: level}
}

type consoleHandler struct {
	w      *RotatingCSV
	level  slog.Leveler
	prefix string
	attrs  []slog.Attr
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, rec slog.Record) error {
	parts := make([]string, 0, rec.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		parts = append(parts, h.prefix+a.Key+"="+a.Value.String())
	}
	rec.Attrs(func(a slog.Attr) bool {
		parts = append(parts, h.prefix+a.Key+"="+a.Value.String())
		return true
	})
	return h.w.Append([]string{
		rec.Time.Format(time.RFC3339),
		rec.Level.String(),
		rec.Message,
		strings.Join(parts, " "),
	})
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		merged = append(merged, a)
	}
	return &consoleHandler{w: h.w, level: h.level, prefix: h.prefix, attrs: merged}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &consoleHandler{w: h.w, level: h.level, prefix: h.prefix + name + ".", attrs: h.attrs}
}

// Fanout は複数のslogハンドラへ同じレコードを配るハンドラを返す
func Fanout(handlers ...slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}

type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var firstErr error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, rec.Level) {
			continue
		}
		if err := hh.Handle(ctx, rec.Clone()); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("fanout handler: %w", err)
		}
	}
	return firstErr
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
