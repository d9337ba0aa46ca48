// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/tertulia/pkg/core"
)

// ConfigureSlog installs a global slog logger that decorates every
// record with the conversation identifiers and active span ids found in
// the context. Format is "json" or "text".
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		base = slog.NewJSONHandler(output, opts)
	} else {
		base = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(&contextHandler{next: base})
	slog.SetDefault(logger)
	return logger
}

// contextHandler correlates log records with the surrounding
// conversation: run_id and line_index come from the core context
// helpers, trace_id and span_id from the active span.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, record slog.Record) error {
	seen := attrKeys(record)
	add := func(key, value string) {
		if value != "" && !seen[key] {
			record.AddAttrs(slog.String(key, value))
		}
	}

	if runID, ok := core.RunID(ctx); ok {
		add("run_id", runID)
	}
	if index, ok := core.LineIndex(ctx); ok && !seen["line_index"] {
		record.AddAttrs(slog.Int("line_index", index))
	}

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		add("trace_id", sc.TraceID().String())
		add("span_id", sc.SpanID().String())
	}

	return h.next.Handle(ctx, record)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}

func attrKeys(record slog.Record) map[string]bool {
	keys := make(map[string]bool, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		keys[attr.Key] = true
		return true
	})
	return keys
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
