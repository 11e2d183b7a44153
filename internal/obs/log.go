// Package obs wires the ambient logging, tracing, and metrics stack shared
// by the driver and the example binaries: log/slog namespaced loggers
// bridged to OpenTelemetry, plus a tracer/meter provider setup, following
// the teacher's cmd.Run()/ProvideLogger composition root.
package obs

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process-wide logger.
type LogConfig struct {
	Level      slog.Level
	JSON       bool
	OtelBridge bool

	// FilePath, when set, rotates log output through lumberjack in
	// addition to (or instead of, if Stdout is false) stdout.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Stdout     bool
}

// NewLogger builds the root *slog.Logger per LogConfig. The returned logger
// is un-namespaced; callers derive area loggers with
// logger.With("area", "topic.reader") matching the glossary's
// ydbjs:<area>:<sub> convention.
func NewLogger(cfg LogConfig) *slog.Logger {
	var writers []io.Writer
	if cfg.Stdout || cfg.FilePath == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 28),
		})
	}

	var out io.Writer = io.MultiWriter(writers...)

	handlerOpts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	if cfg.OtelBridge {
		handler = &fanoutHandler{primary: handler, bridge: otelslog.NewHandler("ydb-go-topic")}
	}

	return slog.New(handler)
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// fanoutHandler writes every record through the primary handler and mirrors
// it to the otelslog bridge, so log records stay correlated with the active
// span (spec's ambient-stack logging requirement) without giving up the
// human-readable primary output.
type fanoutHandler struct {
	primary slog.Handler
	bridge  slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.bridge.Enabled(ctx, level)
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.primary.Handle(ctx, r.Clone()); err != nil {
		return err
	}
	return h.bridge.Handle(ctx, r.Clone())
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanoutHandler{primary: h.primary.WithAttrs(attrs), bridge: h.bridge.WithAttrs(attrs)}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{primary: h.primary.WithGroup(name), bridge: h.bridge.WithGroup(name)}
}
