// Package obslog is a thin geth-style logging facade over
// github.com/luxfi/log: leveled functions taking a message plus
// alternating key/value context, a colorable terminal handler for
// interactive use, and an optional rotating file handler for production.
//
// Grounded on _examples/luxfi-evm/log/compat.go, whose own
// Trace/Debug/Info/Warn/Error/Crit, Root and SetDefault all delegate to
// luxlog.Root()/luxlog.SetDefault — the teacher's real logging backend
// for this concern, used directly (not through that compat shim) by 24
// files in the pack, e.g. plugin/evm/block_builder.go's
// log.Error("panic in awaitSubmittedTxs", "error", r) call shape.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"

	luxlog "github.com/luxfi/log"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

const LevelTrace slog.Level = -8

// level is shared by the default handler and anything SetLevel targets,
// so the admin API's log-level operation (spec.md §9B) takes effect on
// the live root logger without swapping handlers.
var level = new(slog.LevelVar)

var root luxlog.Logger = luxlog.NewLogger(NewTerminalHandler(os.Stderr, level))

func init() {
	luxlog.SetDefault(root)
}

// SetDefault installs l as the package-level logger every
// Trace/.../Crit call writes through.
func SetDefault(l luxlog.Logger) {
	root = l
	luxlog.SetDefault(l)
}

// SetLevel adjusts the minimum level the default handler emits.
func SetLevel(l slog.Level) { level.Set(l) }

// Level reports the default handler's current minimum level.
func Level() slog.Level { return level.Level() }

// Root returns the package-level logger.
func Root() luxlog.Logger { return root }

// NewTerminalHandler returns a slog text handler writing key=value pairs.
// When w is a terminal it writes through a go-colorable wrapper of w,
// otherwise to w directly; in both cases the handler emits no color
// codes of its own.
func NewTerminalHandler(w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(interface{ Fd() uintptr }); ok && isatty.IsTerminal(f.Fd()) {
		return slog.NewTextHandler(colorable.NewColorable(w.(*os.File)), opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewFileHandler returns a handler writing newline-delimited JSON to a
// size/age-rotated log file.
func NewFileHandler(path string, maxSizeMB, maxBackups, maxAgeDays int) slog.Handler {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	return slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug})
}

// MultiHandler fans a record out to several handlers, e.g. a terminal
// handler plus a rotating file handler.
type MultiHandler []slog.Handler

func (m MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(MultiHandler, len(m))
	for i, h := range m {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (m MultiHandler) WithGroup(name string) slog.Handler {
	next := make(MultiHandler, len(m))
	for i, h := range m {
		next[i] = h.WithGroup(name)
	}
	return next
}

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { root.Crit(msg, ctx...) }

// With returns a logger scoped to a component, e.g.
// obslog.With("component", "pooling_manager"), carrying root's handler
// with extra context attached the way luxlog.New(ctx...) builds a child
// logger off the installed root.
func With(ctx ...any) luxlog.Logger {
	return luxlog.New(ctx...)
}
