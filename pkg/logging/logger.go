// Package logging provides the leveled, hierarchical logger threaded through
// every component of the directive execution engine. There is no
// process-wide logging singleton: each component is handed its own
// *Logger (or a Sublogger derived from one), so a caller embedding this
// engine controls exactly where output goes.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger callback.
type writer struct {
	callback func(string)
	buffer   []byte
}

func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the engine's logging type. A nil *Logger is valid and silently
// discards everything, so components may be constructed without a logger in
// tests without a stream of nil checks at every call site. It is safe for
// concurrent use.
type Logger struct {
	prefix string
	level  Level
	mu     *sync.Mutex
	out    *log.Logger
}

// NewLogger creates a root logger at the given level, writing to out. If out
// is nil, os.Stderr is used.
func NewLogger(level Level, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		level: level,
		mu:    &sync.Mutex{},
		out:   log.New(out, "", log.LstdFlags),
	}
}

// Sublogger creates a new logger with the given name appended to the prefix
// chain, inheriting the parent's level and destination.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{
		prefix: prefix,
		level:  l.level,
		mu:     l.mu,
		out:    l.out,
	}
}

func (l *Logger) enabled(level Level) bool {
	return l != nil && level != LevelDisabled && l.level >= level
}

func (l *Logger) line(level Level, line string) {
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Print(line)
}

// Error logs error information with a red "Error:" prefix.
func (l *Logger) Error(err error) {
	if l.enabled(LevelError) {
		l.line(LevelError, color.RedString("Error: %v", err))
	}
}

// Warn logs error information with a yellow "Warning:" prefix.
func (l *Logger) Warn(err error) {
	if l.enabled(LevelWarn) {
		l.line(LevelWarn, color.YellowString("Warning: %v", err))
	}
}

// Info logs phase/directive progress information.
func (l *Logger) Info(v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.line(LevelInfo, fmt.Sprint(v...))
	}
}

// Infof logs phase/directive progress information with Printf semantics.
func (l *Logger) Infof(format string, v ...interface{}) {
	if l.enabled(LevelInfo) {
		l.line(LevelInfo, fmt.Sprintf(format, v...))
	}
}

// Debug logs per-directive execution detail.
func (l *Logger) Debug(v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.line(LevelDebug, fmt.Sprint(v...))
	}
}

// Debugf logs per-directive execution detail with Printf semantics.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if l.enabled(LevelDebug) {
		l.line(LevelDebug, fmt.Sprintf(format, v...))
	}
}

// Trace logs low-level archive/cache activity.
func (l *Logger) Trace(v ...interface{}) {
	if l.enabled(LevelTrace) {
		l.line(LevelTrace, fmt.Sprint(v...))
	}
}

// Tracef logs low-level archive/cache activity with Printf semantics.
func (l *Logger) Tracef(format string, v ...interface{}) {
	if l.enabled(LevelTrace) {
		l.line(LevelTrace, fmt.Sprintf(format, v...))
	}
}

// Writer returns an io.Writer that emits each line it receives via Info.
// Passing a nil Logger yields a writer that discards everything.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.Info(s) }}
}
