package logger

import (
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

// Logger is what components take in their constructors instead of reaching for globals.
type Logger interface {
	Debugf(msg string, v ...any)
	Infof(msg string, v ...any)
	Errorf(msg string, v ...any)
}

var (
	enabled atomic.Bool // flip to false to nuke logs
	level   atomic.Int32
	std     = &stdLogger{l: log.New(os.Stdout, "", log.LstdFlags)}
)

func init() {
	enabled.Store(true)
	level.Store(int32(LevelInfo))
}

func EnableLogging(b bool) {
	enabled.Store(b)
}

func SetLevel(l Level) {
	level.Store(int32(l))
}

// ParseLevel maps "debug", "info" and "error" to a Level. Anything else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetOutput(w io.Writer) {
	std.l.SetOutput(w)
}

func Debug(msg string, v ...any) { std.Debugf(msg, v...) }
func Info(msg string, v ...any)  { std.Infof(msg, v...) }
func Error(msg string, v ...any) { std.Errorf(msg, v...) }

// Default returns the package logger.
func Default() Logger { return std }

// Nop discards everything.
func Nop() Logger { return nopLogger{} }

// WithPrefix tags every line with prefix, e.g. "[hub ABC123] ".
func WithPrefix(prefix string) Logger {
	return Prefix(std, prefix)
}

// Prefix tags every line written through l.
func Prefix(l Logger, prefix string) Logger {
	return &prefixed{prefix: prefix, next: l}
}

type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) write(lv Level, tag, msg string, v ...any) {
	if !enabled.Load() || lv < Level(level.Load()) {
		return
	}
	s.l.Printf(tag+msg, v...)
}

func (s *stdLogger) Debugf(msg string, v ...any) { s.write(LevelDebug, "[DEBUG] ", msg, v...) }
func (s *stdLogger) Infof(msg string, v ...any)  { s.write(LevelInfo, "", msg, v...) }
func (s *stdLogger) Errorf(msg string, v ...any) { s.write(LevelError, "[ERROR] ", msg, v...) }

type prefixed struct {
	prefix string
	next   Logger
}

func (p *prefixed) Debugf(msg string, v ...any) { p.next.Debugf(p.prefix+msg, v...) }
func (p *prefixed) Infof(msg string, v ...any)  { p.next.Infof(p.prefix+msg, v...) }
func (p *prefixed) Errorf(msg string, v ...any) { p.next.Errorf(p.prefix+msg, v...) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
