// Package logging provides structured logging for the backup pipeline.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kiwitech/pterobackup/internal/constants"
)

// Logger wraps zerolog. A Logger is created once per run and handed to each
// component; nothing in this package mutates zerolog's global level.
type Logger struct {
	zlog   zerolog.Logger
	level  zerolog.Level
	output io.Writer          // current console writer
	file   *lumberjack.Logger // optional rotating file sink
}

// Options configures NewLogger.
type Options struct {
	// Verbosity is the -v count: 0=error, 1=warn, 2=info, 3+=debug.
	Verbosity int
	// Output receives console-formatted lines. Defaults to os.Stdout
	// (stderr is reserved for progress bars).
	Output io.Writer
	// FilePath, if set, also writes JSON lines to a rotating log file.
	FilePath string
}

// LevelFromVerbosity maps a repeated -v count to a log level.
func LevelFromVerbosity(count int) zerolog.Level {
	switch {
	case count <= 0:
		return zerolog.ErrorLevel
	case count == 1:
		return zerolog.WarnLevel
	case count == 2:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// NewLogger creates a logger from opts.
func NewLogger(opts Options) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{
		level:  LevelFromVerbosity(opts.Verbosity),
		output: out,
	}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0700); err != nil {
			return nil, err
		}
		l.file = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    constants.LogFileMaxSizeMB,
			MaxBackups: constants.LogFileMaxBackups,
			MaxAge:     constants.LogFileMaxAgeDays,
			Compress:   true,
		}
	}

	l.rebuild()
	return l, nil
}

// NewNopLogger returns a logger that discards everything. Used by tests and
// by callers that have no logger to pass.
func NewNopLogger() *Logger {
	return &Logger{
		zlog:   zerolog.Nop(),
		level:  zerolog.Disabled,
		output: io.Discard,
	}
}

func (l *Logger) rebuild() {
	console := zerolog.ConsoleWriter{
		Out:        l.output,
		TimeFormat: "15:04:05",
	}
	if l.file == nil {
		l.zlog = zerolog.New(console).Level(l.level).With().Timestamp().Logger()
		return
	}

	// The file always records info and above so scheduled runs leave a
	// trail even when the console is kept quiet.
	w := zerolog.MultiLevelWriter(
		&levelFloor{w: console, min: l.level},
		&levelFloor{w: l.file, min: zerolog.InfoLevel},
	)
	min := l.level
	if zerolog.InfoLevel < min {
		min = zerolog.InfoLevel
	}
	l.zlog = zerolog.New(w).Level(min).With().Timestamp().Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// levelFloor forwards events at or above min to w.
type levelFloor struct {
	w   io.Writer
	min zerolog.Level
}

func (f *levelFloor) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *levelFloor) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p)
}
