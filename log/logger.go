// Package log provides structured logging with connection context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for session and server paths (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/justapithecus/tproto/types"
)

// Logger provides structured logging with connection context.
// Entries carry conn_id, transport and peer when they are known.
type Logger struct {
	zap   *zap.Logger
	meta  *types.ConnMeta
	out   io.Writer
	level zapcore.Level
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a debug-level logger writing JSON to os.Stderr.
// meta may be nil for process-level loggers.
func NewLogger(meta *types.ConnMeta) *Logger {
	return build(meta, os.Stderr, zapcore.DebugLevel)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), out: io.Discard, level: zapcore.DebugLevel}
}

// ParseLevel parses "debug", "info", "warn" or "error".
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(s)
}

// WithOutput returns a new logger with a different output writer.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	return build(l.meta, w, l.level)
}

// WithLevel returns a new logger with a different minimum level.
func (l *Logger) WithLevel(level zapcore.Level) *Logger {
	return build(l.meta, l.out, level)
}

// WithConn returns a logger that stamps every entry with meta.
func (l *Logger) WithConn(meta *types.ConnMeta) *Logger {
	return build(meta, l.out, l.level)
}

func build(meta *types.ConnMeta, w io.Writer, level zapcore.Level) *Logger {
	if w == io.Discard {
		return &Logger{zap: zap.NewNop(), meta: meta, out: w, level: level}
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)

	zapLogger := zap.New(core)
	if meta != nil {
		zapLogger = zapLogger.With(connFields(meta)...)
	}
	return &Logger{zap: zapLogger, meta: meta, out: w, level: level}
}

func connFields(meta *types.ConnMeta) []zap.Field {
	var fields []zap.Field
	if meta.ConnID != "" {
		fields = append(fields, zap.String("conn_id", meta.ConnID))
	}
	if meta.Transport != "" {
		fields = append(fields, zap.String("transport", meta.Transport))
	}
	if meta.Peer != "" {
		fields = append(fields, zap.String("peer", meta.Peer))
	}
	return fields
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
