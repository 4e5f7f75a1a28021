// Package logx provides structured logging for the linker using zap.
package logx

import (
	"os"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level selects the linker's verbosity, per spec §6 (-v/-vv/-q).
type Level int

const (
	LevelQuiet Level = iota // -q: errors only
	LevelWarn               // default: warnings and errors
	LevelInfo               // -v
	LevelDebug              // -vv
)

// Logger wraps zap.Logger with linker-specific field helpers.
type Logger struct {
	*zap.Logger
	phase string
}

var (
	// L is the global logger instance, set by Init.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger for the given verbosity.
// LINKER_DEBUG, if non-empty, forces Debug regardless of level.
// Safe to call multiple times; only the first call takes effect.
func Init(level Level) {
	once.Do(func() {
		L = New(level)
	})
}

// New creates a standalone Logger instance at the given verbosity.
func New(level Level) *Logger {
	if os.Getenv("LINKER_DEBUG") != "" {
		level = LevelDebug
	}

	var cfg zap.Config
	if level == LevelDebug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case LevelQuiet:
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	case LevelWarn:
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case LevelInfo:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case LevelDebug:
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger, for tests that don't care about output.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithPhase returns a logger with the pipeline phase field preset, so
// every diagnostic from that phase is tagged (phase 1 parse, phase 2
// archive extraction, ... phase 7 write).
func (l *Logger) WithPhase(phase string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("phase", phase)), phase: phase}
}

// Hex formats a uint64 as a 0x-prefixed hex string for logging.
func Hex(addr uint64) string {
	return "0x" + strconv.FormatUint(addr, 16)
}

// Field helpers matching the diagnostic context spec §7 requires:
// file, symbol, relocation type, numeric context.

// File creates a source file field.
func File(name string) zap.Field { return zap.String("file", name) }

// Sym creates a symbol name field.
func Sym(name string) zap.Field { return zap.String("symbol", name) }

// RelType creates a relocation type field.
func RelType(name string) zap.Field { return zap.String("reloc", name) }

// Addr creates an address field.
func Addr(addr uint64) zap.Field { return zap.String("addr", Hex(addr)) }

// Size creates a size field.
func Size(size uint64) zap.Field { return zap.Uint64("size", size) }

// Session creates a link-session correlation id field.
func Session(id string) zap.Field { return zap.String("session", id) }
