package core

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

// LogConfig holds logging configuration from YAML.
type LogConfig struct {
	Level      string            `yaml:"level,omitempty"`
	Format     string            `yaml:"format,omitempty"` // "console" (default) or "json"
	Components map[string]string `yaml:"components,omitempty"`
}

// Logger provides per-component log level filtering on top of zap.
// Each component tag gets its own child logger carrying a "component" field.
type Logger struct {
	state atomic.Pointer[loggerState]
}

type loggerState struct {
	mu          sync.RWMutex
	base        *zap.Logger
	globalLevel LogLevel
	components  map[string]LogLevel // lowercase component name → level
	tagged      map[string]*zap.SugaredLogger
}

// ParseLevel converts a string level name to LogLevel.
// Returns LevelInfo for unrecognized values.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "none":
		return LevelOff
	default:
		return LevelInfo
	}
}

// NewLogger creates a Logger from config writing to stderr.
func NewLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	// Filtering happens per component in levelFor, so the core accepts everything.
	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return newLogger(zap.New(core), cfg)
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *Logger {
	return newLogger(zap.NewNop(), LogConfig{Level: "off"})
}

// NewLoggerWith builds a Logger on top of an existing zap logger.
func NewLoggerWith(base *zap.Logger, cfg LogConfig) *Logger {
	return newLogger(base, cfg)
}

func newLogger(base *zap.Logger, cfg LogConfig) *Logger {
	st := &loggerState{
		base:        base,
		globalLevel: ParseLevel(cfg.Level),
		components:  make(map[string]LogLevel, len(cfg.Components)),
		tagged:      make(map[string]*zap.SugaredLogger),
	}
	for name, level := range cfg.Components {
		st.components[strings.ToLower(name)] = ParseLevel(level)
	}
	l := &Logger{}
	l.state.Store(st)
	return l
}

// levelFor returns the effective log level for a component tag.
func (s *loggerState) levelFor(tag string) LogLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lvl, ok := s.components[strings.ToLower(tag)]; ok {
		return lvl
	}
	return s.globalLevel
}

// forTag returns the cached child logger for a component.
func (s *loggerState) forTag(tag string) *zap.SugaredLogger {
	s.mu.RLock()
	sl, ok := s.tagged[tag]
	s.mu.RUnlock()
	if ok {
		return sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok := s.tagged[tag]; ok {
		return sl
	}
	sl = s.base.With(zap.String("component", tag)).Sugar()
	s.tagged[tag] = sl
	return sl
}

func (s *loggerState) enabled(tag string, lvl LogLevel) bool {
	return lvl != LevelOff && s.levelFor(tag) <= lvl
}

// Enabled reports whether messages at lvl are emitted for tag.
func (l *Logger) Enabled(tag string, lvl LogLevel) bool {
	return l.state.Load().enabled(tag, lvl)
}

// Debugf logs at debug level.
func (l *Logger) Debugf(tag, format string, args ...any) {
	if s := l.state.Load(); s.enabled(tag, LevelDebug) {
		s.forTag(tag).Debugf(format, args...)
	}
}

// Infof logs at info level.
func (l *Logger) Infof(tag, format string, args ...any) {
	if s := l.state.Load(); s.enabled(tag, LevelInfo) {
		s.forTag(tag).Infof(format, args...)
	}
}

// Warnf logs at warn level.
func (l *Logger) Warnf(tag, format string, args ...any) {
	if s := l.state.Load(); s.enabled(tag, LevelWarn) {
		s.forTag(tag).Warnf(format, args...)
	}
}

// Errorf logs at error level.
func (l *Logger) Errorf(tag, format string, args ...any) {
	if s := l.state.Load(); s.enabled(tag, LevelError) {
		s.forTag(tag).Errorf(format, args...)
	}
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.state.Load().base.Sync()
}

// Log is the global logger instance. Initialized with default (info level).
// The variable itself never changes; SetLogger swaps what it writes to.
var Log = NewLogger(LogConfig{})

// SetLogger makes the global logger behave like l and returns a Logger
// holding the previous configuration. It is safe to call while other
// goroutines are logging.
func SetLogger(l *Logger) *Logger {
	prev := &Logger{}
	prev.state.Store(Log.state.Swap(l.state.Load()))
	return prev
}
