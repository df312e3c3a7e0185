// Package logger provides module-scoped structured logging for the spearlet
// core. It wraps log/slog with per-module level overrides so that, e.g.,
// "comm" can run at debug while "hostcall" stays at info.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
)

// Format selects the slog handler used for global output.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// moduleConfig manages per-module logging levels with hierarchical overrides:
// a level set on "runtime" also applies to "runtime.comm" unless the latter
// has its own override.
type moduleConfig struct {
	mu           sync.RWMutex
	defaultLevel slog.Level
	modules      map[string]slog.Level
}

func newModuleConfig(defaultLevel slog.Level) *moduleConfig {
	return &moduleConfig{defaultLevel: defaultLevel, modules: make(map[string]slog.Level)}
}

func (m *moduleConfig) setModuleLevel(module string, level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modules[module] = level
}

func (m *moduleConfig) setDefaultLevel(level slog.Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
}

func (m *moduleConfig) levelFor(module string) slog.Level {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if level, ok := m.modules[module]; ok {
		return level
	}
	for {
		lastDot := strings.LastIndex(module, ".")
		if lastDot == -1 {
			break
		}
		module = module[:lastDot]
		if level, ok := m.modules[module]; ok {
			return level
		}
	}
	return m.defaultLevel
}

var global = newModuleConfig(slog.LevelInfo)
var baseHandler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
var baseMu sync.RWMutex

func init() {
	if lvl := os.Getenv("SPEARLET_LOG_LEVEL"); lvl != "" {
		global.setDefaultLevel(ParseLevel(lvl))
	}
}

// ParseLevel converts a textual log level ("debug", "info", "warn", "error")
// into its slog.Level, defaulting to Info for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Configure reconfigures the global handler format/level from config values.
func Configure(format Format, defaultLevel string, moduleLevels map[string]string) {
	baseMu.Lock()
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if format == FormatJSON {
		baseHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		baseHandler = slog.NewTextHandler(os.Stderr, opts)
	}
	baseMu.Unlock()

	global.setDefaultLevel(ParseLevel(defaultLevel))
	names := make([]string, 0, len(moduleLevels))
	for name := range moduleLevels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		global.setModuleLevel(name, ParseLevel(moduleLevels[name]))
	}
}

// Logger is a module-bound logger. Every core package constructs one with
// For("its.module.path") at package init or construction time.
type Logger struct {
	module string
}

// For returns a Logger scoped to the given dotted module path.
func For(module string) *Logger {
	return &Logger{module: module}
}

func (l *Logger) enabled(level slog.Level) bool {
	return level >= global.levelFor(l.module)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.enabled(level) {
		return
	}
	baseMu.RLock()
	h := baseHandler
	baseMu.RUnlock()
	handlerLogger := slog.New(h).With("module", l.module)
	handlerLogger.Log(ctx, level, msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(context.Background(), slog.LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(context.Background(), slog.LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(context.Background(), slog.LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(context.Background(), slog.LevelError, msg, args...) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}
