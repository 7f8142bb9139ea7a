// pkg/logger/logger.go
package logger

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type Sugared = *zap.SugaredLogger

// New builds the process logger. level is a zap level name ("debug", "info",
// ...); unknown names fall back to info.
func New(env, level string) Sugared {
	var zc zap.Config
	if env == "prod" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(parseLevel(level))
	z, err := zc.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return z.Sugar()
}

// Nop returns a logger that discards everything.
func Nop() Sugared { return zap.NewNop().Sugar() }

// Capture returns a logger recording entries in memory, plus the recorded
// entries. Used in place of the console when a caller wants to assert on or
// forward client logs.
func Capture(level string) (Sugared, *observer.ObservedLogs) {
	core, logs := observer.New(parseLevel(level))
	return zap.New(core).Sugar(), logs
}

// WithContext attaches ctx as structured fields, in sorted key order.
func WithContext(log Sugared, ctx map[string]string) Sugared {
	if len(ctx) == 0 {
		return log
	}
	kv := make([]any, 0, len(ctx)*2)
	for _, k := range sortedKeys(ctx) {
		kv = append(kv, k, ctx[k])
	}
	return log.With(kv...)
}

func parseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
