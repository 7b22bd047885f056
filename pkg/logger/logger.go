package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "signal_bot"

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init собирает процессный логгер. dev=true — человекочитаемый вывод в консоль.
func Init(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	l = l.With(zap.String("service", serviceName))
	Set(l)
	return l, nil
}

// Set подменяет процессный логгер.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// L возвращает текущий логгер; до Init — no-op.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Error — для пакетов без своего логгера (pkg/db, pkg/tracing).
func Error(format string, args ...interface{}) {
	L().Error(fmt.Sprintf(format, args...))
}
