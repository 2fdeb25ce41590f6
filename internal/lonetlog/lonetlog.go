// Package lonetlog provides the package-level structured logger used
// throughout lonet, following the same "global accessor over a
// swappable *zap.Logger" pattern as the teacher repo's Log() function
// in logging.go. Logging *configuration* (sinks, encoders, levels) is
// out of scope per spec.md §1; this package only carries the ambient
// logging mechanism itself.
package lonetlog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger = newDefault()
)

func newDefault() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// L returns the current logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the package logger, letting a hosting process
// wire its own sink/level.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}
