package interop

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	logger atomic.Pointer[zap.Logger]
	nop    = zap.NewNop()
)

// Logger returns the package logger. It is a no-op logger unless SetLogger
// was called.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return nop
}

// SetLogger replaces the package logger. A nil logger restores the no-op one.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
