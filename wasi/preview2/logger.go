package preview2

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

// Logger returns the logger shared by the WASI hosts.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger configures the logger shared by the WASI hosts.
func SetLogger(l *zap.Logger) {
	logger.Store(l)
}
