package goroutine

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Recover logs a panic with its stack instead of letting it crash the process.
// Use as `defer goroutine.Recover(log, "name")`.
func Recover(log *zap.Logger, name string) {
	if r := recover(); r != nil {
		log.Error("panic in goroutine",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()),
		)
	}
}

// SafeGo runs fn in a new goroutine with panic recovery.
func SafeGo(log *zap.Logger, name string, fn func()) {
	go func() {
		defer Recover(log, name)
		fn()
	}()
}
