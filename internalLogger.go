package cwlogs

import (
	"log"
	"os"
	"sync/atomic"
)

var internalLogger atomic.Pointer[log.Logger]

func init() {
	internalLogger.Store(log.New(os.Stderr, "[cwlogs] ", log.LstdFlags))
}

// InternalLogger returns the Logger that receives diagnostics about the
// shipping pipeline itself: truncated messages, dropped events and failed
// deliveries. Delivery happens off the writer's goroutine, so this is the only
// place those failures surface.
func InternalLogger() *log.Logger { return internalLogger.Load() }

// SetInternalLogger makes l the internal logger. Subpackages (forward, beats,
// localstore) report through the same logger.
func SetInternalLogger(l *log.Logger) {
	internalLogger.Store(l)
}
