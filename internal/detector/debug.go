package detector

import (
	"io"
	"log"
	"sync"
)

var (
	logMu     sync.RWMutex
	opsLogger *log.Logger
)

// SetLogWriters configures logging for the detector package. Only the ops
// stream is used.
func SetLogWriters(ops, diag, trace io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	if ops == nil {
		opsLogger = nil
		return
	}
	opsLogger = log.New(ops, "[detector] ", log.LstdFlags|log.Lmicroseconds)
}

func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
