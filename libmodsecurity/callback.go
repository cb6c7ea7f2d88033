//go:build libmodsecurity

package libmodsecurity

/*
#include <stdint.h>
*/
import "C"

import (
	"runtime/cgo"
	"sync"
)

// transactionLog is the log callback data of a single transaction.
type transactionLog struct {
	session *sessionImpl
	tag     string
}

// Engine lines without callback data belong to no transaction. They go to every live session.
var (
	sessionsMu sync.RWMutex
	sessions   = map[*sessionImpl]struct{}{}
)

func registerSession(s *sessionImpl) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	sessions[s] = struct{}{}
}

func unregisterSession(s *sessionImpl) {
	sessionsMu.Lock()
	defer sessionsMu.Unlock()
	delete(sessions, s)
}

//export goLogCallback
func goLogCallback(h C.uintptr_t, msg *C.char) {
	if msg == nil {
		return
	}
	line := C.GoString(msg)

	if h != 0 {
		if tl, ok := cgo.Handle(h).Value().(*transactionLog); ok {
			tl.session.log(tl.tag, line)
			return
		}
	}

	sessionsMu.RLock()
	defer sessionsMu.RUnlock()
	for s := range sessions {
		s.log("", line)
	}
}

func (s *sessionImpl) log(tag string, msg string) {
	s.mu.RLock()
	cb := s.logCb
	s.mu.RUnlock()
	if cb != nil {
		cb(tag, msg)
	}
}

