//go:build !ios && (amd64 || arm64)

package platform

import (
	"sync"

	"github.com/ebitengine/purego"
)

const threadIDSupported = true

var (
	threadOnce       sync.Once
	pthreadThreadID  func(thread uintptr, id *uint64) int32
	pthreadAvailable bool
)

func threadID() uint64 {
	threadOnce.Do(func() {
		lib, err := purego.Dlopen("/usr/lib/libSystem.B.dylib", purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			return
		}
		purego.RegisterLibFunc(&pthreadThreadID, lib, "pthread_threadid_np")
		pthreadAvailable = true
	})
	if !pthreadAvailable {
		return 0
	}
	var id uint64
	// A zero pthread_t selects the calling thread.
	if pthreadThreadID(0, &id) != 0 {
		return 0
	}
	return id
}
