//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"
	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/internal/handles"
	"go.uber.org/zap"
)

// handleSlot holds one cached handle shared by its two possible destroyers:
// the HandleCache of the worker that created it, and the context-destruction
// callback the runtime runs when the context goes away.
//
// The slot is Live while handle != 0 and Empty once either destroyer has
// swapped it to 0. The destroyer that swaps out a live handle destroys it;
// the one that swaps out 0 arrives second and releases the slot's registry
// entry. All mutation goes through release.
type handleSlot struct {
	handle atomic.Uintptr
	id     uintptr // key in slots; passed to the runtime as user data
	ctx    cuda.Context
	b      *Backend
}

// slots keeps every live handleSlot reachable while its id is held by the
// runtime as callback user data.
var slots handles.Table[*handleSlot]

func newHandleSlot(b *Backend, ctx cuda.Context, h cusparse.Handle) *handleSlot {
	s := &handleSlot{ctx: ctx, b: b}
	s.handle.Store(uintptr(h))
	s.id = slots.Register(s)
	return s
}

// load returns the live handle, or 0 once the slot has been emptied.
func (s *handleSlot) load() cusparse.Handle {
	return cusparse.Handle(s.handle.Load())
}

// release empties the slot. It reports whether this call destroyed the
// handle; a false return means the other destroyer already had, and the
// slot's storage has now been freed.
func (s *handleSlot) release() (destroyed bool, err error) {
	h := cusparse.Handle(s.handle.Swap(0))
	if h == 0 {
		slots.Unregister(s.id)
		return false, nil
	}
	if err := s.b.lib.Destroy(h); err != nil {
		return true, err
	}
	s.b.stats.handlesDestroyed.Add(1)
	return true, nil
}

// ContextCallback is the deleter gosparse registers for every handle it
// creates. The runtime calls it with the registered user data when the
// handle's execution context is torn down, on whatever thread that happens.
//
// It destroys the handle unless the owning worker's cache already has, in
// which case it frees the slot. Unknown user data is ignored.
func ContextCallback(userData uintptr) {
	s, ok := slots.Lookup(userData)
	if !ok {
		return
	}
	s.b.stats.callbacksFired.Add(1)

	destroyed, err := s.release()
	if err != nil {
		// Nobody to return the error to; the runtime is tearing down.
		s.b.log.Error("destroying cusparse handle on context teardown",
			zap.Stringer("context", s.ctx),
			zap.Error(err))
		return
	}
	s.b.log.Debug("context torn down",
		zap.Stringer("context", s.ctx),
		zap.Bool("destroyed_handle", destroyed))
}

var (
	callbackOnce sync.Once
	callbackPtr  uintptr
)

// ContextCallbackPtr returns a C function pointer, void (*)(void *), that
// invokes ContextCallback. Runtimes that register context deleters natively
// take this pointer and the slot's user data.
func ContextCallbackPtr() uintptr {
	callbackOnce.Do(func() {
		callbackPtr = purego.NewCallback(func(_ purego.CDecl, userData uintptr) {
			ContextCallback(userData)
		})
	})
	return callbackPtr
}
