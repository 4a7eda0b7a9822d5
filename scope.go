//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"go.uber.org/zap"
)

// ScopedContextHandler makes a queue's CUDA context current on the calling
// thread for as long as it is open, and hands out the thread's cuSPARSE
// handle for that context.
//
// Always pair construction with a deferred Close:
//
//	sc, err := b.NewScopedContextHandler(q, cache)
//	if err != nil {
//		return err
//	}
//	defer sc.Close()
//
// If another context was current when the handler was created, Close makes it
// current again. If no context was current, the queue's context is left in
// place: that is the single primary context case, and leaving it avoids a
// context switch on every call.
type ScopedContextHandler struct {
	b      *Backend
	cache  *HandleCache
	placed hostrt.Context

	original    cuda.Context
	needRecover bool
	closed      bool
}

// NewScopedContextHandler activates q's context on the calling thread.
// cache must belong to the calling thread.
func (b *Backend) NewScopedContextHandler(q hostrt.Queue, cache *HandleCache) (*ScopedContextHandler, error) {
	if err := cache.checkOwner(); err != nil {
		return nil, err
	}

	placed := q.Context()
	desired := placed.Native()

	original, err := b.driver.CtxGetCurrent()
	if err != nil {
		return nil, err
	}

	sc := &ScopedContextHandler{
		b:        b,
		cache:    cache,
		placed:   placed,
		original: original,
	}
	if original != desired {
		if err := b.driver.CtxSetCurrent(desired); err != nil {
			return nil, err
		}
		sc.needRecover = original != 0
		b.stats.contextSwitches.Add(1)
		b.log.Debug("switched current context",
			zap.Stringer("from", original),
			zap.Stringer("to", desired),
			zap.Bool("restore_on_close", sc.needRecover))
	}
	return sc, nil
}

// Handle returns the calling thread's cuSPARSE handle for the handler's
// context, bound to q's stream. The first call per thread and context creates
// the handle; later calls reuse it and rebind the stream when q's stream
// differs from the one the handle was last used with.
func (sc *ScopedContextHandler) Handle(q hostrt.Queue) (cusparse.Handle, error) {
	if sc.closed {
		return 0, ErrHandlerClosed
	}
	return sc.cache.getOrCreate(sc.b, sc.placed, q.NativeStream())
}

// Stream returns q's native stream.
func (sc *ScopedContextHandler) Stream(q hostrt.Queue) cuda.Stream {
	return q.NativeStream()
}

// Context returns q's execution context.
func (sc *ScopedContextHandler) Context(q hostrt.Queue) hostrt.Context {
	return q.Context()
}

// WaitStream blocks until all work queued on q's stream has completed.
func (sc *ScopedContextHandler) WaitStream(q hostrt.Queue) error {
	if sc.closed {
		return ErrHandlerClosed
	}
	return sc.b.driver.StreamSynchronize(q.NativeStream())
}

// CallSync runs a cuSPARSE call given by its name and status, and when it
// succeeded, waits for the stream h is bound to. For routines whose results
// the caller reads right after the call.
func (sc *ScopedContextHandler) CallSync(op string, h cusparse.Handle, st cusparse.Status) error {
	if err := cusparse.NewError(st, op); err != nil {
		return err
	}
	s, err := sc.b.lib.GetStream(h)
	if err != nil {
		return err
	}
	return sc.b.driver.StreamSynchronize(s)
}

// Close restores the context that was current before the handler, if one
// was. It is safe to call more than once; only the first call acts.
func (sc *ScopedContextHandler) Close() error {
	if sc.closed {
		return nil
	}
	sc.closed = true
	if !sc.needRecover {
		return nil
	}
	if err := sc.b.driver.CtxSetCurrent(sc.original); err != nil {
		return err
	}
	sc.b.stats.contextRestores.Add(1)
	sc.b.log.Debug("restored current context", zap.Stringer("context", sc.original))
	return nil
}
