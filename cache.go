//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"errors"
	"fmt"

	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"github.com/obinnaokechukwu/gosparse/internal/platform"
	"go.uber.org/zap"
)

// HandleCache maps execution contexts to the cuSPARSE handles one worker
// thread created in them.
//
// A cache belongs to exactly one OS thread and is never shared, so it takes
// no locks. Create it on the owning thread (the in-process runtime does this
// lazily through worker-local storage) and Close it on that thread when the
// worker exits.
type HandleCache struct {
	slots  map[cuda.Context]*handleSlot
	tid    uint64
	closed bool
}

// NewHandleCache returns an empty cache owned by the calling OS thread.
// The caller's goroutine must stay locked to that thread while it uses the
// cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{tid: platform.ThreadID()}
}

// Len returns the number of contexts with a cached slot.
func (c *HandleCache) Len() int {
	return len(c.slots)
}

func (c *HandleCache) checkOwner() error {
	if c.closed {
		return ErrCacheClosed
	}
	if platform.ThreadIDSupported() {
		if tid := platform.ThreadID(); tid != c.tid {
			return fmt.Errorf("%w: created on thread %d, used on %d", ErrThreadMismatch, c.tid, tid)
		}
	}
	return nil
}

// getOrCreate returns the calling thread's handle for ctx bound to stream.
// The context must already be current.
func (c *HandleCache) getOrCreate(b *Backend, ctx hostrt.Context, stream cuda.Stream) (cusparse.Handle, error) {
	if err := c.checkOwner(); err != nil {
		return 0, err
	}
	key := ctx.Native()

	if s, ok := c.slots[key]; ok {
		if h := s.load(); h != 0 {
			if err := b.bindStream(h, stream); err != nil {
				return 0, err
			}
			return h, nil
		}
		// The context was torn down and its callback destroyed the handle.
		// The driver may hand out the same context value again; drop the
		// stale slot and finish its release as the second party. The slot
		// is already empty, so release only frees it and cannot fail.
		delete(c.slots, key)
		if destroyed, err := s.release(); destroyed || err != nil {
			b.log.Error("releasing stale cusparse slot",
				zap.Stringer("context", key),
				zap.Bool("destroyed_handle", destroyed),
				zap.Error(err))
		}
	}

	h, err := b.lib.Create()
	if err != nil {
		return 0, err
	}
	if err := b.lib.SetStream(h, stream); err != nil {
		if derr := b.lib.Destroy(h); derr != nil {
			err = errors.Join(err, derr)
		}
		return 0, err
	}
	b.stats.handlesCreated.Add(1)

	s := newHandleSlot(b, key, h)
	if c.slots == nil {
		c.slots = make(map[cuda.Context]*handleSlot)
	}
	c.slots[key] = s
	ctx.SetExtendedDeleter(ContextCallback, s.id)
	if s.load() == 0 {
		// The context is being torn down and ran the deleter on
		// registration; the handle is gone.
		delete(c.slots, key)
		if _, err := s.release(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("creating cusparse handle in %s: %w", key,
			cuda.NewError(cuda.ErrorContextIsDestroyed, "SetExtendedDeleter"))
	}

	b.log.Debug("created cusparse handle",
		zap.Stringer("context", key),
		zap.Stringer("stream", stream),
		zap.Stringer("handle", h),
		zap.Uint64("thread", c.tid))
	return h, nil
}

// Close destroys every handle still live in the cache. Slots whose context
// was already torn down are freed instead. Close must run on the owning
// thread with no handler active; it is idempotent.
func (c *HandleCache) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for key, s := range c.slots {
		if _, err := s.release(); err != nil {
			errs = append(errs, fmt.Errorf("releasing handle for %s: %w", key, err))
		}
	}
	c.slots = nil
	return errors.Join(errs...)
}

// bindStream points h at stream if it is bound elsewhere.
func (b *Backend) bindStream(h cusparse.Handle, stream cuda.Stream) error {
	cur, err := b.lib.GetStream(h)
	if err != nil {
		return err
	}
	if cur == stream {
		return nil
	}
	if err := b.lib.SetStream(h, stream); err != nil {
		return err
	}
	b.stats.streamRebinds.Add(1)
	b.log.Debug("rebound cusparse handle",
		zap.Stringer("handle", h),
		zap.Stringer("from", cur),
		zap.Stringer("to", stream))
	return nil
}
