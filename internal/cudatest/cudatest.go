//go:build !ios && !android && (amd64 || arm64)

// Package cudatest provides an in-memory CUDA driver and cuSPARSE library
// that record every call, for tests that must run without a GPU.
//
// The fake keeps a current context per OS thread, like the real driver, so
// callers must lock their goroutine to a thread to get stable behavior.
package cudatest

import (
	"strings"
	"sync"

	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/internal/platform"
)

// Call is one recorded driver or library call.
type Call struct {
	Op     string
	Ctx    cuda.Context
	Stream cuda.Stream
	Handle cusparse.Handle
}

type handleState struct {
	ctx    cuda.Context
	stream cuda.Stream
}

// Fake implements the driver and library interfaces used by gosparse and the
// provider interface used by hostrt/inproc. The zero value is not usable;
// call New.
type Fake struct {
	mu sync.Mutex

	current  map[uint64]cuda.Context
	primary  map[int]cuda.Context
	retained map[int]int
	streams  map[cuda.Stream]cuda.Context
	live     map[cusparse.Handle]*handleState
	destroys map[cusparse.Handle]int
	syncs    map[cuda.Stream]int
	fail     map[string]int32

	nextCtx    uintptr
	nextStream uintptr
	nextHandle uintptr

	created int
	calls   []Call
}

// New returns an empty fake with no contexts, streams or handles.
func New() *Fake {
	return &Fake{
		current:    make(map[uint64]cuda.Context),
		primary:    make(map[int]cuda.Context),
		retained:   make(map[int]int),
		streams:    make(map[cuda.Stream]cuda.Context),
		live:       make(map[cusparse.Handle]*handleState),
		destroys:   make(map[cusparse.Handle]int),
		syncs:      make(map[cuda.Stream]int),
		fail:       make(map[string]int32),
		nextCtx:    0x1000,
		nextStream: 0x2000,
		nextHandle: 0x3000,
	}
}

// FailNext makes the next call of op fail with code. Driver entry points
// ("cu...") fail with a *cuda.Error, library ones ("cusparse...") with a
// *cusparse.Error.
func (f *Fake) FailNext(op string, code int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = code
}

// record logs a call and returns the injected failure for op, if any.
// f.mu must be held.
func (f *Fake) record(c Call) error {
	f.calls = append(f.calls, c)
	code, ok := f.fail[c.Op]
	if !ok {
		return nil
	}
	delete(f.fail, c.Op)
	if strings.HasPrefix(c.Op, "cusparse") {
		return cusparse.NewError(cusparse.Status(code), c.Op)
	}
	return cuda.NewError(cuda.Result(code), c.Op)
}

// NewContext returns a fresh context value not tied to any device.
func (f *Fake) NewContext() cuda.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextCtx += 0x10
	return cuda.Context(f.nextCtx)
}

// NewStream returns a fresh stream in ctx without recording a call.
func (f *Fake) NewStream(ctx cuda.Context) cuda.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextStream += 0x10
	s := cuda.Stream(f.nextStream)
	f.streams[s] = ctx
	return s
}

// CtxGetCurrent implements the driver call.
func (f *Fake) CtxGetCurrent() (cuda.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := f.current[platform.ThreadID()]
	if err := f.record(Call{Op: "cuCtxGetCurrent"}); err != nil {
		return 0, err
	}
	return cur, nil
}

// CtxSetCurrent implements the driver call.
func (f *Fake) CtxSetCurrent(ctx cuda.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cuCtxSetCurrent", Ctx: ctx}); err != nil {
		return err
	}
	f.current[platform.ThreadID()] = ctx
	return nil
}

// StreamSynchronize implements the driver call.
func (f *Fake) StreamSynchronize(s cuda.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cuStreamSynchronize", Stream: s}); err != nil {
		return err
	}
	f.syncs[s]++
	return nil
}

// DevicePrimaryCtxRetain implements the provider call. Every retain of the
// same ordinal returns the same context.
func (f *Fake) DevicePrimaryCtxRetain(ordinal int) (cuda.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cuDevicePrimaryCtxRetain"}); err != nil {
		return 0, err
	}
	ctx, ok := f.primary[ordinal]
	if !ok {
		f.nextCtx += 0x10
		ctx = cuda.Context(f.nextCtx)
		f.primary[ordinal] = ctx
	}
	f.retained[ordinal]++
	return ctx, nil
}

// DevicePrimaryCtxRelease implements the provider call.
func (f *Fake) DevicePrimaryCtxRelease(ordinal int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cuDevicePrimaryCtxRelease", Ctx: f.primary[ordinal]}); err != nil {
		return err
	}
	if f.retained[ordinal] == 0 {
		return cuda.NewError(cuda.ErrorInvalidContext, "cuDevicePrimaryCtxRelease")
	}
	f.retained[ordinal]--
	return nil
}

// StreamCreate implements the provider call.
func (f *Fake) StreamCreate(ctx cuda.Context) (cuda.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cuStreamCreate", Ctx: ctx}); err != nil {
		return 0, err
	}
	f.nextStream += 0x10
	s := cuda.Stream(f.nextStream)
	f.streams[s] = ctx
	return s, nil
}

// StreamDestroy implements the provider call.
func (f *Fake) StreamDestroy(ctx cuda.Context, s cuda.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cuStreamDestroy", Ctx: ctx, Stream: s}); err != nil {
		return err
	}
	if _, ok := f.streams[s]; !ok {
		return cuda.NewError(cuda.ErrorInvalidHandle, "cuStreamDestroy")
	}
	delete(f.streams, s)
	return nil
}

// Create implements the library call. Like cusparseCreate it needs a
// current context on the calling thread.
func (f *Fake) Create() (cusparse.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ctx := f.current[platform.ThreadID()]
	if err := f.record(Call{Op: "cusparseCreate", Ctx: ctx}); err != nil {
		return 0, err
	}
	if ctx == 0 {
		return 0, cusparse.NewError(cusparse.StatusNotInitialized, "cusparseCreate")
	}
	f.nextHandle += 0x10
	h := cusparse.Handle(f.nextHandle)
	f.live[h] = &handleState{ctx: ctx}
	f.created++
	return h, nil
}

// Destroy implements the library call. Destroying a handle that is not live
// fails and is counted, so double destroys show up in Destroys.
func (f *Fake) Destroy(h cusparse.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys[h]++
	if err := f.record(Call{Op: "cusparseDestroy", Handle: h}); err != nil {
		return err
	}
	if _, ok := f.live[h]; !ok {
		return cusparse.NewError(cusparse.StatusNotInitialized, "cusparseDestroy")
	}
	delete(f.live, h)
	return nil
}

// SetStream implements the library call.
func (f *Fake) SetStream(h cusparse.Handle, s cuda.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cusparseSetStream", Handle: h, Stream: s}); err != nil {
		return err
	}
	st, ok := f.live[h]
	if !ok {
		return cusparse.NewError(cusparse.StatusNotInitialized, "cusparseSetStream")
	}
	st.stream = s
	return nil
}

// GetStream implements the library call.
func (f *Fake) GetStream(h cusparse.Handle) (cuda.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record(Call{Op: "cusparseGetStream", Handle: h}); err != nil {
		return 0, err
	}
	st, ok := f.live[h]
	if !ok {
		return 0, cusparse.NewError(cusparse.StatusNotInitialized, "cusparseGetStream")
	}
	return st.stream, nil
}

// Current returns the calling thread's current context without recording a call.
func (f *Fake) Current() cuda.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[platform.ThreadID()]
}

// SetCurrentQuiet sets the calling thread's current context without
// recording a call, to arrange a test's starting state.
func (f *Fake) SetCurrentQuiet(ctx cuda.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current[platform.ThreadID()] = ctx
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsOf returns the recorded calls of one entry point.
func (f *Fake) CallsOf(op string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Created returns the number of handles created.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Live returns the number of handles created and not yet destroyed.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// Destroys returns how many times Destroy was called for h.
func (f *Fake) Destroys(h cusparse.Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroys[h]
}

// HandleContext returns the context h was created in, and whether h is live.
func (f *Fake) HandleContext(h cusparse.Handle) (cuda.Context, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.live[h]
	if !ok {
		return 0, false
	}
	return st.ctx, true
}

// HandleStream returns the stream h is bound to, and whether h is live.
func (f *Fake) HandleStream(h cusparse.Handle) (cuda.Stream, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.live[h]
	if !ok {
		return 0, false
	}
	return st.stream, true
}

// Syncs returns how many times s was synchronized.
func (f *Fake) Syncs(s cuda.Stream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs[s]
}

// Retained returns the outstanding primary context references of a device.
func (f *Fake) Retained(ordinal int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retained[ordinal]
}
