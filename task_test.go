//go:build !ios && !android && (amd64 || arm64)

package gosparse

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/envconfig"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"github.com/obinnaokechukwu/gosparse/hostrt/inproc"
)

func TestEnqueue_Backends(t *testing.T) {
	tests := []struct {
		backend   TaskBackend
		wantKind  string
		wantSyncs int
	}{
		{HostTask, "host_task", 1},
		{CustomOperation, "custom_operation", 0},
	}

	for _, tt := range tests {
		t.Run(tt.backend.String(), func(t *testing.T) {
			fake, b := newTestBackend(t, WithTaskBackend(tt.backend))
			q := newTestQueue(fake, newTestContext(fake))
			if b.TaskBackend() != tt.backend {
				t.Fatalf("TaskBackend = %s, want %s", b.TaskBackend(), tt.backend)
			}

			var h cusparse.Handle
			err := RunLocked(func(*HandleCache) error {
				cgh := &testHandler{q: q}
				b.Enqueue(cgh, q, func(sc *ScopedContextHandler) error {
					var err error
					h, err = sc.Handle(q)
					return err
				})
				if cgh.kind != tt.wantKind {
					t.Errorf("scheduled as %q, want %q", cgh.kind, tt.wantKind)
				}
				return cgh.run()
			})
			if err != nil {
				t.Fatal(err)
			}
			if h == 0 {
				t.Fatal("work did not run")
			}
			if n := fake.Syncs(q.stream); n != tt.wantSyncs {
				t.Errorf("Syncs = %d, want %d", n, tt.wantSyncs)
			}
			if fake.Live() != 0 {
				t.Errorf("%d handles live after the worker exited", fake.Live())
			}
		})
	}
}

func TestEnqueue_WorkErrorRestoresContext(t *testing.T) {
	fake, b := newTestBackend(t)
	q := newTestQueue(fake, newTestContext(fake))
	other := fake.NewContext()
	boom := errors.New("boom")

	err := RunLocked(func(*HandleCache) error {
		fake.SetCurrentQuiet(other)
		defer fake.SetCurrentQuiet(0)

		cgh := &testHandler{q: q}
		b.Enqueue(cgh, q, func(*ScopedContextHandler) error { return boom })
		err := cgh.run()
		if got := fake.Current(); got != other {
			t.Errorf("current after failed work = %s, want %s", got, other)
		}
		return err
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if n := fake.Syncs(q.stream); n != 0 {
		t.Errorf("failed work drained the stream %d times", n)
	}
}

func TestEnqueue_DrainFailure(t *testing.T) {
	fake, b := newTestBackend(t, WithTaskBackend(HostTask))
	q := newTestQueue(fake, newTestContext(fake))

	fake.FailNext("cuStreamSynchronize", 700)
	err := RunLocked(func(*HandleCache) error {
		cgh := &testHandler{q: q}
		b.Enqueue(cgh, q, func(*ScopedContextHandler) error { return nil })
		return cgh.run()
	})
	if !IsDriverError(err) {
		t.Errorf("err = %v, want driver error", err)
	}
}

func TestEnqueue_CacheSharedByWorker(t *testing.T) {
	fake, b := newTestBackend(t)
	q := newTestQueue(fake, newTestContext(fake))

	locals := &testLocals{}
	err := RunLocked(func(*HandleCache) error {
		defer locals.close()
		var hs []cusparse.Handle
		for i := 0; i < 3; i++ {
			cgh := &testHandler{q: q, locals: locals}
			b.Enqueue(cgh, q, func(sc *ScopedContextHandler) error {
				h, err := sc.Handle(q)
				hs = append(hs, h)
				return err
			})
			if err := cgh.run(); err != nil {
				return err
			}
		}
		if hs[0] != hs[1] || hs[1] != hs[2] {
			t.Errorf("tasks on one worker got handles %v, want one", hs)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if fake.Created() != 1 || fake.Live() != 0 {
		t.Errorf("created %d, live %d; want 1, 0", fake.Created(), fake.Live())
	}
}

func TestEnqueue_Inproc(t *testing.T) {
	tests := []struct {
		name         string
		releaseFirst bool
	}{
		{name: "runtime closed first"},
		{name: "context released first", releaseFirst: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, b := newTestBackend(t)
			base := slots.Len()
			rt := inproc.New(fake, inproc.WithWorkers(3))

			ctx, err := rt.NewContext(0)
			if err != nil {
				t.Fatal(err)
			}
			var queues []*inproc.Queue
			for i := 0; i < 2; i++ {
				q, err := ctx.NewQueue()
				if err != nil {
					t.Fatal(err)
				}
				queues = append(queues, q)
			}

			var (
				mu   sync.Mutex
				seen = map[cusparse.Handle]bool{}
				evs  []hostrt.Event
			)
			for i := 0; i < 32; i++ {
				q := queues[i%len(queues)]
				evs = append(evs, q.Submit(func(cgh hostrt.Handler) {
					b.Enqueue(cgh, q, func(sc *ScopedContextHandler) error {
						h, err := sc.Handle(q)
						if err != nil {
							return err
						}
						if s, _ := fake.HandleStream(h); s != q.NativeStream() {
							t.Errorf("handle %s bound to %s, want %s", h, s, q.NativeStream())
						}
						mu.Lock()
						seen[h] = true
						mu.Unlock()
						return nil
					})
				}))
			}
			for _, ev := range evs {
				if err := ev.Wait(context.Background()); err != nil {
					t.Fatal(err)
				}
			}

			if tt.releaseFirst {
				if err := ctx.Release(); err != nil {
					t.Fatal(err)
				}
				if fake.Live() != 0 {
					t.Errorf("%d handles live after context release", fake.Live())
				}
				if err := rt.Close(); err != nil {
					t.Fatal(err)
				}
			} else {
				if err := rt.Close(); err != nil {
					t.Fatal(err)
				}
				if fake.Live() != 0 {
					t.Errorf("%d handles live after runtime close", fake.Live())
				}
				if err := ctx.Release(); err != nil {
					t.Fatal(err)
				}
			}

			if len(seen) == 0 || len(seen) > rt.Workers() {
				t.Errorf("%d distinct handles for %d workers", len(seen), rt.Workers())
			}
			for h := range seen {
				if n := fake.Destroys(h); n != 1 {
					t.Errorf("handle %s destroyed %d times, want 1", h, n)
				}
			}
			if slots.Len() != base {
				t.Errorf("slots.Len() = %d, want %d", slots.Len(), base)
			}
			if s := b.Stats(); s.HandlesCreated != s.HandlesDestroyed {
				t.Errorf("created %d, destroyed %d", s.HandlesCreated, s.HandlesDestroyed)
			}
		})
	}
}

func TestEnqueue_InprocReleaseDuringTask(t *testing.T) {
	fake, b := newTestBackend(t)
	base := slots.Len()
	rt := inproc.New(fake, inproc.WithWorkers(1))
	defer rt.Close()

	ctx, err := rt.NewContext(0)
	if err != nil {
		t.Fatal(err)
	}
	q, err := ctx.NewQueue()
	if err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	proceed := make(chan struct{})
	var h cusparse.Handle
	ev := q.Submit(func(cgh hostrt.Handler) {
		b.Enqueue(cgh, q, func(sc *ScopedContextHandler) error {
			close(started)
			<-proceed
			var err error
			h, err = sc.Handle(q)
			return err
		})
	})
	<-started

	released := make(chan error, 1)
	go func() { released <- ctx.Release() }()
	for !ctx.Released() {
		runtime.Gosched()
	}
	close(proceed)

	err = ev.Wait(context.Background())
	if !cuda.IsInvalidContext(err) {
		t.Errorf("task err = %v, want a destroyed-context error", err)
	}
	if h != 0 {
		t.Errorf("task got handle %s from a context being released", h)
	}
	if err := <-released; err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}

	if fake.Live() != 0 {
		t.Errorf("%d handles live", fake.Live())
	}
	if slots.Len() != base {
		t.Errorf("slots.Len() = %d, want %d", slots.Len(), base)
	}
	if s := b.Stats(); s.HandlesCreated != s.HandlesDestroyed {
		t.Errorf("created %d, destroyed %d", s.HandlesCreated, s.HandlesDestroyed)
	}
}

func TestNew_TaskBackendFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		want TaskBackend
	}{
		{"", HostTask},
		{"host_task", HostTask},
		{"custom_operation", CustomOperation},
		{"CUSTOM_OPERATION", CustomOperation},
		{"bogus", HostTask},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("GOSPARSE_TASK_BACKEND", tt.env)
			_, b := newTestBackend(t)
			if got := b.TaskBackend(); got != tt.want {
				t.Errorf("TaskBackend = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseTaskBackend(t *testing.T) {
	if tb, ok := ParseTaskBackend(envconfig.BackendCustomOperation); !ok || tb != CustomOperation {
		t.Errorf("ParseTaskBackend(custom_operation) = %s, %v", tb, ok)
	}
	if _, ok := ParseTaskBackend("gpu"); ok {
		t.Error("ParseTaskBackend accepted an unknown name")
	}
	if got := TaskBackend(7).String(); got != "unknown" {
		t.Errorf("String = %q, want unknown", got)
	}
}

func TestCheckOverflow(t *testing.T) {
	if err := CheckOverflow(1, 1<<31-1, -(1<<31 - 1)); err != nil {
		t.Errorf("in-range indices: %v", err)
	}
	err := CheckOverflow(3, 1<<31)
	if !errors.Is(err, ErrIndexOverflow) {
		t.Fatalf("err = %v, want ErrIndexOverflow", err)
	}
	var oe *IndexOverflowError
	if !errors.As(err, &oe) || oe.Arg != 1 {
		t.Errorf("err = %#v, want overflow of argument 1", err)
	}
}

func TestSetLogger(t *testing.T) {
	defer SetLogger(nil)
	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("Logger() = nil")
	}
}
