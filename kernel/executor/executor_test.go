package executor

import (
	"context"
	"runtime"
	"testing"

	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/vmm"
)

type fakeHart struct{ id int }

func (h fakeHart) ID() int { return h.id }

func (h fakeHart) EnterUser(vmm.AddressSpace, hal.Context) hal.Trap {
	return hal.Trap{Kind: hal.TrapUnknown}
}

type recordingExt struct{ runs int }

func (r *recordingExt) BeforeRun(hal.Hart) { r.runs++ }

func TestYield(t *testing.T) {
	y := YieldNow()
	if _, ok := y.Poll(nil); ok {
		t.Fatal("expected first poll to be pending")
	}

	if _, ok := y.Poll(nil); !ok {
		t.Fatal("expected second poll to be ready")
	}
}

func pendingFor[T any](polls int, v T) Future[T] {
	return FutureFunc[T](func(*PollContext) (T, bool) {
		if polls > 0 {
			polls--
			var zero T
			return zero, false
		}
		return v, true
	})
}

func TestSelect(t *testing.T) {
	t.Run("right completes first", func(t *testing.T) {
		sel := Select[int, string](pendingFor(3, 1), pendingFor(1, "b"))

		var (
			res Either[int, string]
			ok  bool
		)
		for polls := 0; !ok; polls++ {
			if polls > 5 {
				t.Fatal("select did not complete")
			}
			res, ok = sel.Poll(nil)
		}

		if res.IsLeft || res.Right != "b" || res.PendingLeft == nil {
			t.Fatalf("expected right side to win; got %+v", res)
		}

		// The losing future can be resumed
		if _, ok = res.PendingLeft.Poll(nil); ok {
			t.Fatal("expected left side to still be pending")
		}
	})

	t.Run("left wins ties", func(t *testing.T) {
		sel := Select(Ready(1), Ready("b"))
		res, ok := sel.Poll(nil)
		if !ok || !res.IsLeft || res.Left != 1 || res.PendingRight == nil {
			t.Fatalf("expected left side to win; got %+v", res)
		}
	})

	t.Run("poll after completion panics", func(t *testing.T) {
		sel := Select(Ready(1), Ready(2))
		sel.Poll(nil)

		defer func() {
			if err := recover(); err != errSelectPolledAfterCompletion {
				t.Fatalf("expected errSelectPolledAfterCompletion; got %v", err)
			}
		}()
		sel.Poll(nil)
	})
}

func TestTaskTable(t *testing.T) {
	tt := NewTaskTable()
	live := NewTask(1, KindUser, nil)
	tt.Register(live)

	if got, ok := tt.Lookup(1); !ok || got != live {
		t.Fatalf("expected lookup to return the live task; got %v, %t", got, ok)
	}

	if _, ok := tt.Lookup(2); ok {
		t.Fatal("expected lookup of an unknown id to fail")
	}

	tt.Release(1)
	if _, ok := tt.Lookup(1); ok {
		t.Fatal("expected lookup of a released id to fail")
	}
	runtime.KeepAlive(live)
}

func TestTaskTablePrunesCollectedTasks(t *testing.T) {
	tt := NewTaskTable()
	func() {
		tt.Register(NewTask(7, KindKernel, nil))
	}()

	for i := 0; i < 3; i++ {
		runtime.GC()
	}

	if _, ok := tt.Lookup(7); ok {
		t.Fatal("expected lookup of a collected task to fail")
	}

	if got := tt.Len(); got != 0 {
		t.Fatalf("expected stale entry to be pruned; table has %d entries", got)
	}
}

func TestExecutorRoundRobin(t *testing.T) {
	var (
		e     = New(NewTaskTable())
		hart  = fakeHart{id: 0}
		trace []ID
	)

	body := func(steps int) Future[struct{}] {
		return FutureFunc[struct{}](func(cx *PollContext) (struct{}, bool) {
			trace = append(trace, cx.Task.ID())
			steps--
			return struct{}{}, steps == 0
		})
	}

	a := e.SpawnKernel(body(2))
	b := e.SpawnKernel(body(1))
	c := e.SpawnKernel(body(3))

	if got := e.Pending(); got != 3 {
		t.Fatalf("expected 3 pending tasks; got %d", got)
	}

	if polls := e.RunUntilIdle(hart); polls != 6 {
		t.Fatalf("expected 6 polls; got %d", polls)
	}

	exp := []ID{a.ID(), b.ID(), c.ID(), a.ID(), c.ID(), c.ID()}
	if len(trace) != len(exp) {
		t.Fatalf("expected trace %v; got %v", exp, trace)
	}
	for i := range exp {
		if trace[i] != exp[i] {
			t.Fatalf("expected trace %v; got %v", exp, trace)
		}
	}
}

func TestExecutorQueueGrowth(t *testing.T) {
	e := New(NewTaskTable())
	for i := 0; i < 40; i++ {
		e.SpawnKernel(yieldTask())
	}

	if got := e.RunUntilIdle(fakeHart{}); got != 80 {
		t.Fatalf("expected every task to be polled twice; got %d polls", got)
	}
}

func yieldTask() Future[struct{}] {
	return YieldNow()
}

func TestExecutorCurrentAndBeforeRun(t *testing.T) {
	var (
		e    = New(NewTaskTable())
		hart = fakeHart{id: 3}
		ext  = &recordingExt{}
		task = NewTask(e.AllocID(), KindUser, ext)
		seen *Task
	)

	e.Spawn(task, FutureFunc[struct{}](func(cx *PollContext) (struct{}, bool) {
		seen, _ = e.Current(cx.Hart.ID())
		return struct{}{}, cx.Executor == e
	}))
	e.RunUntilIdle(hart)

	if seen != task {
		t.Fatalf("expected Current to return the polled task; got %v", seen)
	}

	if _, ok := e.Current(hart.ID()); ok {
		t.Fatal("expected no current task once the executor is idle")
	}

	if ext.runs != 1 {
		t.Fatalf("expected BeforeRun to be called once; got %d", ext.runs)
	}

	if _, ok := e.Table().Lookup(task.ID()); !ok {
		t.Fatal("expected spawned task to be registered")
	}
}

func TestExecutorDoubleSpawn(t *testing.T) {
	e := New(NewTaskTable())
	task := NewTask(e.AllocID(), KindKernel, nil)
	e.Spawn(task, Ready(struct{}{}))

	defer func() {
		if err := recover(); err != errAlreadySpawned {
			t.Fatalf("expected errAlreadySpawned; got %v", err)
		}
	}()
	e.Spawn(task, Ready(struct{}{}))
}

func TestExecutorRunCancelled(t *testing.T) {
	e := New(NewTaskTable())
	e.SpawnKernel(FutureFunc[struct{}](func(*PollContext) (struct{}, bool) {
		return struct{}{}, false
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := e.Run(ctx, fakeHart{}); err != context.Canceled {
		t.Fatalf("expected context.Canceled; got %v", err)
	}

	if got := e.Pending(); got != 1 {
		t.Fatalf("expected the blocked task to remain queued; got %d", got)
	}
}
