// Package executor implements the cooperative task scheduler. Every runnable
// task is represented by a future in a FIFO ready queue; the executor pops the
// front item, polls it once and re-queues it at the back if it is still
// pending. There is no wake list: a blocked task is simply polled again on the
// next pass.
package executor

import (
	"context"
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	ksync "github.com/Byte-OS/ByteOS-sub001/kernel/sync"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	errAlreadySpawned = &kernel.Error{Module: "executor", Message: "task spawned more than once"}
	errDanglingTask   = &kernel.Error{Module: "executor", Message: "ready queue item without a task"}
)

// item pairs a task future with the task that owns it.
type item struct {
	task *Task
	fut  Future[struct{}]
}

// readyQueue is a growable ring buffer of items.
type readyQueue struct {
	items []item
	head  int
	count int
}

func (q *readyQueue) push(it item) {
	if q.count == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.count)%len(q.items)] = it
	q.count++
}

func (q *readyQueue) pop() (item, bool) {
	if q.count == 0 {
		return item{}, false
	}

	it := q.items[q.head]
	q.items[q.head] = item{}
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return it, true
}

func (q *readyQueue) grow() {
	size := len(q.items) * 2
	if size == 0 {
		size = 16
	}

	items := make([]item, size)
	for i := 0; i < q.count; i++ {
		items[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = items
	q.head = 0
}

// Executor drives task futures to completion.
type Executor struct {
	lock  ksync.Spinlock
	queue readyQueue

	table  *TaskTable
	nextID atomic.Uint64

	curMu   sync.Mutex
	current map[int]*Task

	log kfmt.Logger
}

// New creates an executor that registers spawned tasks in table.
func New(table *TaskTable) *Executor {
	return &Executor{
		table:   table,
		current: make(map[int]*Task),
		log:     kfmt.Logger{Module: "executor"},
	}
}

// Table returns the task table used by the executor.
func (e *Executor) Table() *TaskTable {
	return e.table
}

// AllocID returns a fresh task id. Ids start at 1.
func (e *Executor) AllocID() ID {
	return ID(e.nextID.Add(1))
}

// Spawn registers t in the task table and appends body to the ready queue.
// Spawning the same task twice is a caller error.
func (e *Executor) Spawn(t *Task, body Future[struct{}]) {
	if t.queued.Swap(true) {
		panic(errAlreadySpawned)
	}

	e.table.Register(t)
	e.push(item{task: t, fut: body})
	e.log.Debugf("spawned %s task %d", t.Kind(), t.ID())
}

// SpawnKernel spawns body as a new kernel task.
func (e *Executor) SpawnKernel(body Future[struct{}]) *Task {
	t := NewTask(e.AllocID(), KindKernel, nil)
	e.Spawn(t, body)
	return t
}

// Pending returns the number of items in the ready queue.
func (e *Executor) Pending() int {
	e.lock.Acquire()
	defer e.lock.Release()
	return e.queue.count
}

// Current returns the task being polled on the given hart.
func (e *Executor) Current(hartID int) (*Task, bool) {
	e.curMu.Lock()
	defer e.curMu.Unlock()
	t, ok := e.current[hartID]
	return t, ok
}

// RunOnce pops the front of the ready queue and polls it once. It returns
// false if the queue was empty.
func (e *Executor) RunOnce(h hal.Hart) bool {
	it, ok := e.pop()
	if !ok {
		return false
	}

	if it.task == nil {
		kfmt.Panic(errDanglingTask)
		return true
	}

	e.setCurrent(h.ID(), it.task)
	if ext := it.task.ext; ext != nil {
		ext.BeforeRun(h)
	}

	_, done := it.fut.Poll(&PollContext{Hart: h, Task: it.task, Executor: e})
	e.setCurrent(h.ID(), nil)

	if done {
		e.log.Debugf("%s task %d completed", it.task.Kind(), it.task.ID())
	} else {
		e.push(it)
	}
	return true
}

// Run polls tasks until the ready queue drains or ctx is cancelled.
func (e *Executor) Run(ctx context.Context, h hal.Hart) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !e.RunOnce(h) {
			return nil
		}
	}
}

// RunUntilIdle polls tasks until the ready queue drains and returns the
// number of polls performed.
func (e *Executor) RunUntilIdle(h hal.Hart) int {
	polls := 0
	for e.RunOnce(h) {
		polls++
	}
	return polls
}

func (e *Executor) push(it item) {
	e.lock.Acquire()
	e.queue.push(it)
	e.lock.Release()
}

func (e *Executor) pop() (item, bool) {
	e.lock.Acquire()
	defer e.lock.Release()
	return e.queue.pop()
}

func (e *Executor) setCurrent(hartID int, t *Task) {
	e.curMu.Lock()
	if t == nil {
		delete(e.current, hartID)
	} else {
		e.current[hartID] = t
	}
	e.curMu.Unlock()
}
