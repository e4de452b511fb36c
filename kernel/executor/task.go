package executor

import (
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
)

// ID uniquely identifies a task.
type ID uint64

// Kind distinguishes kernel tasks from tasks running user code.
type Kind uint8

const (
	// KindKernel tasks only run kernel futures.
	KindKernel Kind = iota

	// KindUser tasks run a user program.
	KindUser
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == KindUser {
		return "user"
	}
	return "kernel"
}

// Extension carries the subsystem specific state of a task.
type Extension interface {
	// BeforeRun is invoked every time the task is about to be polled.
	BeforeRun(h hal.Hart)
}

// Task is the unit of scheduling.
type Task struct {
	id   ID
	kind Kind
	ext  Extension

	queued atomic.Bool
}

// NewTask creates a task. ext may be nil.
func NewTask(id ID, kind Kind, ext Extension) *Task {
	return &Task{id: id, kind: kind, ext: ext}
}

// ID returns the task identifier.
func (t *Task) ID() ID { return t.id }

// Kind returns the task kind.
func (t *Task) Kind() Kind { return t.kind }

// Extension returns the state attached to the task.
func (t *Task) Extension() Extension { return t.ext }
