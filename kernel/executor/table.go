package executor

import (
	"weak"

	"gvisor.dev/gvisor/pkg/sync"
)

// TaskTable maps task ids to weak task references. An entry never keeps a
// task alive; stale entries are removed when a lookup finds them.
type TaskTable struct {
	mu    sync.Mutex
	tasks map[ID]weak.Pointer[Task]
}

// NewTaskTable returns an empty task table.
func NewTaskTable() *TaskTable {
	return &TaskTable{tasks: make(map[ID]weak.Pointer[Task])}
}

// Register adds t to the table.
func (tt *TaskTable) Register(t *Task) {
	tt.mu.Lock()
	tt.tasks[t.ID()] = weak.Make(t)
	tt.mu.Unlock()
}

// Lookup returns the task with the given id if it is still alive.
func (tt *TaskTable) Lookup(id ID) (*Task, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	ref, ok := tt.tasks[id]
	if !ok {
		return nil, false
	}

	t := ref.Value()
	if t == nil {
		delete(tt.tasks, id)
		return nil, false
	}
	return t, true
}

// Release removes the entry for id. It is called once a task has been
// reaped so its id can no longer be resolved.
func (tt *TaskTable) Release(id ID) {
	tt.mu.Lock()
	delete(tt.tasks, id)
	tt.mu.Unlock()
}

// Len returns the number of entries, including stale ones not pruned yet.
func (tt *TaskTable) Len() int {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	return len(tt.tasks)
}
