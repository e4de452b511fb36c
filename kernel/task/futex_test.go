package task

import (
	"testing"

	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
)

func TestFutexTableWake(t *testing.T) {
	ft := NewFutexTable()
	for id := executor.ID(1); id <= 3; id++ {
		ft.Enqueue(0x1000, id)
	}
	ft.Enqueue(0x2000, 4)

	if got := ft.Wake(0x1000, 2); got != 2 {
		t.Fatalf("expected 2 woken tasks; got %d", got)
	}

	// FIFO order: 1 and 2 were released first
	for _, spec := range []struct {
		id  executor.ID
		exp bool
	}{{1, false}, {2, false}, {3, true}, {4, true}} {
		if got := ft.Contains(spec.id); got != spec.exp {
			t.Fatalf("expected Contains(%d) to be %t; got %t", spec.id, spec.exp, got)
		}
	}

	if got := ft.Wake(0x1000, 10); got != 1 {
		t.Fatalf("expected 1 woken task; got %d", got)
	}
	if got := ft.Waiters(0x1000); got != 0 {
		t.Fatalf("expected no waiters left; got %d", got)
	}
	if got := ft.Wake(0x3000, 1); got != 0 {
		t.Fatalf("expected waking an unknown address to release nothing; got %d", got)
	}
}

func TestFutexTableRequeue(t *testing.T) {
	ft := NewFutexTable()
	for id := executor.ID(1); id <= 4; id++ {
		ft.Enqueue(0x1000, id)
	}

	if got := ft.Requeue(0x1000, 1, 0x2000, 2); got != 1 {
		t.Fatalf("expected 1 woken task; got %d", got)
	}

	specs := []struct {
		addr uintptr
		exp  int
	}{{0x1000, 1}, {0x2000, 2}}
	for _, spec := range specs {
		if got := ft.Waiters(spec.addr); got != spec.exp {
			t.Fatalf("expected %d waiters on 0x%x; got %d", spec.exp, spec.addr, got)
		}
	}

	if !ft.Remove(4) || ft.Contains(4) {
		t.Fatal("expected task 4 to be removed")
	}
	if ft.Remove(4) {
		t.Fatal("expected removing a task twice to fail")
	}
}
