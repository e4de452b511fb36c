package signal

import (
	"testing"

	"gvisor.dev/gvisor/pkg/abi/linux"
)

func TestListOrdering(t *testing.T) {
	var l List
	l.Add(5)
	l.Add(3)

	if sig, ok := l.TryPeek(); !ok || sig != 3 {
		t.Fatalf("expected TryPeek to return signal 3; got %d, %t", sig, ok)
	}

	if sig, ok := l.TakeOne(); !ok || sig != 3 {
		t.Fatalf("expected TakeOne to return signal 3; got %d, %t", sig, ok)
	}

	if l.Has(3) || !l.Has(5) {
		t.Fatalf("expected only signal 5 to remain pending; got set %x", l.Set())
	}
}

func TestListSIGUSR1(t *testing.T) {
	var l List
	l.Add(linux.SIGUSR1)

	if !l.HasAny() {
		t.Fatal("expected HasAny to return true")
	}

	if sig, ok := l.TakeOne(); !ok || sig != linux.SIGUSR1 {
		t.Fatalf("expected SIGUSR1; got %d, %t", sig, ok)
	}

	if l.HasAny() {
		t.Fatal("expected HasAny to return false after handling the only signal")
	}

	if _, ok := l.TakeOne(); ok {
		t.Fatal("expected TakeOne on an empty list to return false")
	}
}

func TestListIdempotentUpdates(t *testing.T) {
	var l List
	l.Add(linux.SIGTERM)
	l.Add(linux.SIGTERM)
	l.Remove(linux.SIGTERM)
	if l.HasAny() {
		t.Fatal("expected repeated Add to be undone by a single Remove")
	}

	l.Remove(linux.SIGTERM)
	if l.HasAny() {
		t.Fatal("expected Remove of a missing signal to be a no-op")
	}
}

func TestListMask(t *testing.T) {
	var l List
	l.Add(linux.SIGINT)
	l.Add(linux.SIGUSR2)
	l.Add(64)

	masked := l.Mask(linux.MakeSignalSet(linux.SIGINT))
	if sig, _ := masked.TryPeek(); sig != linux.SIGUSR2 {
		t.Fatalf("expected masked view to skip SIGINT; got %d", sig)
	}

	if !l.Has(linux.SIGINT) {
		t.Fatal("expected Mask to leave the original list untouched")
	}

	if !masked.Has(64) {
		t.Fatal("expected signal 64 to be representable")
	}
}

func TestListOutOfRange(t *testing.T) {
	for _, sig := range []linux.Signal{0, 65} {
		func() {
			defer func() {
				if err := recover(); err != ErrInvalidSignal {
					t.Errorf("[signal %d] expected ErrInvalidSignal panic; got %v", sig, err)
				}
			}()

			var l List
			l.Add(sig)
		}()
	}
}

func TestRealtimeQueue(t *testing.T) {
	var (
		l List
		q Queue
		rt = linux.Signal(linux.FirstRTSignal + 2)
	)

	q.Enqueue(&l, rt)
	q.Enqueue(&l, rt)
	q.Enqueue(&l, rt)
	if got := q.Queued(rt); got != 2 {
		t.Fatalf("expected 2 extra instances; got %d", got)
	}

	for i := 0; i < 3; i++ {
		sig, ok := l.TakeOne()
		if !ok || sig != rt {
			t.Fatalf("[delivery %d] expected signal %d; got %d, %t", i, rt, sig, ok)
		}
		q.Rearm(&l, sig)
	}

	if l.HasAny() {
		t.Fatal("expected all instances to be delivered")
	}

	// Standard signals are never queued
	q.Enqueue(&l, linux.SIGUSR1)
	q.Enqueue(&l, linux.SIGUSR1)
	if got := q.Queued(linux.SIGUSR1); got != 0 {
		t.Fatalf("expected standard signals to collapse; got %d queued", got)
	}
}

func TestActionTable(t *testing.T) {
	var tbl ActionTable

	specs := []struct {
		sig     linux.Signal
		handler uint64
		exp     Disposition
	}{
		{linux.SIGTERM, linux.SIG_DFL, DispositionTerminate},
		{linux.SIGCHLD, linux.SIG_DFL, DispositionIgnore},
		{linux.SIGSEGV, linux.SIG_IGN, DispositionIgnore},
		{linux.SIGUSR1, 0x4000, DispositionHandler},
	}

	for specIndex, spec := range specs {
		tbl.Set(spec.sig, linux.SigAction{Handler: spec.handler})
		if got := tbl.Disposition(spec.sig); got != spec.exp {
			t.Errorf("[spec %d] expected disposition %d; got %d", specIndex, spec.exp, got)
		}
	}

	old := tbl.Set(linux.SIGUSR1, linux.SigAction{})
	if old.Handler != 0x4000 {
		t.Fatalf("expected Set to return the previous action; got %+v", old)
	}
}
