package executor

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
)

var errSelectPolledAfterCompletion = &kernel.Error{Module: "executor", Message: "select polled after completion"}

// PollContext describes the environment a future is being polled in.
type PollContext struct {
	// Hart is the hart driving the executor.
	Hart hal.Hart

	// Task is the task that owns the polled future.
	Task *Task

	// Executor is the executor polling the future.
	Executor *Executor
}

// Future is a computation driven to completion by repeated polling. Poll
// returns the result and true once the computation has finished; until then
// it returns false and expects to be polled again on a later pass. Poll must
// never block.
type Future[T any] interface {
	Poll(cx *PollContext) (T, bool)
}

// FutureFunc adapts a poll function to the Future interface.
type FutureFunc[T any] func(cx *PollContext) (T, bool)

// Poll implements Future.
func (fn FutureFunc[T]) Poll(cx *PollContext) (T, bool) {
	return fn(cx)
}

// Ready returns a future that completes with v on its first poll.
func Ready[T any](v T) Future[T] {
	return FutureFunc[T](func(*PollContext) (T, bool) { return v, true })
}

// Yield is a one-shot cooperative yield point: the first poll returns
// pending, the second returns ready. Polling it again after that is a
// precondition violation.
type Yield struct {
	polled bool
}

// YieldNow returns a fresh yield point.
func YieldNow() *Yield {
	return &Yield{}
}

// Poll implements Future.
func (y *Yield) Poll(*PollContext) (struct{}, bool) {
	if y.polled {
		return struct{}{}, true
	}
	y.polled = true
	return struct{}{}, false
}

// Either is the outcome of a Select. Exactly one side holds a result; the
// other side's future is handed back so it can be resumed.
type Either[A, B any] struct {
	// IsLeft is set when the first future completed.
	IsLeft bool

	Left  A
	Right B

	// PendingLeft or PendingRight holds the future that did not complete.
	PendingLeft  Future[A]
	PendingRight Future[B]
}

// SelectFuture polls two futures and completes with whichever finishes
// first. The first future is polled first, so it wins ties.
type SelectFuture[A, B any] struct {
	a    Future[A]
	b    Future[B]
	done bool
}

// Select returns a future racing a against b.
func Select[A, B any](a Future[A], b Future[B]) *SelectFuture[A, B] {
	return &SelectFuture[A, B]{a: a, b: b}
}

// Poll implements Future.
func (s *SelectFuture[A, B]) Poll(cx *PollContext) (Either[A, B], bool) {
	if s.done {
		panic(errSelectPolledAfterCompletion)
	}

	if v, ok := s.a.Poll(cx); ok {
		s.done = true
		return Either[A, B]{IsLeft: true, Left: v, PendingRight: s.b}, true
	}

	if v, ok := s.b.Poll(cx); ok {
		s.done = true
		return Either[A, B]{Right: v, PendingLeft: s.a}, true
	}

	return Either[A, B]{}, false
}
