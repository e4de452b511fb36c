package signal

import (
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// Disposition describes what happens when a signal is delivered.
type Disposition uint8

const (
	// DispositionTerminate ends the process with the signal as exit status.
	DispositionTerminate Disposition = iota

	// DispositionIgnore discards the signal.
	DispositionIgnore

	// DispositionHandler runs a user-mode handler.
	DispositionHandler
)

// ActionTable holds the sigaction of every signal. Index 0 is unused.
type ActionTable [linux.SignalMaximum + 1]linux.SigAction

// Get returns the action installed for sig.
func (t *ActionTable) Get(sig linux.Signal) linux.SigAction {
	mustBeValid(sig)
	return t[sig]
}

// Set installs act for sig and returns the previous action.
func (t *ActionTable) Set(sig linux.Signal, act linux.SigAction) linux.SigAction {
	mustBeValid(sig)
	old := t[sig]
	t[sig] = act
	return old
}

// Disposition resolves what delivering sig does under the current table.
func (t *ActionTable) Disposition(sig linux.Signal) Disposition {
	switch handler := t.Get(sig).Handler; handler {
	case linux.SIG_DFL:
		return DefaultDisposition(sig)
	case linux.SIG_IGN:
		return DispositionIgnore
	default:
		return DispositionHandler
	}
}

// DefaultDisposition returns the default action for sig. Stop and continue
// signals are ignored since job control is not supported.
func DefaultDisposition(sig linux.Signal) Disposition {
	switch sig {
	case linux.SIGCHLD, linux.SIGCONT, linux.SIGURG, linux.SIGWINCH,
		linux.SIGSTOP, linux.SIGTSTP, linux.SIGTTIN, linux.SIGTTOU:
		return DispositionIgnore
	default:
		return DispositionTerminate
	}
}
