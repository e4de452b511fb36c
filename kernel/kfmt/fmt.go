// Package kfmt implements the kernel's log output. Output goes to a single
// sink shared by all subsystems; anything logged before a sink is attached is
// captured in a ring buffer and replayed when SetOutputSink is called.
package kfmt

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"gvisor.dev/gvisor/pkg/sync"
)

// Level is a log verbosity level.
type Level uint32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff
)

var levelNames = [...]string{"debug", "info", "warn", "error", "off"}

// String implements fmt.Stringer.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

var (
	// outputMu serializes writes to the sink so lines from different harts
	// do not interleave.
	outputMu sync.Mutex

	// earlyPrintBuffer stores output emitted before a sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is where Printf sends its output. If nil, output is
	// redirected to earlyPrintBuffer.
	outputSink io.Writer

	minLevel atomic.Uint32

	errUnknownLevel = &kernel.Error{Module: "kfmt", Message: "unknown log level"}
)

func init() {
	minLevel.Store(uint32(LevelInfo))
}

// SetOutputSink sets the target for all log output to w and copies any data
// accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()

	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current output sink or nil if log output is being
// buffered.
func GetOutputSink() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	return outputSink
}

// SetLevel sets the minimum level of messages emitted by Logger instances.
func SetLevel(l Level) {
	minLevel.Store(uint32(l))
}

// ParseLevel maps a level name (as used in the boot configuration) to a Level.
func ParseLevel(name string) (Level, *kernel.Error) {
	for l, levelName := range levelNames {
		if strings.EqualFold(name, levelName) {
			return Level(l), nil
		}
	}
	return LevelOff, errUnknownLevel
}

// Printf formats according to a format specifier and writes to the active
// output sink.
func Printf(format string, args ...interface{}) {
	outputMu.Lock()
	defer outputMu.Unlock()
	Fprintf(activeSink(), format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}

// activeSink must be called with outputMu held.
func activeSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Logger emits leveled messages prefixed with the name of the subsystem that
// owns it. The zero value logs without a prefix.
type Logger struct {
	Module string
}

// Debugf logs a message at LevelDebug.
func (l Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }

// Infof logs a message at LevelInfo.
func (l Logger) Infof(format string, args ...interface{}) { l.logf(LevelInfo, format, args...) }

// Warnf logs a message at LevelWarn.
func (l Logger) Warnf(format string, args ...interface{}) { l.logf(LevelWarn, format, args...) }

// Errorf logs a message at LevelError.
func (l Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

func (l Logger) logf(lvl Level, format string, args ...interface{}) {
	if uint32(lvl) < minLevel.Load() {
		return
	}

	outputMu.Lock()
	defer outputMu.Unlock()

	w := NewPrefixWriter(activeSink(), "["+l.Module+"] ")
	if l.Module == "" {
		w.Prefix = nil
	}

	Fprintf(w, format, args...)
	if !strings.HasSuffix(format, "\n") {
		w.Write([]byte{'\n'})
	}
}
