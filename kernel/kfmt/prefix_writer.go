package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter forwards writes to Sink and emits Prefix before the first
// byte of every line. Log lines from different subsystems are told apart by
// the prefix.
type PrefixWriter struct {
	Sink   io.Writer
	Prefix []byte

	// midLine is set when the last byte forwarded was not a line feed.
	midLine bool
}

// NewPrefixWriter returns a PrefixWriter that sends its output to sink.
func NewPrefixWriter(sink io.Writer, prefix string) *PrefixWriter {
	return &PrefixWriter{Sink: sink, Prefix: []byte(prefix)}
}

// Reset makes the next write start a new line.
func (w *PrefixWriter) Reset() {
	w.midLine = false
}

// Write implements io.Writer. The returned count excludes prefix bytes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if !w.midLine && len(w.Prefix) != 0 {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
		}

		line := p
		if idx := bytes.IndexByte(p, '\n'); idx >= 0 {
			line = p[:idx+1]
		}

		n, err := w.Sink.Write(line)
		written += n
		if err != nil {
			return written, err
		}

		w.midLine = line[len(line)-1] != '\n'
		p = p[len(line):]
	}
	return written, nil
}
