package irq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
)

func TestGateDispatch(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	var got []uint32
	g := NewGate()
	g.Handle(3, func(irq uint32) { got = append(got, irq) })

	if !g.Dispatch(3) {
		t.Fatal("expected Dispatch to find the handler for irq 3")
	}

	if g.Dispatch(4) {
		t.Fatal("expected Dispatch to return false for an unknown irq")
	}

	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected handler to be invoked once with irq 3; got %v", got)
	}

	if exp := "[irq] no handler registered for irq 4"; !strings.Contains(buf.String(), exp) {
		t.Fatalf("expected output to contain %q; got %q", exp, buf.String())
	}
}
