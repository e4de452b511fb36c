package fs

import (
	"bytes"
	"io"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"gvisor.dev/gvisor/pkg/sync"
)

// ConsolePath is the device path used for the stdio descriptors of init.
const ConsolePath = "/dev/ttyv0"

// Console is the terminal device. Output goes to the kernel log sink; input
// is whatever was queued with Feed.
type Console struct {
	mu    sync.Mutex
	input bytes.Buffer
	out   io.Writer
}

// NewConsole returns a console writing to w. A nil writer selects the
// active kfmt output sink.
func NewConsole(w io.Writer) *Console {
	return &Console{out: w}
}

// Feed queues p as terminal input.
func (c *Console) Feed(p []byte) {
	c.mu.Lock()
	c.input.Write(p)
	c.mu.Unlock()
}

// Read implements File.
func (c *Console) Read(p []byte) (int, *kernel.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.input.Len() == 0 {
		return 0, ErrWouldBlock
	}
	n, _ := c.input.Read(p)
	return n, nil
}

// Write implements File.
func (c *Console) Write(p []byte) (int, *kernel.Error) {
	if c.out != nil {
		c.out.Write(p)
	} else {
		kfmt.Printf("%s", p)
	}
	return len(p), nil
}

// Poll implements File.
func (c *Console) Poll(events PollEvent) PollEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	ready := events & PollOut
	if events&PollIn != 0 && c.input.Len() > 0 {
		ready |= PollIn
	}
	return ready
}

// Release implements File.
func (c *Console) Release() {}

// DeviceFS is an Opener serving a fixed set of device files.
type DeviceFS struct {
	mu      sync.Mutex
	devices map[string]device
}

type device struct {
	file     File
	readOnly bool
}

// NewDeviceFS returns an empty device file system.
func NewDeviceFS() *DeviceFS {
	return &DeviceFS{devices: make(map[string]device)}
}

// Register makes f reachable at path.
func (d *DeviceFS) Register(path string, f File, readOnly bool) {
	d.mu.Lock()
	d.devices[path] = device{file: f, readOnly: readOnly}
	d.mu.Unlock()
}

// Open implements Opener.
func (d *DeviceFS) Open(path string, flags uint32) (File, *kernel.Error) {
	d.mu.Lock()
	dev, ok := d.devices[path]
	d.mu.Unlock()

	switch {
	case !ok:
		return nil, ErrNotFound
	case dev.readOnly && flags&(OpenWriteOnly|OpenReadWrite) != 0:
		return nil, ErrPermission
	}
	return dev.file, nil
}
