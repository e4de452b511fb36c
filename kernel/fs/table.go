package fs

import (
	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"gvisor.dev/gvisor/pkg/sync"
)

// DefaultTableSize is the number of descriptors in a file table.
const DefaultTableSize = 255

// FileTable is a fixed capacity descriptor table. Descriptors index into it
// directly; a nil slot is a closed descriptor.
type FileTable struct {
	mu    sync.Mutex
	files []*Handle
}

// NewFileTable returns an empty table with size slots.
func NewFileTable(size int) *FileTable {
	return &FileTable{files: make([]*Handle, size)}
}

// NewStdioTable returns a table whose descriptors 0, 1 and 2 refer to the
// file at path.
func NewStdioTable(size int, opener Opener, path string) (*FileTable, *kernel.Error) {
	f, err := opener.Open(path, OpenReadWrite)
	if err != nil {
		return nil, err
	}

	t := NewFileTable(size)
	h := NewHandle(f, OpenReadWrite)
	t.files[0] = h
	t.files[1] = h.acquire()
	t.files[2] = h.acquire()
	return t, nil
}

// Size returns the capacity of the table.
func (t *FileTable) Size() int {
	return len(t.files)
}

// Alloc stores h in the lowest free slot and returns its descriptor.
func (t *FileTable) Alloc(h *Handle) (int, *kernel.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd, slot := range t.files {
		if slot == nil {
			t.files[fd] = h
			return fd, nil
		}
	}
	return -1, ErrTooManyFiles
}

// AllocAt stores h at descriptor fd, closing any file already open there.
func (t *FileTable) AllocAt(fd int, h *Handle) *kernel.Error {
	t.mu.Lock()
	if fd < 0 || fd >= len(t.files) {
		t.mu.Unlock()
		return ErrBadFD
	}

	old := t.files[fd]
	t.files[fd] = h
	t.mu.Unlock()

	if old != nil {
		old.release()
	}
	return nil
}

// Get returns the handle for fd.
func (t *FileTable) Get(fd int) (*Handle, *kernel.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		return nil, ErrBadFD
	}
	return t.files[fd], nil
}

// Close releases descriptor fd.
func (t *FileTable) Close(fd int) *kernel.Error {
	t.mu.Lock()
	if fd < 0 || fd >= len(t.files) || t.files[fd] == nil {
		t.mu.Unlock()
		return ErrBadFD
	}

	h := t.files[fd]
	t.files[fd] = nil
	t.mu.Unlock()

	h.release()
	return nil
}

// Clone returns a copy of the table whose descriptors share the open file
// descriptions of t.
func (t *FileTable) Clone() *FileTable {
	t.mu.Lock()
	defer t.mu.Unlock()

	clone := NewFileTable(len(t.files))
	for fd, h := range t.files {
		if h != nil {
			clone.files[fd] = h.acquire()
		}
	}
	return clone
}

// CloseAll closes every open descriptor.
func (t *FileTable) CloseAll() {
	t.mu.Lock()
	files := t.files
	t.files = make([]*Handle, len(files))
	t.mu.Unlock()

	for _, h := range files {
		if h != nil {
			h.release()
		}
	}
}
