package kmain

import (
	"encoding/binary"

	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal/emu"
	"github.com/Byte-OS/ByteOS-sub001/kernel/sys"
	"gvisor.dev/gvisor/pkg/abi/linux"
)

const (
	demoText   = 0x10000
	demoData   = 0x20000
	demoStatus = demoData + 0x100
)

var demoBanner = []byte("init: forking a child\n")

// DemoResult receives what the demo init observed after wait4 returned.
type DemoResult struct {
	Child  uintptr
	Status uint32
}

// DemoInit returns an init image that prints a banner, forks a child that
// exits with code 7 and waits for it. The wait4 result is stored in res.
func DemoInit(res *DemoResult) Image {
	prog := emu.NewProgram(demoText).
		Syscall(sys.SysWrite, 1, demoData, uintptr(len(demoBanner))).
		Syscall(sys.SysClone, uintptr(linux.SIGCHLD)).
		Bnez(hal.RegA0, "parent").
		Syscall(sys.SysExitGroup, 7).
		Label("parent").
		Syscall(sys.SysWait4, ^uintptr(0), demoStatus, 0, 0).
		Exec(func(m *emu.Machine) {
			var status [4]byte
			_ = m.Space.Read(demoStatus, status[:])
			res.Child = m.Cx.Arg(0)
			res.Status = binary.LittleEndian.Uint32(status[:])
		}).
		Syscall(sys.SysExitGroup, 0)

	return Image{
		Text:      prog,
		DataBase:  demoData,
		DataPages: 1,
		Data:      demoBanner,
	}
}
