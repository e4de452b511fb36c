// Package services assembles the kernel from its configuration. Every
// subsystem is registered as a provider in a samber/do injector so that the
// boot code and tests resolve a fully wired kernel without package level
// state.
package services

import (
	"io"
	"os"

	"github.com/Byte-OS/ByteOS-sub001/kernel/config"
	"github.com/Byte-OS/ByteOS-sub001/kernel/executor"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal/emu"
	"github.com/Byte-OS/ByteOS-sub001/kernel/irq"
	"github.com/Byte-OS/ByteOS-sub001/kernel/mm/pmm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/shm"
	"github.com/Byte-OS/ByteOS-sub001/kernel/sys"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"github.com/samber/do"
)

// Harts are the simulated harts that poll the ready queue.
type Harts []*emu.Hart

// Option customizes the injector before any service is resolved.
type Option func(i *do.Injector)

// WithClock replaces the monotonic clock.
func WithClock(c hal.Clock) Option {
	return func(i *do.Injector) {
		do.OverrideValue[hal.Clock](i, c)
	}
}

// WithConsole sends console output to w instead of stdout.
func WithConsole(w io.Writer) Option {
	return func(i *do.Injector) {
		do.OverrideValue(i, fs.NewConsole(w))
	}
}

// New returns an injector with every kernel service registered. Services are
// built lazily the first time they are resolved.
func New(cfg *config.Config, opts ...Option) *do.Injector {
	i := do.New()

	do.ProvideValue(i, cfg)
	provideHardware(i)
	provideMemory(i)
	provideScheduler(i)
	provideFiles(i)
	provideKernel(i)

	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Kernel resolves the wired kernel.
func Kernel(i *do.Injector) (*task.Kernel, error) {
	return do.Invoke[*task.Kernel](i)
}

func provideHardware(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (hal.Clock, error) {
		return hal.NewMonotonicClock(), nil
	})

	do.Provide(i, func(i *do.Injector) (*irq.Gate, error) {
		return irq.NewGate(), nil
	})

	do.Provide(i, func(i *do.Injector) (Harts, error) {
		cfg := do.MustInvoke[*config.Config](i)
		harts := make(Harts, cfg.Harts)
		for id := range harts {
			harts[id] = emu.NewHart(id)
		}
		return harts, nil
	})
}

func provideMemory(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*pmm.Pool, error) {
		cfg := do.MustInvoke[*config.Config](i)
		pool, err := pmm.NewPool(0, cfg.PhysicalFrames)
		if err != nil {
			return nil, err
		}
		return pool, nil
	})

	do.Provide(i, func(i *do.Injector) (*shm.Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		pool, err := do.Invoke[*pmm.Pool](i)
		if err != nil {
			return nil, err
		}
		reg := shm.NewRegistry(pool)
		reg.SetKeyBase(uintptr(cfg.ShmKeyBase))
		return reg, nil
	})
}

func provideScheduler(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*executor.TaskTable, error) {
		return executor.NewTaskTable(), nil
	})

	do.Provide(i, func(i *do.Injector) (*executor.Executor, error) {
		return executor.New(do.MustInvoke[*executor.TaskTable](i)), nil
	})
}

func provideFiles(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*fs.Console, error) {
		return fs.NewConsole(os.Stdout), nil
	})

	do.Provide(i, func(i *do.Injector) (*fs.DeviceFS, error) {
		devices := fs.NewDeviceFS()
		devices.Register(fs.ConsolePath, do.MustInvoke[*fs.Console](i), false)
		return devices, nil
	})
}

func provideKernel(i *do.Injector) {
	do.Provide(i, func(i *do.Injector) (*sys.Table, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return sys.NewTable(cfg.SocketBufferSize), nil
	})

	do.Provide(i, func(i *do.Injector) (*task.Kernel, error) {
		cfg := do.MustInvoke[*config.Config](i)
		pool, err := do.Invoke[*pmm.Pool](i)
		if err != nil {
			return nil, err
		}

		params := task.DefaultParams()
		params.ForcedYieldThreshold = cfg.ForcedYieldThreshold
		params.FileTableSize = cfg.FileTableSize
		params.StackTop = uintptr(cfg.UserStackTop)
		params.StackBottom = uintptr(cfg.UserStackBottom)

		return task.New(task.Deps{
			Executor: do.MustInvoke[*executor.Executor](i),
			Clock:    do.MustInvoke[hal.Clock](i),
			Frames:   pool,
			Shm:      do.MustInvoke[*shm.Registry](i),
			IRQ:      do.MustInvoke[*irq.Gate](i),
			Opener:   do.MustInvoke[*fs.DeviceFS](i),
			Syscalls: do.MustInvoke[*sys.Table](i),
		}, params), nil
	})
}
