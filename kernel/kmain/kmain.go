// Package kmain boots the kernel: it resolves the wired services, loads the
// init image into every hart and drives the executor until no task is left.
package kmain

import (
	"context"
	"errors"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/config"
	"github.com/Byte-OS/ByteOS-sub001/kernel/hal/emu"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"github.com/Byte-OS/ByteOS-sub001/kernel/services"
	"github.com/Byte-OS/ByteOS-sub001/kernel/task"
	"github.com/samber/do"
	"gvisor.dev/gvisor/pkg/sync"
)

var (
	errInitRunning = &kernel.Error{Module: "kmain", Message: "executor stopped before init exited"}

	log = kfmt.Logger{Module: "kmain"}
)

// Image is a user program together with the data it expects to be mapped
// when it starts.
type Image struct {
	Text *emu.Program

	// DataBase is the address of the data area; DataPages pages are
	// mapped there and Data is copied to its start.
	DataBase  uintptr
	DataPages int
	Data      []byte
}

// Kmain boots the kernel wired in i with img as the init process. Every
// configured hart polls the ready queue concurrently. Kmain returns when the
// queue drains or ctx is cancelled; the returned task is init, whose exit code
// tells how the run ended.
func Kmain(ctx context.Context, i *do.Injector, img Image) (*task.UserTask, error) {
	cfg, err := do.Invoke[*config.Config](i)
	if err != nil {
		return nil, err
	}
	kfmt.SetLevel(cfg.Level())

	harts, err := do.Invoke[services.Harts](i)
	if err != nil {
		return nil, err
	}

	k, err := services.Kernel(i)
	if err != nil {
		return nil, err
	}

	for _, h := range harts {
		if err := h.Load(img.Text); err != nil {
			return nil, err
		}
	}

	initTask, kerr := k.NewUserTask(nil)
	if kerr != nil {
		return nil, kerr
	}
	if img.DataPages > 0 {
		if kerr = initTask.Alloc(img.DataBase, task.MemData, img.DataPages); kerr != nil {
			return nil, kerr
		}
		if kerr = initTask.Load(img.DataBase, img.Data); kerr != nil {
			return nil, kerr
		}
	}
	initTask.Context().SetPC(img.Text.Base())

	log.Infof("starting init (task %d) on %d hart(s)", initTask.ID(), len(harts))
	k.Spawn(initTask)

	if err = runHarts(ctx, k, harts); err != nil {
		return initTask, err
	}

	code, exited := initTask.ExitCode()
	if !exited {
		return initTask, errInitRunning
	}
	log.Infof("init exited with code %d", code)
	return initTask, nil
}

// runHarts polls the ready queue from every hart until it drains.
func runHarts(ctx context.Context, k *task.Kernel, harts services.Harts) error {
	var wg sync.WaitGroup
	errs := make([]error, len(harts))

	for idx, h := range harts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[idx] = k.Executor().Run(ctx, h)
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}
