// Command hartos boots the kernel on simulated harts and runs a demo init
// program that forks a child and waits for it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/Byte-OS/ByteOS-sub001/kernel/config"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kmain"
	"github.com/Byte-OS/ByteOS-sub001/kernel/services"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[hartos] error: %s\n", err.Error())
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", "", "path to a TOML boot configuration")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			exit(err)
		}
	}

	kfmt.SetOutputSink(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var res kmain.DemoResult
	initTask, err := kmain.Kmain(ctx, services.New(cfg), kmain.DemoInit(&res))
	if err != nil {
		exit(err)
	}

	code, _ := initTask.ExitCode()
	kfmt.Printf("init exited with code %d; child %d exited with status 0x%x\n", code, res.Child, res.Status)
	if code != 0 {
		os.Exit(code)
	}
}
