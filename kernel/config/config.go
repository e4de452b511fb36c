// Package config loads the boot configuration of the kernel from a TOML
// document. Keys missing from the document keep their default values.
package config

import (
	"fmt"
	"os"

	"github.com/Byte-OS/ByteOS-sub001/kernel"
	"github.com/Byte-OS/ByteOS-sub001/kernel/fs"
	"github.com/Byte-OS/ByteOS-sub001/kernel/kfmt"
	"github.com/pelletier/go-toml/v2"
	"gvisor.dev/gvisor/pkg/abi/linux/errno"
)

var (
	errNoHarts        = &kernel.Error{Module: "config", Message: "harts must be at least 1", Errno: errno.EINVAL}
	errNoYield        = &kernel.Error{Module: "config", Message: "forced_yield_threshold must be at least 1", Errno: errno.EINVAL}
	errNoFileTable    = &kernel.Error{Module: "config", Message: "file_table_size must be at least 3", Errno: errno.EINVAL}
	errNoSocketBuffer = &kernel.Error{Module: "config", Message: "socket_buffer_size must be positive", Errno: errno.EINVAL}
	errStackWindow    = &kernel.Error{Module: "config", Message: "user stack window is empty or not page aligned", Errno: errno.EINVAL}
	errNoFrames       = &kernel.Error{Module: "config", Message: "physical_frames must be positive", Errno: errno.EINVAL}
)

// Config holds the tunables read at boot.
type Config struct {
	// Harts is the number of simulated harts polling the ready queue.
	Harts int `toml:"harts"`

	// ForcedYieldThreshold is the number of consecutive traps served for
	// a task before it yields to the rest of the ready queue.
	ForcedYieldThreshold int `toml:"forced_yield_threshold"`

	FileTableSize    int `toml:"file_table_size"`
	SocketBufferSize int `toml:"socket_buffer_size"`

	// ShmKeyBase is the lowest key handed out for IPC_PRIVATE segments.
	ShmKeyBase uint64 `toml:"shm_key_base"`

	UserStackTop    uint64 `toml:"user_stack_top"`
	UserStackBottom uint64 `toml:"user_stack_bottom"`

	// PhysicalFrames is the size of the simulated frame pool.
	PhysicalFrames uint32 `toml:"physical_frames"`

	LogLevel string `toml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Harts:                1,
		ForcedYieldThreshold: 50,
		FileTableSize:        fs.DefaultTableSize,
		SocketBufferSize:     fs.DefaultSocketBufferSize,
		ShmKeyBase:           1,
		UserStackTop:         0x7ffff000,
		UserStackBottom:      0x7ff00000,
		PhysicalFrames:       4096,
		LogLevel:             kfmt.LevelInfo.String(),
	}
}

// Parse decodes a TOML document on top of the defaults and validates the
// result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Validate checks that the tunables can be used to boot the kernel.
func (c *Config) Validate() error {
	const pageMask = 0xfff

	switch {
	case c.Harts < 1:
		return errNoHarts
	case c.ForcedYieldThreshold < 1:
		return errNoYield
	case c.FileTableSize < 3:
		return errNoFileTable
	case c.SocketBufferSize <= 0:
		return errNoSocketBuffer
	case c.UserStackBottom >= c.UserStackTop,
		c.UserStackBottom&pageMask != 0,
		c.UserStackTop&pageMask != 0:
		return errStackWindow
	case c.PhysicalFrames == 0:
		return errNoFrames
	}

	if _, err := kfmt.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the parsed log level. It must only be called on a validated
// config.
func (c *Config) Level() kfmt.Level {
	lvl, _ := kfmt.ParseLevel(c.LogLevel)
	return lvl
}

// Marshal encodes the config as TOML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
