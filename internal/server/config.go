package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/cwbudde/clkernel/internal/cl"
)

// Config holds server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// DataDir enables report and event persistence when non-empty.
	DataDir string
	// Devices are the simulated devices jobs run against.
	Devices []cl.DeviceSpec
	// StrictArgInfo drops argument names unless a job asks for
	// -cl-kernel-arg-info.
	StrictArgInfo bool
	// JobTimeout bounds a single job. Zero means no limit.
	JobTimeout time.Duration
	// MaxSourceBytes caps the size of submitted source.
	MaxSourceBytes int64
}

const defaultMaxSourceBytes = 1 << 20

// NewConfig returns a validated Config with defaults applied.
func NewConfig(addr, dataDir string, devices []cl.DeviceSpec) (Config, error) {
	cfg := Config{
		Addr:           addr,
		DataDir:        dataDir,
		Devices:        devices,
		JobTimeout:     time.Minute,
		MaxSourceBytes: defaultMaxSourceBytes,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration can start a server.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if len(c.Devices) == 0 {
		return errors.New("at least one device is required")
	}
	seen := map[string]bool{}
	for i, d := range c.Devices {
		if d.MaxWorkGroupSize == 0 {
			return fmt.Errorf("device %d (%s): max work-group size must be positive", i, d.Name)
		}
		if d.Name != "" && seen[d.Name] {
			return fmt.Errorf("duplicate device name %q", d.Name)
		}
		seen[d.Name] = true
	}
	if c.JobTimeout < 0 {
		return errors.New("job timeout cannot be negative")
	}
	if c.MaxSourceBytes < 0 {
		return errors.New("max source bytes cannot be negative")
	}
	return nil
}
