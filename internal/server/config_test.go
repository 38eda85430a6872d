package server

import (
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/clkernel/internal/cl"
)

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(":9000", "", testDevices)
	if err != nil {
		t.Fatalf("NewConfig failed: %v", err)
	}
	if cfg.JobTimeout != time.Minute || cfg.MaxSourceBytes != defaultMaxSourceBytes {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }, "addr"},
		{"no devices", func(c *Config) { c.Devices = nil }, "at least one device"},
		{"zero work-group", func(c *Config) { c.Devices = []cl.DeviceSpec{{Name: "d"}} }, "work-group size"},
		{"duplicate", func(c *Config) { c.Devices = append(c.Devices, c.Devices[0]) }, "duplicate"},
		{"negative timeout", func(c *Config) { c.JobTimeout = -time.Second }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Addr: ":0", Devices: append([]cl.DeviceSpec(nil), testDevices...)}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
