package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Bridge != "virbr0" {
		t.Errorf("Bridge = %q, want virbr0", cfg.Bridge)
	}
	if cfg.VCPUs != 1 {
		t.Errorf("VCPUs = %d, want 1", cfg.VCPUs)
	}
	if cfg.MemoryMB != 1024 {
		t.Errorf("MemoryMB = %d, want 1024", cfg.MemoryMB)
	}
	if cfg.DiskSizeGB != 10 {
		t.Errorf("DiskSizeGB = %d, want 10", cfg.DiskSizeGB)
	}
	if cfg.Distro != "debian10" {
		t.Errorf("Distro = %q, want debian10", cfg.Distro)
	}
	if cfg.Socket != "/var/run/libvirt/libvirt-sock" {
		t.Errorf("Socket = %q, want system socket", cfg.Socket)
	}
	if cfg.LeaseTimeout() != 180*time.Second {
		t.Errorf("LeaseTimeout() = %v, want 3m", cfg.LeaseTimeout())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load() with missing file = %+v, want defaults", cfg)
	}
}

func TestLoadMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bridge: br1
memory_mb: 2048
distro: ubuntu1804
lease_timeout_seconds: 30
network_extra: "mtu.size=9000"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge != "br1" {
		t.Errorf("Bridge = %q, want br1", cfg.Bridge)
	}
	if cfg.MemoryMB != 2048 {
		t.Errorf("MemoryMB = %d, want 2048", cfg.MemoryMB)
	}
	if cfg.Distro != "ubuntu1804" {
		t.Errorf("Distro = %q, want ubuntu1804", cfg.Distro)
	}
	if cfg.LeaseTimeoutSec != 30 {
		t.Errorf("LeaseTimeoutSec = %d, want 30", cfg.LeaseTimeoutSec)
	}
	if cfg.NetworkExtra != "mtu.size=9000" {
		t.Errorf("NetworkExtra = %q", cfg.NetworkExtra)
	}
	// Untouched fields keep their defaults.
	if cfg.VCPUs != 1 {
		t.Errorf("VCPUs = %d, want default 1", cfg.VCPUs)
	}
	if cfg.DiskSizeGB != 10 {
		t.Errorf("DiskSizeGB = %d, want default 10", cfg.DiskSizeGB)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() with malformed YAML should fail")
	}
}

func TestVMWorkDir(t *testing.T) {
	cfg := Config{VMDir: "/srv/vms"}
	if got := cfg.VMWorkDir("myvm"); got != "/srv/vms/myvm" {
		t.Errorf("VMWorkDir() = %q, want /srv/vms/myvm", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandHome(~/x/y) = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(/abs/path) = %q", got)
	}
}
