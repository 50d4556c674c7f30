// Package config builds the effective tool configuration by merging
// hardcoded defaults, the optional user override file, and CLI flags.
// The merge happens once, before any workflow runs; the result is passed
// explicitly rather than read from ambient state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the defaults used by all subcommands. Every field can be
// overridden in the user file; the create flags override on top of that.
type Config struct {
	Bridge     string `yaml:"bridge,omitempty"`
	VCPUs      int    `yaml:"vcpus,omitempty"`
	MemoryMB   int    `yaml:"memory_mb,omitempty"`
	DiskSizeGB int    `yaml:"disk_size_gb,omitempty"`
	DNSDomain  string `yaml:"dns_domain,omitempty"`
	Distro     string `yaml:"distro,omitempty"`
	PubKeyPath string `yaml:"pubkey,omitempty"`
	Timezone   string `yaml:"timezone,omitempty"`

	// VMDir holds one working directory per VM; ImageDir is the shared
	// base image cache keyed by distribution image filename.
	VMDir    string `yaml:"vm_dir,omitempty"`
	ImageDir string `yaml:"image_dir,omitempty"`

	// Socket is the libvirt management socket. The default is the
	// system-wide socket (qemu:///system), not a per-user one.
	Socket string `yaml:"socket,omitempty"`

	// LeaseTimeoutSec bounds the DHCP lease poll during address discovery.
	LeaseTimeoutSec int `yaml:"lease_timeout_seconds,omitempty"`

	// Extra provider-specific option fragments appended to the assembled
	// network, disk, and seed-ISO option strings.
	NetworkExtra string `yaml:"network_extra,omitempty"`
	DiskExtra    string `yaml:"disk_extra,omitempty"`
	CDROMExtra   string `yaml:"cdrom_extra,omitempty"`
}

// Default returns the hardcoded defaults.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Bridge:          "virbr0",
		VCPUs:           1,
		MemoryMB:        1024,
		DiskSizeGB:      10,
		DNSDomain:       "example.local",
		Distro:          "debian10",
		PubKeyPath:      filepath.Join(home, ".ssh", "id_rsa.pub"),
		Timezone:        "Etc/UTC",
		VMDir:           filepath.Join(home, "virt", "vms"),
		ImageDir:        filepath.Join(home, "virt", "images"),
		Socket:          "/var/run/libvirt/libvirt-sock",
		LeaseTimeoutSec: 180,
	}
}

// DefaultPath returns the user override file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kvm-install-vm.yaml")
}

// Load returns the defaults merged with the user override file at path.
// A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.merge(override)
	return cfg, nil
}

// merge copies every set field of override into c.
func (c *Config) merge(o Config) {
	if o.Bridge != "" {
		c.Bridge = o.Bridge
	}
	if o.VCPUs > 0 {
		c.VCPUs = o.VCPUs
	}
	if o.MemoryMB > 0 {
		c.MemoryMB = o.MemoryMB
	}
	if o.DiskSizeGB > 0 {
		c.DiskSizeGB = o.DiskSizeGB
	}
	if o.DNSDomain != "" {
		c.DNSDomain = o.DNSDomain
	}
	if o.Distro != "" {
		c.Distro = o.Distro
	}
	if o.PubKeyPath != "" {
		c.PubKeyPath = ExpandHome(o.PubKeyPath)
	}
	if o.Timezone != "" {
		c.Timezone = o.Timezone
	}
	if o.VMDir != "" {
		c.VMDir = ExpandHome(o.VMDir)
	}
	if o.ImageDir != "" {
		c.ImageDir = ExpandHome(o.ImageDir)
	}
	if o.Socket != "" {
		c.Socket = o.Socket
	}
	if o.LeaseTimeoutSec > 0 {
		c.LeaseTimeoutSec = o.LeaseTimeoutSec
	}
	if o.NetworkExtra != "" {
		c.NetworkExtra = o.NetworkExtra
	}
	if o.DiskExtra != "" {
		c.DiskExtra = o.DiskExtra
	}
	if o.CDROMExtra != "" {
		c.CDROMExtra = o.CDROMExtra
	}
}

// LeaseTimeout returns the address-discovery deadline as a duration.
func (c *Config) LeaseTimeout() time.Duration {
	return time.Duration(c.LeaseTimeoutSec) * time.Second
}

// VMWorkDir returns the working directory for a named VM.
func (c *Config) VMWorkDir(name string) string {
	return filepath.Join(c.VMDir, name)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
