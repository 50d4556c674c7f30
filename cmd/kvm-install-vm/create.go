package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fkooman/kvm-install-vm/internal/config"
	"github.com/fkooman/kvm-install-vm/internal/distro"
	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/vm"
)

var createFlags struct {
	autostart bool
	bridge    string
	vcpus     int
	diskSize  int
	dnsDomain string
	image     string
	pubKey    string
	memory    int
	mac       string
	script    string
	distro    string
	timezone  string
	assumeYes bool
	assumeNo  bool
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new virtual machine",
	Long: fmt.Sprintf(`Create a new virtual machine from a distribution cloud image.

The base image is downloaded into the image cache on first use. The VM's
boot disk, seed ISO, and provisioning log live in a per-VM working
directory.

Supported distributions:
  %s`, strings.Join(distro.IDs(), "\n  ")),
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		req, err := buildCreateRequest(cmd, cfg, args[0])
		if err != nil {
			return err
		}

		workDir := cfg.VMWorkDir(req.Name)
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return fmt.Errorf("failed to create working directory %s: %w", workDir, err)
		}

		log, err := logging.Open(filepath.Join(workDir, req.Name+".log"), verbose)
		if err != nil {
			return err
		}
		defer log.Close()

		return vm.Create(context.Background(), cfg, req, log)
	},
}

func init() {
	f := createCmd.Flags()
	f.BoolVar(&createFlags.autostart, "autostart", false, "start the VM at host boot")
	f.StringVarP(&createFlags.bridge, "bridge", "b", "", "bridge to attach the VM to")
	f.IntVarP(&createFlags.vcpus, "vcpus", "c", 0, "number of virtual CPUs")
	f.IntVarP(&createFlags.diskSize, "disk-size", "d", 0, "boot disk size in GB")
	f.StringVarP(&createFlags.dnsDomain, "dns-domain", "D", "", "DNS domain for the guest FQDN")
	f.StringVarP(&createFlags.image, "image", "i", "", "local base image instead of a catalog distribution")
	f.StringVarP(&createFlags.pubKey, "pubkey", "k", "", "SSH public key to authorize")
	f.IntVarP(&createFlags.memory, "memory", "m", 0, "memory in MB")
	f.StringVarP(&createFlags.mac, "mac", "M", "", "fixed MAC address (default: hypervisor-assigned)")
	f.StringVarP(&createFlags.script, "script", "s", "", "shell script to run on first boot")
	f.StringVarP(&createFlags.distro, "distro", "t", "", "distribution to install")
	f.StringVarP(&createFlags.timezone, "timezone", "T", "", "guest timezone")
	f.BoolVarP(&createFlags.assumeYes, "assume-yes", "y", false, "answer every prompt with yes")
	f.BoolVarP(&createFlags.assumeNo, "assume-no", "n", false, "answer every prompt with no")
}

// buildCreateRequest layers the create flags over the merged configuration.
// Only flags the user actually set override the config.
func buildCreateRequest(cmd *cobra.Command, cfg config.Config, name string) (vm.CreateRequest, error) {
	if createFlags.assumeYes && createFlags.assumeNo {
		return vm.CreateRequest{}, &usageError{err: fmt.Errorf("--assume-yes and --assume-no are mutually exclusive")}
	}

	req := vm.CreateRequest{
		Name:         name,
		Distro:       cfg.Distro,
		VCPUs:        cfg.VCPUs,
		MemoryMB:     cfg.MemoryMB,
		DiskSizeGB:   cfg.DiskSizeGB,
		Bridge:       cfg.Bridge,
		DNSDomain:    cfg.DNSDomain,
		Timezone:     cfg.Timezone,
		PubKeyPath:   cfg.PubKeyPath,
		NetworkExtra: cfg.NetworkExtra,
		DiskExtra:    cfg.DiskExtra,
		CDROMExtra:   cfg.CDROMExtra,
		Autostart:    createFlags.autostart,
		Confirm:      vm.ConfirmPrompt,
	}

	flags := cmd.Flags()
	if flags.Changed("bridge") {
		req.Bridge = createFlags.bridge
	}
	if flags.Changed("vcpus") {
		req.VCPUs = createFlags.vcpus
	}
	if flags.Changed("disk-size") {
		req.DiskSizeGB = createFlags.diskSize
	}
	if flags.Changed("dns-domain") {
		req.DNSDomain = createFlags.dnsDomain
	}
	if flags.Changed("image") {
		req.ImagePath = config.ExpandHome(createFlags.image)
	}
	if flags.Changed("pubkey") {
		req.PubKeyPath = config.ExpandHome(createFlags.pubKey)
	}
	if flags.Changed("memory") {
		req.MemoryMB = createFlags.memory
	}
	if flags.Changed("mac") {
		req.MACAddress = createFlags.mac
	}
	if flags.Changed("script") {
		req.ScriptPath = config.ExpandHome(createFlags.script)
	}
	if flags.Changed("distro") {
		req.Distro = createFlags.distro
	}
	if flags.Changed("timezone") {
		req.Timezone = createFlags.timezone
	}

	if createFlags.assumeYes {
		req.Confirm = vm.ConfirmAssumeYes
	}
	if createFlags.assumeNo {
		req.Confirm = vm.ConfirmAssumeNo
	}

	return req, nil
}
