package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fkooman/kvm-install-vm/internal/config"
	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/vm"
)

var attachFlags struct {
	diskSize    int
	target      string
	format      string
	sourceImage string
}

var attachDiskCmd = &cobra.Command{
	Use:   "attach-disk <name>",
	Short: "Create and attach an additional disk to a virtual machine",
	Long: `Create a new disk image in the VM's working directory and attach it to
the domain. The attachment is persistent; a running VM also gets the disk
hot-plugged. The image is named <name>-<target>.qcow2 and an existing image
under that name is never overwritten.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name := args[0]
		req := vm.AttachDiskRequest{
			VMName:      name,
			Target:      attachFlags.target,
			SizeGB:      attachFlags.diskSize,
			Format:      attachFlags.format,
			SourceImage: config.ExpandHome(attachFlags.sourceImage),
		}

		log, err := logging.Open(filepath.Join(cfg.VMWorkDir(name), name+".log"), verbose)
		if err != nil {
			log = logging.Discard()
		}
		defer log.Close()

		return vm.AttachDisk(context.Background(), cfg, req, log)
	},
}

func init() {
	f := attachDiskCmd.Flags()
	f.IntVarP(&attachFlags.diskSize, "disk-size", "d", 0, "disk size in GB")
	f.StringVar(&attachFlags.target, "target", "", "guest device name (e.g. vdb)")
	f.StringVarP(&attachFlags.format, "format", "f", "qcow2", "disk format (qcow2 or raw)")
	f.StringVar(&attachFlags.sourceImage, "source-image", "", "base image to back the new disk")
	_ = attachDiskCmd.MarkFlagRequired("target")
	_ = attachDiskCmd.MarkFlagRequired("disk-size")
}
