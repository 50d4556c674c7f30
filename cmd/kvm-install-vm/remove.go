package main

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/vm"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a virtual machine and its storage",
	Long: `Remove a virtual machine: stop it (gracefully first, then by force),
undefine the domain with all its managed state, and delete the storage pool
and working directory. Pieces that are already gone are skipped, so a
partially removed VM can be cleaned up by running remove again.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		name := args[0]
		log, err := logging.Open(filepath.Join(cfg.VMWorkDir(name), name+".log"), verbose)
		if err != nil {
			// The working directory may already be gone; removal still
			// proceeds, just without a file log.
			log = logging.Discard()
		}
		defer log.Close()

		return vm.Remove(context.Background(), cfg, name, log)
	},
}
