package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/output"
	"github.com/fkooman/kvm-install-vm/internal/vm"
)

var listFormat string

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all virtual machines",
	Args:    exactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatter, err := output.NewFormatter(output.Format(listFormat))
		if err != nil {
			return &usageError{err: err}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		vms, err := vm.List(context.Background(), cfg, logging.Discard())
		if err != nil {
			return err
		}

		rendered, err := formatter.FormatList(vms)
		if err != nil {
			return err
		}
		fmt.Fprint(os.Stdout, rendered)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVarP(&listFormat, "output", "o", string(output.FormatTable), "output format (table, yaml, json)")
}
