package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fkooman/kvm-install-vm/internal/config"
	"github.com/fkooman/kvm-install-vm/internal/vm"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes: 0 success, 1 usage error, 2 operational failure.
const (
	exitOK    = 0
	exitUsage = 1
	exitFail  = 2
)

// usageError marks errors caused by how the tool was invoked rather than by
// anything that happened while provisioning.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "kvm-install-vm",
	Short: "Create and manage KVM guests from cloud images",
	Long: `kvm-install-vm provisions local KVM virtual machines from distribution
cloud images: it downloads the base image once, builds a copy-on-write boot
disk, customizes the guest on first boot via a cloud-init NoCloud seed, and
reports the address the guest obtained.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror the full provisioning log to stderr")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(attachDiskCmd)
	rootCmd.AddCommand(listCmd)
}

// exactArgs is cobra.ExactArgs with the error marked as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{err: fmt.Errorf("%q expects %d argument(s), got %d", cmd.CommandPath(), n, len(args))}
		}
		return nil
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, &usageError{err: err}
	}
	return cfg, nil
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, vm.ErrAborted) {
		// The operator said no; nothing failed.
		fmt.Fprintln(os.Stderr, err)
		return exitOK
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var uerr *usageError
	if errors.As(err, &uerr) {
		return exitUsage
	}
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitFail
}

func main() {
	os.Exit(exitCode(rootCmd.Execute()))
}
