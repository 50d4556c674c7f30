// Package output renders the list command's result in table, YAML, or
// JSON form.
package output

import (
	"fmt"

	"github.com/fkooman/kvm-install-vm/internal/vm"
)

// Format selects the output rendering.
type Format string

const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

// Formatter renders a VM list.
type Formatter interface {
	FormatList(vms []vm.Info) (string, error)
}

// NewFormatter returns the formatter for a format name.
func NewFormatter(format Format) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q (table, yaml, json)", format)
	}
}
