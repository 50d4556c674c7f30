package output

import (
	"encoding/json"
	"fmt"

	"github.com/fkooman/kvm-install-vm/internal/vm"
)

// JSONFormatter renders the list as a JSON array for machine consumption.
type JSONFormatter struct{}

func (f *JSONFormatter) FormatList(vms []vm.Info) (string, error) {
	if len(vms) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(vms, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM list to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
