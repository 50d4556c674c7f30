package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/fkooman/kvm-install-vm/internal/vm"
)

// YAMLFormatter renders the list as a YAML document.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatList(vms []vm.Info) (string, error) {
	if len(vms) == 0 {
		return "[]\n", nil
	}

	data, err := yaml.Marshal(vms)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM list to YAML: %w", err)
	}
	return string(data), nil
}
