package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/fkooman/kvm-install-vm/internal/vm"
)

// TableFormatter renders a human-readable table.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

func (f *TableFormatter) FormatList(vms []vm.Info) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		fmt.Fprintln(w, "NAME\tSTATE\tAUTOSTART\tCPUS\tMEMORY")
	}

	for _, info := range vms {
		autostart := "no"
		if info.Autostart {
			autostart = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d MiB\n",
			info.Name, info.State, autostart, info.CPUs, info.MemoryMB)
	}

	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
