package vm

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"

	"github.com/fkooman/kvm-install-vm/internal/config"
	lv "github.com/fkooman/kvm-install-vm/internal/libvirt"
	"github.com/fkooman/kvm-install-vm/internal/logging"
)

// Info is one row of the list output.
type Info struct {
	Name      string `json:"name" yaml:"name"`
	State     string `json:"state" yaml:"state"`
	Autostart bool   `json:"autostart" yaml:"autostart"`
	CPUs      uint16 `json:"cpus" yaml:"cpus"`
	MemoryMB  uint64 `json:"memoryMB" yaml:"memoryMB"`
}

// List returns every domain known to the hypervisor, active or not.
func List(ctx context.Context, cfg config.Config, log *logging.VMLog) ([]Info, error) {
	client, err := lv.ConnectWithContext(ctx, cfg.Socket, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error(err, "failed to close libvirt connection")
		}
	}()

	d := &deps{hv: client.Libvirt()}
	return listWithDeps(d, log)
}

func listWithDeps(d *deps, log *logging.VMLog) ([]Info, error) {
	domains, _, err := d.hv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	vms := make([]Info, 0, len(domains))
	for _, domain := range domains {
		info, err := domainInfo(d.hv, domain)
		if err != nil {
			log.Error(err, "failed to get domain info", "domain", domain.Name)
			continue
		}
		vms = append(vms, info)
	}

	return vms, nil
}

func domainInfo(hv hypervisor, domain libvirt.Domain) (Info, error) {
	state, _, err := hv.DomainGetState(domain, 0)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get domain state: %w", err)
	}

	_, _, memoryKiB, vcpus, _, err := hv.DomainGetInfo(domain)
	if err != nil {
		return Info{}, fmt.Errorf("failed to get domain info: %w", err)
	}

	autostart, err := hv.DomainGetAutostart(domain)
	if err != nil {
		autostart = 0
	}

	return Info{
		Name:      domain.Name,
		State:     stateToString(state),
		Autostart: autostart != 0,
		CPUs:      vcpus,
		MemoryMB:  memoryKiB / 1024,
	}, nil
}

func stateToString(state int32) string {
	switch state {
	case 0:
		return "no state"
	case 1:
		return "running"
	case 2:
		return "blocked"
	case 3:
		return "paused"
	case 4:
		return "shutdown"
	case 5:
		return "shutoff"
	case 6:
		return "crashed"
	case 7:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}
