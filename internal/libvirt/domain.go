package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"
)

// DomainSpec is the hypervisor-facing shape of a provisioning request:
// everything needed to render the domain XML.
type DomainSpec struct {
	Name     string
	VCPUs    int
	MemoryMB int

	// DiskPath is the VM's copy-on-write boot disk; DiskFormat its driver
	// format (qcow2 unless a custom raw image is used).
	DiskPath   string
	DiskFormat string

	// SeedISOPath is the NoCloud seed CD-ROM. Empty means no seed device.
	SeedISOPath string

	Bridge string
	// MACAddress is optional; when empty the hypervisor assigns one.
	MACAddress string

	// OsinfoID is an optional libosinfo identifier embedded as a metadata
	// hint so the hypervisor can pick matching device defaults.
	OsinfoID string
}

// GenerateDomainXML renders the libvirt domain document for a spec.
func GenerateDomainXML(spec DomainSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("domain name is required")
	}
	if spec.DiskPath == "" {
		return "", fmt.Errorf("disk path is required")
	}
	if spec.Bridge == "" {
		return "", fmt.Errorf("bridge is required")
	}

	diskFormat := spec.DiskFormat
	if diskFormat == "" {
		diskFormat = "qcow2"
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{
				{Dev: "hd"},
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	if spec.OsinfoID != "" {
		domain.Metadata = &libvirtxml.DomainMetadata{
			XML: fmt.Sprintf(
				`<libosinfo:libosinfo xmlns:libosinfo="http://libosinfo.org/xmlns/libvirt/domain/1.0"><libosinfo:os id="%s"/></libosinfo:libosinfo>`,
				spec.OsinfoID),
		}
	}

	bootDisk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  diskFormat,
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: spec.DiskPath,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "vda",
			Bus: "virtio",
		},
	}
	domain.Devices.Disks = append(domain.Devices.Disks, bootDisk)

	if spec.SeedISOPath != "" {
		domain.Devices.Disks = append(domain.Devices.Disks, seedCDROM(spec.SeedISOPath))
	}

	iface := libvirtxml.DomainInterface{
		Source: &libvirtxml.DomainInterfaceSource{
			Bridge: &libvirtxml.DomainInterfaceSourceBridge{
				Bridge: spec.Bridge,
			},
		},
		Model: &libvirtxml.DomainInterfaceModel{
			Type: "virtio",
		},
	}
	if spec.MACAddress != "" {
		iface.MAC = &libvirtxml.DomainInterfaceMAC{
			Address: spec.MACAddress,
		}
	}
	domain.Devices.Interfaces = append(domain.Devices.Interfaces, iface)

	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

// seedCDROM is the read-only seed device, attached during provisioning and
// detached from the persistent config afterwards.
func seedCDROM(isoPath string) libvirtxml.DomainDisk {
	return libvirtxml.DomainDisk{
		Device: "cdrom",
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: "raw",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: isoPath,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: "sda",
			Bus: "sata",
		},
		ReadOnly: &libvirtxml.DomainDiskReadOnly{},
	}
}

// SeedCDROMXML renders the seed device XML on its own, as needed by the
// post-create detach.
func SeedCDROMXML(isoPath string) (string, error) {
	disk := seedCDROM(isoPath)
	xml, err := disk.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal seed CD-ROM XML: %w", err)
	}
	return xml, nil
}

// AttachDiskXML renders the device XML for a persistently attached data
// disk. Host-side caching is always disabled.
func AttachDiskXML(diskPath, format, targetDev string) (string, error) {
	if targetDev == "" {
		return "", fmt.Errorf("target device is required")
	}
	if format == "" {
		format = "qcow2"
	}

	disk := libvirtxml.DomainDisk{
		Device: "disk",
		Driver: &libvirtxml.DomainDiskDriver{
			Name:  "qemu",
			Type:  format,
			Cache: "none",
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{
				File: diskPath,
			},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: targetDev,
			Bus: "virtio",
		},
	}

	xml, err := disk.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal disk XML: %w", err)
	}
	return xml, nil
}

// DomainMACFromXML extracts the hardware address the hypervisor assigned
// to the domain's first interface.
func DomainMACFromXML(domainXML string) (string, error) {
	var def libvirtxml.Domain
	if err := def.Unmarshal(domainXML); err != nil {
		return "", fmt.Errorf("failed to parse domain XML: %w", err)
	}
	if def.Devices == nil || len(def.Devices.Interfaces) == 0 {
		return "", fmt.Errorf("domain %s has no network interfaces", def.Name)
	}
	iface := def.Devices.Interfaces[0]
	if iface.MAC == nil || iface.MAC.Address == "" {
		return "", fmt.Errorf("domain %s interface has no MAC address", def.Name)
	}
	return iface.MAC.Address, nil
}
