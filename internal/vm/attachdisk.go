package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/digitalocean/go-libvirt"

	"github.com/fkooman/kvm-install-vm/internal/config"
	lv "github.com/fkooman/kvm-install-vm/internal/libvirt"
	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/storage"
)

// AttachDiskRequest describes one additional data disk. The image file is
// named after the VM and the target device and always lives in the VM's
// working directory.
type AttachDiskRequest struct {
	VMName string
	// Target is the guest device name, e.g. vdb.
	Target string
	SizeGB int
	Format string
	// SourceImage, when set, becomes the backing file of the new disk
	// instead of starting from an empty image.
	SourceImage string
}

// AttachDisk creates a new disk image and attaches it to an existing
// domain. The attachment is persistent; when the domain is running it is
// also hot-plugged.
func AttachDisk(ctx context.Context, cfg config.Config, req AttachDiskRequest, log *logging.VMLog) error {
	client, err := lv.ConnectWithContext(ctx, cfg.Socket, 0)
	if err != nil {
		return fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Error(err, "failed to close libvirt connection")
		}
	}()

	d := &deps{
		hv:    client.Libvirt(),
		pools: storage.NewManager(client.Libvirt()),
		disks: qemuImg{},
	}
	return attachDiskWithDeps(ctx, d, cfg, req, log)
}

func attachDiskWithDeps(_ context.Context, d *deps, cfg config.Config, req AttachDiskRequest, log *logging.VMLog) error {
	if err := validateAttachDisk(req); err != nil {
		return err
	}

	domain, err := d.hv.DomainLookupByName(req.VMName)
	if err != nil {
		if isNoDomain(err) {
			return fmt.Errorf("domain %s does not exist", req.VMName)
		}
		return fmt.Errorf("failed to look up domain %s: %w", req.VMName, err)
	}

	workDir := cfg.VMWorkDir(req.VMName)
	diskPath := filepath.Join(workDir, fmt.Sprintf("%s-%s.qcow2", req.VMName, req.Target))

	// A leftover image under the computed name means a previous disk with
	// this target; silently reusing it would hand old data to the guest.
	if _, err := os.Stat(diskPath); err == nil {
		return fmt.Errorf("disk image %s already exists", diskPath)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory %s: %w", workDir, err)
	}

	log.Statusf("Creating disk %s (%d GB)", diskPath, req.SizeGB)
	if req.SourceImage != "" {
		details, err := d.disks.ImageInfo(req.SourceImage)
		if err != nil {
			return fmt.Errorf("failed to inspect source image %s: %w", req.SourceImage, err)
		}
		if err := d.disks.CreateOverlay(diskPath, req.SourceImage, details.Format); err != nil {
			return err
		}
		if err := d.disks.Resize(diskPath, req.SizeGB); err != nil {
			return err
		}
	} else {
		if err := d.disks.CreateBlank(diskPath, req.Format, req.SizeGB); err != nil {
			return err
		}
	}

	if err := d.pools.RefreshPool(req.VMName); err != nil {
		log.Error(err, "pool refresh failed", "pool", req.VMName)
	}

	diskXML, err := lv.AttachDiskXML(diskPath, req.Format, req.Target)
	if err != nil {
		return err
	}

	flags := uint32(libvirt.DomainDeviceModifyConfig)
	state, _, err := d.hv.DomainGetState(domain, 0)
	if err != nil {
		return fmt.Errorf("failed to get domain state: %w", err)
	}
	if state == domainStateRunning {
		flags |= uint32(libvirt.DomainDeviceModifyLive)
	}

	log.Statusf("Attaching %s to %s as %s", diskPath, req.VMName, req.Target)
	if err := d.hv.DomainAttachDeviceFlags(domain, diskXML, flags); err != nil {
		return fmt.Errorf("failed to attach disk: %w", err)
	}

	return nil
}

// targetRe matches guest block device names (vdb, sdc, ...). vda is taken
// by the boot disk.
var targetRe = regexp.MustCompile(`^(vd|sd|hd)[b-z]$`)

func validateAttachDisk(req AttachDiskRequest) error {
	if req.VMName == "" || !nameRe.MatchString(req.VMName) {
		return validationErrorf("invalid VM name %q", req.VMName)
	}
	if req.Target == "" || !targetRe.MatchString(req.Target) {
		return validationErrorf("invalid target device %q", req.Target)
	}
	if req.SizeGB <= 0 {
		return validationErrorf("disk size must be positive, got %d", req.SizeGB)
	}
	switch req.Format {
	case "qcow2", "raw":
	default:
		return validationErrorf("unsupported disk format %q (qcow2 or raw)", req.Format)
	}
	if req.SourceImage != "" {
		if req.Format != "qcow2" {
			return validationErrorf("a source image requires qcow2 format, got %q", req.Format)
		}
		if _, err := os.Stat(req.SourceImage); err != nil {
			return validationErrorf("source image %s: %v", req.SourceImage, err)
		}
	}
	return nil
}
