package vm

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/fkooman/kvm-install-vm/internal/distro"
	"github.com/fkooman/kvm-install-vm/internal/storage"
)

// hypervisor is the slice of the libvirt API the workflows need.
// Satisfied by *libvirt.Libvirt.
type hypervisor interface {
	DomainLookupByName(Name string) (libvirt.Domain, error)
	DomainDefineXML(XML string) (libvirt.Domain, error)
	DomainCreate(Dom libvirt.Domain) error
	DomainSetAutostart(Dom libvirt.Domain, Autostart int32) error
	DomainGetAutostart(Dom libvirt.Domain) (int32, error)
	DomainGetState(Dom libvirt.Domain, Flags uint32) (int32, int32, error)
	DomainGetInfo(Dom libvirt.Domain) (rState uint8, rMaxMem uint64, rMemory uint64, rNrVirtCPU uint16, rCPUTime uint64, err error)
	DomainGetXMLDesc(Dom libvirt.Domain, Flags libvirt.DomainXMLFlags) (string, error)
	DomainShutdown(Dom libvirt.Domain) error
	DomainDestroy(Dom libvirt.Domain) error
	DomainUndefineFlags(Dom libvirt.Domain, Flags libvirt.DomainUndefineFlagsValues) error
	DomainAttachDeviceFlags(Dom libvirt.Domain, XML string, Flags uint32) error
	DomainDetachDeviceFlags(Dom libvirt.Domain, XML string, Flags uint32) error
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
	ConnectListAllDomains(NeedResults int32, Flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
}

// poolManager tracks the per-VM storage pool. Satisfied by *storage.Manager.
type poolManager interface {
	EnsurePool(name, path string) error
	PoolExists(name string) (bool, error)
	DeletePool(name string) error
	RefreshPool(name string) error
}

// diskManager shells out to qemu-img. Satisfied by qemuImg.
type diskManager interface {
	CreateOverlay(path, backingPath, backingFormat string) error
	CreateBlank(path, format string, sizeGB int) error
	Resize(path string, sizeGB int) error
	ImageInfo(path string) (*storage.ImageDetails, error)
}

// imageFetcher downloads base images. Satisfied by *image.Fetcher.
type imageFetcher interface {
	EnsureImage(ctx context.Context, spec distro.Spec, dir string) (string, error)
}

// addressDiscoverer resolves the DHCP lease of a freshly booted domain.
// Satisfied by *libvirt client wrapper.
type addressDiscoverer interface {
	DiscoverAddress(ctx context.Context, bridge, mac string, interval time.Duration) (string, error)
}

// deps bundles everything a workflow needs beyond its request.
type deps struct {
	hv       hypervisor
	pools    poolManager
	disks    diskManager
	images   imageFetcher
	discover addressDiscoverer

	// in and out carry the confirmation prompt; they default to the
	// process's stdin and stdout.
	in  io.Reader
	out io.Writer
}

func (d *deps) stdin() io.Reader {
	if d.in != nil {
		return d.in
	}
	return os.Stdin
}

func (d *deps) stdout() io.Writer {
	if d.out != nil {
		return d.out
	}
	return os.Stdout
}

// qemuImg is the production diskManager.
type qemuImg struct{}

func (qemuImg) CreateOverlay(path, backingPath, backingFormat string) error {
	return storage.CreateOverlay(path, backingPath, backingFormat)
}

func (qemuImg) CreateBlank(path, format string, sizeGB int) error {
	return storage.CreateBlank(path, format, sizeGB)
}

func (qemuImg) Resize(path string, sizeGB int) error {
	return storage.Resize(path, sizeGB)
}

func (qemuImg) ImageInfo(path string) (*storage.ImageDetails, error) {
	return storage.ImageInfo(path)
}

// isNoDomain matches libvirt's "domain not found" error.
func isNoDomain(err error) bool {
	if lverr, ok := err.(libvirt.Error); ok {
		return lverr.Code == uint32(libvirt.ErrNoDomain)
	}
	return false
}
