package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/digitalocean/go-libvirt"
	"golang.org/x/crypto/ssh"

	"github.com/fkooman/kvm-install-vm/internal/cloudinit"
	"github.com/fkooman/kvm-install-vm/internal/config"
	"github.com/fkooman/kvm-install-vm/internal/distro"
	"github.com/fkooman/kvm-install-vm/internal/image"
	lv "github.com/fkooman/kvm-install-vm/internal/libvirt"
	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/metadata"
	"github.com/fkooman/kvm-install-vm/internal/params"
	"github.com/fkooman/kvm-install-vm/internal/storage"
)

// CreateRequest is a fully merged provisioning request. The CLI layer is
// responsible for layering flags over the configuration before building it.
type CreateRequest struct {
	Name string

	// Distro selects a catalog entry; ImagePath overrides the catalog with
	// a local base image. Exactly one of the two drives the boot disk.
	Distro    string
	ImagePath string

	VCPUs      int
	MemoryMB   int
	DiskSizeGB int

	Bridge     string
	MACAddress string
	DNSDomain  string

	Timezone   string
	PubKeyPath string
	ScriptPath string

	// Extra provider-specific option fragments from the configuration,
	// appended verbatim to the assembled device option summaries.
	NetworkExtra string
	DiskExtra    string
	CDROMExtra   string

	Autostart bool
	Confirm   ConfirmMode
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Create provisions a new virtual machine end to end: base image, seed ISO,
// copy-on-write disk, domain definition, boot, and address discovery.
func Create(ctx context.Context, cfg config.Config, req CreateRequest, log *logging.VMLog) error {
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
		hv:       client.Libvirt(),
		pools:    storage.NewManager(client.Libvirt()),
		disks:    qemuImg{},
		images:   &image.Fetcher{Log: log.Logger},
		discover: client,
	}
	return createWithDeps(ctx, d, cfg, req, log)
}

func createWithDeps(ctx context.Context, d *deps, cfg config.Config, req CreateRequest, log *logging.VMLog) error {
	spec, pubKey, err := validateCreate(req)
	if err != nil {
		return err
	}

	// An existing domain with the same name is replaced only with consent.
	if _, err := d.hv.DomainLookupByName(req.Name); err == nil {
		ok, err := req.Confirm.Ask(
			fmt.Sprintf("domain %s already exists, delete and recreate it?", req.Name),
			d.stdin(), d.stdout())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: domain %s already exists", ErrAborted, req.Name)
		}
		log.Statusf("Removing existing domain %s", req.Name)
		if err := removeWithDeps(ctx, d, cfg, req.Name, log); err != nil {
			return fmt.Errorf("failed to remove existing domain: %w", err)
		}
		// The removal deleted the working directory and the open log file
		// inside it; without a reopen, every later line would land on the
		// unlinked inode.
		if err := log.Reopen(); err != nil {
			return err
		}
	} else if !isNoDomain(err) {
		return fmt.Errorf("failed to look up domain %s: %w", req.Name, err)
	}

	basePath, baseFormat, err := resolveBaseImage(ctx, d, cfg, req, spec, log)
	if err != nil {
		return err
	}

	workDir := cfg.VMWorkDir(req.Name)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create working directory %s: %w", workDir, err)
	}

	// Partial state is cleaned up on failure so a rerun starts fresh.
	var (
		domainDefined bool
		poolEnsured   bool
		createErr     error
	)
	defer func() {
		if createErr != nil {
			cleanupCreate(d, cfg, req.Name, domainDefined, poolEnsured, log)
		}
	}()

	log.Statusf("Generating cloud-init seed for %s", req.Name)
	isoPath := filepath.Join(workDir, req.Name+"-cidata.iso")
	if createErr = writeSeedISO(isoPath, req, spec, pubKey); createErr != nil {
		return createErr
	}

	log.Statusf("Creating boot disk (%d GB)", req.DiskSizeGB)
	diskPath := filepath.Join(workDir, req.Name+".qcow2")
	if createErr = d.disks.CreateOverlay(diskPath, basePath, baseFormat); createErr != nil {
		return createErr
	}
	if createErr = d.disks.Resize(diskPath, req.DiskSizeGB); createErr != nil {
		return createErr
	}

	network, disk, cdrom := deviceOptions(req, diskPath, isoPath)
	log.Info("assembled device options", "network", network, "disk", disk, "cdrom", cdrom)

	if createErr = d.pools.EnsurePool(req.Name, workDir); createErr != nil {
		return fmt.Errorf("failed to ensure storage pool: %w", createErr)
	}
	poolEnsured = true
	if err := d.pools.RefreshPool(req.Name); err != nil {
		log.Error(err, "pool refresh failed", "pool", req.Name)
	}

	log.Statusf("Defining domain %s", req.Name)
	domainXML, err := lv.GenerateDomainXML(lv.DomainSpec{
		Name:        req.Name,
		VCPUs:       req.VCPUs,
		MemoryMB:    req.MemoryMB,
		DiskPath:    diskPath,
		DiskFormat:  "qcow2",
		SeedISOPath: isoPath,
		Bridge:      req.Bridge,
		MACAddress:  req.MACAddress,
		OsinfoID:    spec.OsinfoID,
	})
	if err != nil {
		createErr = err
		return createErr
	}

	domain, err := d.hv.DomainDefineXML(domainXML)
	if err != nil {
		createErr = fmt.Errorf("failed to define domain: %w", err)
		return createErr
	}
	domainDefined = true

	rec := &metadata.Record{
		Name:       req.Name,
		Distro:     spec.ID,
		Image:      req.ImagePath,
		LoginUser:  spec.LoginUser,
		VCPUs:      req.VCPUs,
		MemoryMB:   req.MemoryMB,
		DiskSizeGB: req.DiskSizeGB,
		Bridge:     req.Bridge,
		FQDN:       req.Name + "." + req.DNSDomain,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if err := metadata.Store(d.hv, domain, rec); err != nil {
		log.Error(err, "failed to store provisioning record")
	}

	if req.Autostart {
		if err := d.hv.DomainSetAutostart(domain, 1); err != nil {
			createErr = fmt.Errorf("failed to enable autostart: %w", err)
			return createErr
		}
	}

	log.Statusf("Starting domain %s", req.Name)
	if err := d.hv.DomainCreate(domain); err != nil {
		createErr = fmt.Errorf("failed to start domain: %w", err)
		return createErr
	}

	// The seed only matters on first boot. Dropping it from the persistent
	// definition keeps reboots clean; the running instance holds its own
	// open handle, so the file itself can go too.
	if seedXML, err := lv.SeedCDROMXML(isoPath); err == nil {
		if err := d.hv.DomainDetachDeviceFlags(domain, seedXML, uint32(libvirt.DomainDeviceModifyConfig)); err != nil {
			log.Error(err, "failed to detach seed device from persistent config")
		} else if err := os.Remove(isoPath); err != nil {
			log.Error(err, "failed to remove seed ISO", "path", isoPath)
		}
	}

	finishCreate(ctx, d, cfg, req, spec, domain, domainXML, rec, log)
	return nil
}

// finishCreate handles everything after the domain is up: MAC readback,
// address discovery, known_hosts hygiene, and the final record update.
// Failures here are reported but never fail the create; the VM is running.
func finishCreate(ctx context.Context, d *deps, cfg config.Config, req CreateRequest, spec distro.Spec, domain libvirt.Domain, definedXML string, rec *metadata.Record, log *logging.VMLog) {
	mac := req.MACAddress
	if mac == "" {
		liveXML, err := d.hv.DomainGetXMLDesc(domain, 0)
		if err != nil {
			liveXML = definedXML
		}
		mac, err = lv.DomainMACFromXML(liveXML)
		if err != nil {
			log.Error(err, "failed to determine domain MAC address")
			return
		}
	}
	rec.MACAddress = mac

	log.Statusf("Waiting up to %s for a DHCP lease", cfg.LeaseTimeout())
	leaseCtx, cancel := context.WithTimeout(ctx, cfg.LeaseTimeout())
	defer cancel()

	ip, err := d.discover.DiscoverAddress(leaseCtx, req.Bridge, mac, 0)
	if err != nil {
		log.Statusf("No address found for %s: %v", req.Name, err)
		if errors.Is(err, lv.ErrNetworkNotManaged) {
			log.Statusf("Consult your DHCP server for the lease of %s", mac)
		}
		if err := metadata.Store(d.hv, domain, rec); err != nil {
			log.Error(err, "failed to update provisioning record")
		}
		return
	}
	rec.IPAddress = ip
	if err := metadata.Store(d.hv, domain, rec); err != nil {
		log.Error(err, "failed to update provisioning record")
	}

	// A recreated VM gets a fresh host key; stale known_hosts entries would
	// make the first ssh fail.
	home, err := os.UserHomeDir()
	if err == nil {
		knownHosts := filepath.Join(home, ".ssh", "known_hosts")
		if err := removeKnownHosts(knownHosts, req.Name, rec.FQDN, ip); err != nil {
			log.Error(err, "failed to clean known_hosts")
		}
	}

	log.Statusf("DNS entry: %s.%s", req.Name, req.DNSDomain)
	log.Statusf("SSH to %s: ssh %s@%s", req.Name, spec.LoginUser, ip)
}

func validateCreate(req CreateRequest) (distro.Spec, string, error) {
	if req.Name == "" || !nameRe.MatchString(req.Name) {
		return distro.Spec{}, "", validationErrorf("invalid VM name %q", req.Name)
	}
	if req.VCPUs <= 0 {
		return distro.Spec{}, "", validationErrorf("vcpus must be positive, got %d", req.VCPUs)
	}
	if req.MemoryMB <= 0 {
		return distro.Spec{}, "", validationErrorf("memory must be positive, got %d", req.MemoryMB)
	}
	if req.DiskSizeGB <= 0 {
		return distro.Spec{}, "", validationErrorf("disk size must be positive, got %d", req.DiskSizeGB)
	}
	if req.Bridge == "" {
		return distro.Spec{}, "", validationErrorf("bridge is required")
	}

	var spec distro.Spec
	if req.ImagePath == "" {
		var err error
		spec, err = distro.Resolve(req.Distro)
		if err != nil {
			return distro.Spec{}, "", &ValidationError{msg: err.Error()}
		}
	} else {
		// Custom images carry no catalog metadata; cloud-init still needs a
		// family for its first-boot commands, so the selected distro (or
		// the default) supplies it.
		spec, _ = distro.Resolve(req.Distro)
		spec.OSVariant = distro.VariantAuto
		spec.OsinfoID = ""

		if _, err := os.Stat(req.ImagePath); err != nil {
			return distro.Spec{}, "", validationErrorf("base image %s: %v", req.ImagePath, err)
		}
	}

	// The auto sentinel set for custom images skips the check.
	if !distro.KnownVariant(spec.OSVariant) {
		return distro.Spec{}, "", validationErrorf("unknown OS variant %q", spec.OSVariant)
	}

	keyData, err := os.ReadFile(req.PubKeyPath)
	if err != nil {
		return distro.Spec{}, "", validationErrorf("failed to read public key %s: %v", req.PubKeyPath, err)
	}
	if _, _, _, _, err := ssh.ParseAuthorizedKey(keyData); err != nil {
		return distro.Spec{}, "", validationErrorf("%s is not a valid SSH public key: %v", req.PubKeyPath, err)
	}

	if req.ScriptPath != "" {
		if _, err := os.Stat(req.ScriptPath); err != nil {
			return distro.Spec{}, "", validationErrorf("script %s: %v", req.ScriptPath, err)
		}
	}

	return spec, string(keyData), nil
}

// deviceOptions assembles the option summary for each guest device the way
// the external provisioning tools used to receive them. The extras come
// straight from the user configuration.
func deviceOptions(req CreateRequest, diskPath, isoPath string) (network, disk, cdrom string) {
	network = params.Assemble(",", []params.Entry{
		params.KV("bridge", req.Bridge),
		params.KV("model", "virtio"),
		params.KV("mac", req.MACAddress),
		params.Positional(req.NetworkExtra),
	})
	disk = params.Assemble(",", []params.Entry{
		params.KV("path", diskPath),
		params.KV("format", "qcow2"),
		params.KV("cache", "none"),
		params.Positional(req.DiskExtra),
	})
	cdrom = params.Assemble(",", []params.Entry{
		params.KV("path", isoPath),
		params.KV("device", "cdrom"),
		params.Positional(req.CDROMExtra),
	})
	return network, disk, cdrom
}

func resolveBaseImage(ctx context.Context, d *deps, cfg config.Config, req CreateRequest, spec distro.Spec, log *logging.VMLog) (string, string, error) {
	if req.ImagePath != "" {
		details, err := d.disks.ImageInfo(req.ImagePath)
		if err != nil {
			return "", "", fmt.Errorf("failed to inspect base image %s: %w", req.ImagePath, err)
		}
		return req.ImagePath, details.Format, nil
	}

	log.Statusf("Ensuring base image %s", spec.ImageFile)
	path, err := d.images.EnsureImage(ctx, spec, cfg.ImageDir)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch base image: %w", err)
	}
	return path, spec.DiskFormat, nil
}

func writeSeedISO(isoPath string, req CreateRequest, spec distro.Spec, pubKey string) error {
	var script []byte
	if req.ScriptPath != "" {
		var err error
		script, err = os.ReadFile(req.ScriptPath)
		if err != nil {
			return fmt.Errorf("failed to read script %s: %w", req.ScriptPath, err)
		}
	}

	userData, err := cloudinit.GenerateUserData(cloudinit.SeedData{
		Hostname: req.Name,
		FQDN:     req.Name + "." + req.DNSDomain,
		Timezone: req.Timezone,
		SSHKey:   pubKey,
		Family:   spec.Family,
		Script:   script,
	})
	if err != nil {
		return fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := cloudinit.GenerateMetaData(req.Name)
	if err != nil {
		return fmt.Errorf("failed to generate meta-data: %w", err)
	}

	iso, err := cloudinit.GenerateISO(userData, metaData)
	if err != nil {
		return fmt.Errorf("failed to master seed ISO: %w", err)
	}

	if err := os.WriteFile(isoPath, iso, 0o644); err != nil {
		return fmt.Errorf("failed to write seed ISO %s: %w", isoPath, err)
	}
	return nil
}

// cleanupCreate tears down whatever a failed create left behind. Best
// effort: errors are logged, not returned.
func cleanupCreate(d *deps, cfg config.Config, name string, domainDefined, poolEnsured bool, log *logging.VMLog) {
	log.Statusf("Cleaning up after failed creation of %s", name)

	if domainDefined {
		if domain, err := d.hv.DomainLookupByName(name); err == nil {
			_ = d.hv.DomainDestroy(domain)
			if err := d.hv.DomainUndefineFlags(domain, undefineFlags); err != nil {
				log.Error(err, "failed to undefine domain during cleanup")
			}
		}
	}

	if poolEnsured {
		if err := d.pools.DeletePool(name); err != nil {
			log.Error(err, "failed to delete pool during cleanup")
		}
	}

	if err := os.RemoveAll(cfg.VMWorkDir(name)); err != nil {
		log.Error(err, "failed to remove working directory during cleanup")
	}
}
