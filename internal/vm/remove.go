package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/fkooman/kvm-install-vm/internal/config"
	lv "github.com/fkooman/kvm-install-vm/internal/libvirt"
	"github.com/fkooman/kvm-install-vm/internal/logging"
	"github.com/fkooman/kvm-install-vm/internal/metadata"
	"github.com/fkooman/kvm-install-vm/internal/storage"
)

const (
	// shutdownTimeout bounds the graceful-shutdown wait before force-stop.
	shutdownTimeout = 30 * time.Second

	domainStateRunning = 1
	domainStateShutoff = 5
)

// undefineFlags removes every piece of domain state libvirt may hold on to.
const undefineFlags = libvirt.DomainUndefineManagedSave |
	libvirt.DomainUndefineSnapshotsMetadata |
	libvirt.DomainUndefineNvram |
	libvirt.DomainUndefineCheckpointsMetadata

// Remove deprovisions a virtual machine: the domain, its storage pool, its
// working directory, and its stale known_hosts entries. Absent pieces are
// reported and skipped; removal must be safe to rerun.
func Remove(ctx context.Context, cfg config.Config, name string, log *logging.VMLog) error {
	if name == "" || !nameRe.MatchString(name) {
		return validationErrorf("invalid VM name %q", name)
	}

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
	}
	return removeWithDeps(ctx, d, cfg, name, log)
}

func removeWithDeps(ctx context.Context, d *deps, cfg config.Config, name string, log *logging.VMLog) error {
	domain, err := d.hv.DomainLookupByName(name)
	switch {
	case err == nil:
		if err := teardownDomain(ctx, d, domain, log); err != nil {
			return err
		}
	case isNoDomain(err):
		log.Statusf("Domain %s not found, removing leftovers only", name)
	default:
		return fmt.Errorf("failed to look up domain %s: %w", name, err)
	}

	exists, err := d.pools.PoolExists(name)
	if err != nil {
		return fmt.Errorf("failed to check storage pool %s: %w", name, err)
	}
	if exists {
		if err := d.pools.DeletePool(name); err != nil {
			return fmt.Errorf("failed to remove storage pool: %w", err)
		}
	} else {
		log.Statusf("Storage pool %s not found, skipping", name)
	}

	workDir := cfg.VMWorkDir(name)
	if _, err := os.Stat(workDir); err == nil {
		log.Statusf("Removing %s", workDir)
		if err := os.RemoveAll(workDir); err != nil {
			return fmt.Errorf("failed to remove working directory %s: %w", workDir, err)
		}
	} else if os.IsNotExist(err) {
		log.Statusf("Working directory %s not found, skipping", workDir)
	}

	log.Statusf("Removed %s", name)
	return nil
}

// teardownDomain stops and undefines a domain. Shutdown is attempted
// gracefully first; a domain that will not stop in time is destroyed.
func teardownDomain(ctx context.Context, d *deps, domain libvirt.Domain, log *logging.VMLog) error {
	// The provisioning record only informs the known_hosts cleanup; a
	// domain without one is removed all the same.
	rec, err := metadata.Load(d.hv, domain)
	if err != nil {
		log.Info("no provisioning record found", "domain", domain.Name)
		rec = nil
	}

	state, _, err := d.hv.DomainGetState(domain, 0)
	if err != nil {
		return fmt.Errorf("failed to get domain state: %w", err)
	}

	if state == domainStateRunning {
		log.Statusf("Shutting down %s", domain.Name)
		stillRunning := true
		if err := d.hv.DomainShutdown(domain); err == nil {
			stillRunning = !waitForShutoff(ctx, d, domain)
		}
		if stillRunning {
			log.Statusf("Destroying %s", domain.Name)
			if err := d.hv.DomainDestroy(domain); err != nil {
				return fmt.Errorf("failed to destroy domain: %w", err)
			}
		}
	}

	if err := d.hv.DomainUndefineFlags(domain, undefineFlags); err != nil {
		return fmt.Errorf("failed to undefine domain: %w", err)
	}

	if rec != nil {
		if home, err := os.UserHomeDir(); err == nil {
			knownHosts := filepath.Join(home, ".ssh", "known_hosts")
			hosts := []string{rec.Name}
			if rec.FQDN != "" {
				hosts = append(hosts, rec.FQDN)
			}
			if rec.IPAddress != "" {
				hosts = append(hosts, rec.IPAddress)
			}
			if err := removeKnownHosts(knownHosts, hosts...); err != nil {
				log.Error(err, "failed to clean known_hosts")
			}
		}
	}

	return nil
}

// waitForShutoff polls until the domain reports shutoff or the timeout
// passes. Returns true when the domain stopped.
func waitForShutoff(ctx context.Context, d *deps, domain libvirt.Domain) bool {
	waitCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
			state, _, err := d.hv.DomainGetState(domain, 0)
			if err != nil {
				return false
			}
			if state == domainStateShutoff {
				return true
			}
		}
	}
}
