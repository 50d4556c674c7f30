package storage

import (
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// LibvirtClient is the slice of the libvirt API pool management needs.
// Satisfied by *libvirt.Libvirt; narrowed for testing.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolDestroy(Pool libvirt.StoragePool) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolGetInfo(Pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
}

// Manager handles the libvirt storage pool that tracks a VM's working
// directory. Each VM gets its own dir-backed pool, named after the VM, so
// the hypervisor refreshes and accounts for the disks living there.
type Manager struct {
	client LibvirtClient
}

// NewManager creates a pool manager over an established libvirt connection.
func NewManager(client LibvirtClient) *Manager {
	return &Manager{client: client}
}

// EnsurePool makes sure a dir-backed pool named name exists and is running
// at path. Creating a pool that already exists is a no-op.
func (m *Manager) EnsurePool(name, path string) error {
	if _, err := m.client.StoragePoolLookupByName(name); err == nil {
		return nil
	}
	return m.createPool(name, path)
}

// PoolExists reports whether a pool with the given name is defined.
func (m *Manager) PoolExists(name string) (bool, error) {
	_, err := m.client.StoragePoolLookupByName(name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to look up pool %s: %w", name, err)
}

func (m *Manager) createPool(name, path string) error {
	poolXML, err := dirPoolXML(name, path)
	if err != nil {
		return fmt.Errorf("failed to generate pool XML: %w", err)
	}

	pool, err := m.client.StoragePoolDefineXML(poolXML, 0)
	if err != nil {
		return fmt.Errorf("failed to define pool %s: %w", name, err)
	}

	if err := m.client.StoragePoolBuild(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to build pool %s: %w", name, err)
	}

	if err := m.client.StoragePoolCreate(pool, 0); err != nil {
		_ = m.client.StoragePoolUndefine(pool)
		return fmt.Errorf("failed to start pool %s: %w", name, err)
	}

	if err := m.client.StoragePoolSetAutostart(pool, 1); err != nil {
		return fmt.Errorf("pool %s created but autostart failed: %w", name, err)
	}

	return nil
}

// DeletePool stops and undefines the pool. A pool that does not exist is
// not an error; removal must be idempotent.
func (m *Manager) DeletePool(name string) error {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to look up pool %s: %w", name, err)
	}

	state, _, _, _, err := m.client.StoragePoolGetInfo(pool)
	if err != nil {
		return fmt.Errorf("failed to get pool info for %s: %w", name, err)
	}
	if libvirt.StoragePoolState(state) == libvirt.StoragePoolRunning {
		if err := m.client.StoragePoolDestroy(pool); err != nil {
			return fmt.Errorf("failed to stop pool %s: %w", name, err)
		}
	}

	if err := m.client.StoragePoolUndefine(pool); err != nil {
		return fmt.Errorf("failed to undefine pool %s: %w", name, err)
	}

	return nil
}

// RefreshPool asks libvirt to rescan the pool directory, picking up disks
// created outside of libvirt (qemu-img writes files directly).
func (m *Manager) RefreshPool(name string) error {
	pool, err := m.client.StoragePoolLookupByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up pool %s: %w", name, err)
	}
	if err := m.client.StoragePoolRefresh(pool, 0); err != nil {
		return fmt.Errorf("failed to refresh pool %s: %w", name, err)
	}
	return nil
}

// isNotFound matches libvirt's "no storage pool with matching name" error.
// go-libvirt surfaces daemon errors as libvirt.Error values.
func isNotFound(err error) bool {
	if lverr, ok := err.(libvirt.Error); ok {
		return lverr.Code == uint32(libvirt.ErrNoStoragePool)
	}
	return false
}

func dirPoolXML(name, path string) (string, error) {
	pool := &libvirtxml.StoragePool{
		Type: "dir",
		Name: name,
		Target: &libvirtxml.StoragePoolTarget{
			Path: path,
		},
	}

	xml, err := pool.Marshal()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(xml), nil
}
