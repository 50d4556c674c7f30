package storage

import (
	"github.com/digitalocean/go-libvirt"
)

// mockLibvirtClient implements LibvirtClient for testing.
type mockLibvirtClient struct {
	pools map[string]uint8 // name -> state

	lookupErr    error
	defineErr    error
	buildErr     error
	createErr    error
	autostartErr error
	destroyErr   error
	undefineErr  error
	refreshErr   error

	definedXML  []string
	destroyed   []string
	undefined   []string
	refreshed   []string
	autostarted []string
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{pools: map[string]uint8{}}
}

func notFoundErr() error {
	return libvirt.Error{Code: uint32(libvirt.ErrNoStoragePool), Message: "no storage pool with matching name"}
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	if m.lookupErr != nil {
		return libvirt.StoragePool{}, m.lookupErr
	}
	if _, ok := m.pools[name]; !ok {
		return libvirt.StoragePool{}, notFoundErr()
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirtClient) StoragePoolDefineXML(xml string, flags uint32) (libvirt.StoragePool, error) {
	if m.defineErr != nil {
		return libvirt.StoragePool{}, m.defineErr
	}
	m.definedXML = append(m.definedXML, xml)
	return libvirt.StoragePool{Name: "defined"}, nil
}

func (m *mockLibvirtClient) StoragePoolBuild(pool libvirt.StoragePool, flags libvirt.StoragePoolBuildFlags) error {
	return m.buildErr
}

func (m *mockLibvirtClient) StoragePoolCreate(pool libvirt.StoragePool, flags libvirt.StoragePoolCreateFlags) error {
	return m.createErr
}

func (m *mockLibvirtClient) StoragePoolSetAutostart(pool libvirt.StoragePool, autostart int32) error {
	if m.autostartErr != nil {
		return m.autostartErr
	}
	m.autostarted = append(m.autostarted, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolDestroy(pool libvirt.StoragePool) error {
	if m.destroyErr != nil {
		return m.destroyErr
	}
	m.destroyed = append(m.destroyed, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolUndefine(pool libvirt.StoragePool) error {
	if m.undefineErr != nil {
		return m.undefineErr
	}
	m.undefined = append(m.undefined, pool.Name)
	delete(m.pools, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolGetInfo(pool libvirt.StoragePool) (uint8, uint64, uint64, uint64, error) {
	state, ok := m.pools[pool.Name]
	if !ok {
		return 0, 0, 0, 0, notFoundErr()
	}
	return state, 0, 0, 0, nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	if m.refreshErr != nil {
		return m.refreshErr
	}
	m.refreshed = append(m.refreshed, pool.Name)
	return nil
}
