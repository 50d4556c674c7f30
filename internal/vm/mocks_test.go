package vm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/fkooman/kvm-install-vm/internal/distro"
	"github.com/fkooman/kvm-install-vm/internal/storage"
)

func noDomainErr() error {
	return libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "domain not found"}
}

// mockDomain tracks the state libvirt would hold for one domain.
type mockDomain struct {
	xml       string
	state     int32
	autostart int32
	metadata  string
	attached  []string
	detached  []string
}

// mockHypervisor implements hypervisor over an in-memory domain table.
type mockHypervisor struct {
	domains map[string]*mockDomain

	defineErr   error
	createErr   error
	shutdownErr error
	destroyErr  error
	undefineErr error
	attachErr   error

	undefined []string
	destroyed []string
	// shutdownsUntilOff makes DomainGetState report shutoff after N polls
	// following a DomainShutdown call.
	shutdownsUntilOff int
	shutdownCalled    bool
}

func newMockHypervisor() *mockHypervisor {
	return &mockHypervisor{domains: map[string]*mockDomain{}}
}

func (m *mockHypervisor) addDomain(name string, state int32) *mockDomain {
	d := &mockDomain{state: state, xml: fmt.Sprintf("<domain><name>%s</name></domain>", name)}
	m.domains[name] = d
	return d
}

func (m *mockHypervisor) DomainLookupByName(name string) (libvirt.Domain, error) {
	if _, ok := m.domains[name]; !ok {
		return libvirt.Domain{}, noDomainErr()
	}
	return libvirt.Domain{Name: name}, nil
}

func (m *mockHypervisor) DomainDefineXML(xml string) (libvirt.Domain, error) {
	if m.defineErr != nil {
		return libvirt.Domain{}, m.defineErr
	}
	// Crude name extraction keeps the mock honest without an XML parser.
	name := ""
	if i := strings.Index(xml, "<name>"); i >= 0 {
		rest := xml[i+len("<name>"):]
		if j := strings.Index(rest, "</name>"); j >= 0 {
			name = rest[:j]
		}
	}
	m.domains[name] = &mockDomain{xml: xml, state: domainStateShutoff}
	return libvirt.Domain{Name: name}, nil
}

func (m *mockHypervisor) DomainCreate(dom libvirt.Domain) error {
	if m.createErr != nil {
		return m.createErr
	}
	if d, ok := m.domains[dom.Name]; ok {
		d.state = domainStateRunning
	}
	return nil
}

func (m *mockHypervisor) DomainSetAutostart(dom libvirt.Domain, autostart int32) error {
	if d, ok := m.domains[dom.Name]; ok {
		d.autostart = autostart
	}
	return nil
}

func (m *mockHypervisor) DomainGetAutostart(dom libvirt.Domain) (int32, error) {
	if d, ok := m.domains[dom.Name]; ok {
		return d.autostart, nil
	}
	return 0, noDomainErr()
}

func (m *mockHypervisor) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return 0, 0, noDomainErr()
	}
	if m.shutdownCalled && d.state == domainStateRunning {
		if m.shutdownsUntilOff <= 0 {
			d.state = domainStateShutoff
		} else {
			m.shutdownsUntilOff--
		}
	}
	return d.state, 0, nil
}

func (m *mockHypervisor) DomainGetInfo(dom libvirt.Domain) (uint8, uint64, uint64, uint16, uint64, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return 0, 0, 0, 0, 0, noDomainErr()
	}
	return uint8(d.state), 2097152, 1048576, 2, 0, nil
}

func (m *mockHypervisor) DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return "", noDomainErr()
	}
	return d.xml, nil
}

func (m *mockHypervisor) DomainShutdown(dom libvirt.Domain) error {
	if m.shutdownErr != nil {
		return m.shutdownErr
	}
	m.shutdownCalled = true
	return nil
}

func (m *mockHypervisor) DomainDestroy(dom libvirt.Domain) error {
	if m.destroyErr != nil {
		return m.destroyErr
	}
	m.destroyed = append(m.destroyed, dom.Name)
	if d, ok := m.domains[dom.Name]; ok {
		d.state = domainStateShutoff
	}
	return nil
}

func (m *mockHypervisor) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	if m.undefineErr != nil {
		return m.undefineErr
	}
	m.undefined = append(m.undefined, dom.Name)
	delete(m.domains, dom.Name)
	return nil
}

func (m *mockHypervisor) DomainAttachDeviceFlags(dom libvirt.Domain, xml string, flags uint32) error {
	if m.attachErr != nil {
		return m.attachErr
	}
	d, ok := m.domains[dom.Name]
	if !ok {
		return noDomainErr()
	}
	d.attached = append(d.attached, fmt.Sprintf("%d:%s", flags, xml))
	return nil
}

func (m *mockHypervisor) DomainDetachDeviceFlags(dom libvirt.Domain, xml string, flags uint32) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return noDomainErr()
	}
	d.detached = append(d.detached, xml)
	return nil
}

func (m *mockHypervisor) DomainSetMetadata(dom libvirt.Domain, typ int32, meta libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	d, ok := m.domains[dom.Name]
	if !ok {
		return noDomainErr()
	}
	d.metadata = meta[0]
	return nil
}

func (m *mockHypervisor) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	d, ok := m.domains[dom.Name]
	if !ok {
		return "", noDomainErr()
	}
	if d.metadata == "" {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "no metadata"}
	}
	return d.metadata, nil
}

func (m *mockHypervisor) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	var doms []libvirt.Domain
	for name := range m.domains {
		doms = append(doms, libvirt.Domain{Name: name})
	}
	return doms, uint32(len(doms)), nil
}

// mockPools implements poolManager. Pools are assumed to exist unless a
// test marks them missing.
type mockPools struct {
	ensured   map[string]string
	missing   map[string]bool
	deleted   []string
	refreshed []string
	ensureErr error
	deleteErr error
}

func newMockPools() *mockPools {
	return &mockPools{ensured: map[string]string{}, missing: map[string]bool{}}
}

func (m *mockPools) EnsurePool(name, path string) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}
	m.ensured[name] = path
	delete(m.missing, name)
	return nil
}

func (m *mockPools) PoolExists(name string) (bool, error) {
	return !m.missing[name], nil
}

func (m *mockPools) DeletePool(name string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockPools) RefreshPool(name string) error {
	m.refreshed = append(m.refreshed, name)
	return nil
}

// mockDisks implements diskManager, recording each operation.
type mockDisks struct {
	overlays   [][3]string
	blanks     []string
	resizes    map[string]int
	info       map[string]*storage.ImageDetails
	overlayErr error
	resizeErr  error
}

func newMockDisks() *mockDisks {
	return &mockDisks{
		resizes: map[string]int{},
		info:    map[string]*storage.ImageDetails{},
	}
}

func (m *mockDisks) CreateOverlay(path, backingPath, backingFormat string) error {
	if m.overlayErr != nil {
		return m.overlayErr
	}
	m.overlays = append(m.overlays, [3]string{path, backingPath, backingFormat})
	return nil
}

func (m *mockDisks) CreateBlank(path, format string, sizeGB int) error {
	m.blanks = append(m.blanks, fmt.Sprintf("%s:%s:%d", path, format, sizeGB))
	return nil
}

func (m *mockDisks) Resize(path string, sizeGB int) error {
	if m.resizeErr != nil {
		return m.resizeErr
	}
	m.resizes[path] = sizeGB
	return nil
}

func (m *mockDisks) ImageInfo(path string) (*storage.ImageDetails, error) {
	if details, ok := m.info[path]; ok {
		return details, nil
	}
	return nil, errors.New("image not found")
}

// mockImages implements imageFetcher.
type mockImages struct {
	path string
	err  error
}

func (m *mockImages) EnsureImage(ctx context.Context, spec distro.Spec, dir string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.path, nil
}

// mockDiscover implements addressDiscoverer.
type mockDiscover struct {
	ip  string
	err error
}

func (m *mockDiscover) DiscoverAddress(ctx context.Context, bridge, mac string, interval time.Duration) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.ip, nil
}
