package metadata

import (
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"
)

// mockClient stores metadata in memory, keyed by domain name.
type mockClient struct {
	stored map[string]string
	setErr error
	getErr error
}

func newMockClient() *mockClient {
	return &mockClient{stored: map[string]string{}}
}

func (m *mockClient) DomainSetMetadata(dom libvirt.Domain, typ int32, meta libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.stored[dom.Name] = meta[0]
	return nil
}

func (m *mockClient) DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	data, ok := m.stored[dom.Name]
	if !ok {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "metadata not found"}
	}
	return data, nil
}

func sampleRecord() *Record {
	return &Record{
		Name:       "myvm",
		Distro:     "debian10",
		LoginUser:  "debian",
		VCPUs:      2,
		MemoryMB:   2048,
		DiskSizeGB: 20,
		Bridge:     "virbr0",
		MACAddress: "52:54:00:11:22:33",
		IPAddress:  "192.168.122.50",
		FQDN:       "myvm.example.local",
		CreatedAt:  "2021-06-01T12:00:00Z",
	}
}

func TestStoreAndLoad(t *testing.T) {
	mc := newMockClient()
	dom := libvirt.Domain{Name: "myvm"}

	if err := Store(mc, dom, sampleRecord()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	got, err := Load(mc, dom)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := sampleRecord()
	if *got != *want {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestStoreEnvelope(t *testing.T) {
	mc := newMockClient()
	dom := libvirt.Domain{Name: "myvm"}

	if err := Store(mc, dom, sampleRecord()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	raw := mc.stored["myvm"]
	if !strings.Contains(raw, Namespace) {
		t.Errorf("stored metadata missing namespace: %s", raw)
	}
	if !strings.Contains(raw, "distro: debian10") {
		t.Errorf("stored metadata should carry the record as readable YAML: %s", raw)
	}
}

func TestLoadMissing(t *testing.T) {
	mc := newMockClient()

	if _, err := Load(mc, libvirt.Domain{Name: "ghost"}); err == nil {
		t.Error("Load() on a domain without a record should fail")
	}
}
