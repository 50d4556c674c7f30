// Package metadata persists the provisioning record of a virtual machine in
// the libvirt domain's custom XML metadata. The record travels with the
// domain itself, so remove and attach-disk can recover how a VM was built
// without any external state.
package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"
)

const (
	// Namespace is the XML namespace for the provisioning record.
	Namespace = "https://github.com/fkooman/kvm-install-vm/v1"

	// Key is the metadata key registered with libvirt.
	Key = "kvm-install-vm"
)

// Record captures how a VM was provisioned.
type Record struct {
	Name       string `yaml:"name"`
	Distro     string `yaml:"distro,omitempty"`
	Image      string `yaml:"image,omitempty"`
	LoginUser  string `yaml:"loginUser,omitempty"`
	VCPUs      int    `yaml:"vcpus"`
	MemoryMB   int    `yaml:"memoryMB"`
	DiskSizeGB int    `yaml:"diskSizeGB"`
	Bridge     string `yaml:"bridge"`
	MACAddress string `yaml:"macAddress,omitempty"`
	IPAddress  string `yaml:"ipAddress,omitempty"`
	FQDN       string `yaml:"fqdn,omitempty"`
	CreatedAt  string `yaml:"createdAt"`
}

// Client is the slice of the libvirt API metadata storage needs.
type Client interface {
	DomainSetMetadata(Dom libvirt.Domain, Type int32, Metadata libvirt.OptString, Key libvirt.OptString, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(Dom libvirt.Domain, Type int32, Uri libvirt.OptString, Flags libvirt.DomainModificationImpact) (string, error)
}

// envelope wraps the YAML record in the custom metadata element. YAML keeps
// the record readable when inspecting the domain XML by hand.
type envelope struct {
	XMLName    xml.Name `xml:"provisioning"`
	Xmlns      string   `xml:"xmlns,attr"`
	RecordYAML string   `xml:",innerxml"`
}

// Store saves the provisioning record to the domain's metadata, replacing
// any previous record.
func Store(c Client, domain libvirt.Domain, rec *Record) error {
	yamlData, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal provisioning record: %w", err)
	}

	xmlData, err := xml.MarshalIndent(envelope{
		Xmlns:      Namespace,
		RecordYAML: string(yamlData),
	}, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata XML: %w", err)
	}

	err = c.DomainSetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{string(xmlData)},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return fmt.Errorf("failed to set domain metadata: %w", err)
	}

	return nil
}

// Load retrieves the provisioning record from the domain's metadata.
func Load(c Client, domain libvirt.Domain) (*Record, error) {
	xmlStr, err := c.DomainGetMetadata(
		domain,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainModificationImpact(0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get domain metadata: %w", err)
	}

	var env envelope
	if err := xml.Unmarshal([]byte(xmlStr), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}

	var rec Record
	if err := yaml.Unmarshal([]byte(env.RecordYAML), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal provisioning record: %w", err)
	}

	return &rec, nil
}
