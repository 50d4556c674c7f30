// Package distro holds the static catalog of supported distributions and
// the metadata needed to download and provision their cloud images.
package distro

import (
	"fmt"
	"sort"
)

// Family groups distributions that share package manager and network
// tooling. Seed generation uses it to pick the right first-boot commands.
type Family string

const (
	FamilyRHEL   Family = "rhel"
	FamilyDebian Family = "debian"
	FamilySUSE   Family = "suse"
)

// VariantAuto is the sentinel OS variant used for custom images, where no
// catalog entry exists and no OS-metadata validation is possible.
const VariantAuto = "auto"

// Spec describes one supported distribution. Specs are immutable and
// looked up by ID.
type Spec struct {
	ID         string
	ImageFile  string
	OSType     string
	OSVariant  string
	BaseURL    string
	DiskFormat string
	LoginUser  string
	Family     Family
	// OsinfoID is the libosinfo identifier embedded as an OS hint in the
	// domain XML so the hypervisor can pick sane device defaults.
	OsinfoID string
}

// ImageURL returns the full download URL for the distribution image.
func (s Spec) ImageURL() string {
	return s.BaseURL + "/" + s.ImageFile
}

// NotFoundError is returned when a distribution ID is not in the catalog.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown distribution %q (run 'kvm-install-vm help create' for the supported list)", e.ID)
}

var catalog = map[string]Spec{
	"amazon2": {
		ID:         "amazon2",
		ImageFile:  "amzn2-kvm-2.0.20200406.0-x86_64.xfs.gpt.qcow2",
		OSType:     "linux",
		OSVariant:  "centos7.0",
		BaseURL:    "https://cdn.amazonlinux.com/os-images/2.0.20200406.0/kvm",
		DiskFormat: "qcow2",
		LoginUser:  "ec2-user",
		Family:     FamilyRHEL,
		OsinfoID:   "http://centos.org/centos/7.0",
	},
	"centos7": {
		ID:         "centos7",
		ImageFile:  "CentOS-7-x86_64-GenericCloud.qcow2",
		OSType:     "linux",
		OSVariant:  "centos7.0",
		BaseURL:    "https://cloud.centos.org/centos/7/images",
		DiskFormat: "qcow2",
		LoginUser:  "centos",
		Family:     FamilyRHEL,
		OsinfoID:   "http://centos.org/centos/7.0",
	},
	"centos8": {
		ID:         "centos8",
		ImageFile:  "CentOS-8-GenericCloud-8.1.1911-20200113.3.x86_64.qcow2",
		OSType:     "linux",
		OSVariant:  "centos8",
		BaseURL:    "https://cloud.centos.org/centos/8/x86_64/images",
		DiskFormat: "qcow2",
		LoginUser:  "centos",
		Family:     FamilyRHEL,
		OsinfoID:   "http://centos.org/centos/8",
	},
	"debian9": {
		ID:         "debian9",
		ImageFile:  "debian-9-openstack-amd64.qcow2",
		OSType:     "linux",
		OSVariant:  "debian9",
		BaseURL:    "https://cdimage.debian.org/cdimage/openstack/current-9",
		DiskFormat: "qcow2",
		LoginUser:  "debian",
		Family:     FamilyDebian,
		OsinfoID:   "http://debian.org/debian/9",
	},
	"debian10": {
		ID:         "debian10",
		ImageFile:  "debian-10-openstack-amd64.qcow2",
		OSType:     "linux",
		OSVariant:  "debian10",
		BaseURL:    "https://cdimage.debian.org/cdimage/openstack/current-10",
		DiskFormat: "qcow2",
		LoginUser:  "debian",
		Family:     FamilyDebian,
		OsinfoID:   "http://debian.org/debian/10",
	},
	"fedora30": {
		ID:         "fedora30",
		ImageFile:  "Fedora-Cloud-Base-30-1.2.x86_64.qcow2",
		OSType:     "linux",
		OSVariant:  "fedora30",
		BaseURL:    "https://download.fedoraproject.org/pub/fedora/linux/releases/30/Cloud/x86_64/images",
		DiskFormat: "qcow2",
		LoginUser:  "fedora",
		Family:     FamilyRHEL,
		OsinfoID:   "http://fedoraproject.org/fedora/30",
	},
	"fedora31": {
		ID:         "fedora31",
		ImageFile:  "Fedora-Cloud-Base-31-1.9.x86_64.qcow2",
		OSType:     "linux",
		OSVariant:  "fedora31",
		BaseURL:    "https://download.fedoraproject.org/pub/fedora/linux/releases/31/Cloud/x86_64/images",
		DiskFormat: "qcow2",
		LoginUser:  "fedora",
		Family:     FamilyRHEL,
		OsinfoID:   "http://fedoraproject.org/fedora/31",
	},
	"opensuse15": {
		ID:         "opensuse15",
		ImageFile:  "openSUSE-Leap-15.1-OpenStack.x86_64.qcow2",
		OSType:     "linux",
		OSVariant:  "opensuse15.1",
		BaseURL:    "https://download.opensuse.org/repositories/Cloud:/Images:/Leap_15.1/images",
		DiskFormat: "qcow2",
		LoginUser:  "opensuse",
		Family:     FamilySUSE,
		OsinfoID:   "http://opensuse.org/opensuse/15.1",
	},
	"ubuntu1604": {
		ID:         "ubuntu1604",
		ImageFile:  "xenial-server-cloudimg-amd64-disk1.img",
		OSType:     "linux",
		OSVariant:  "ubuntu16.04",
		BaseURL:    "https://cloud-images.ubuntu.com/xenial/current",
		DiskFormat: "qcow2",
		LoginUser:  "ubuntu",
		Family:     FamilyDebian,
		OsinfoID:   "http://ubuntu.com/ubuntu/16.04",
	},
	"ubuntu1804": {
		ID:         "ubuntu1804",
		ImageFile:  "bionic-server-cloudimg-amd64.img",
		OSType:     "linux",
		OSVariant:  "ubuntu18.04",
		BaseURL:    "https://cloud-images.ubuntu.com/bionic/current",
		DiskFormat: "qcow2",
		LoginUser:  "ubuntu",
		Family:     FamilyDebian,
		OsinfoID:   "http://ubuntu.com/ubuntu/18.04",
	},
	"ubuntu2004": {
		ID:         "ubuntu2004",
		ImageFile:  "focal-server-cloudimg-amd64.img",
		OSType:     "linux",
		OSVariant:  "ubuntu20.04",
		BaseURL:    "https://cloud-images.ubuntu.com/focal/current",
		DiskFormat: "qcow2",
		LoginUser:  "ubuntu",
		Family:     FamilyDebian,
		OsinfoID:   "http://ubuntu.com/ubuntu/20.04",
	},
}

// Resolve looks up a distribution by ID. Unknown IDs return a
// *NotFoundError naming the offending ID.
func Resolve(id string) (Spec, error) {
	spec, ok := catalog[id]
	if !ok {
		return Spec{}, &NotFoundError{ID: id}
	}
	return spec, nil
}

// IDs returns all catalog IDs in sorted order, for help text.
func IDs() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// KnownVariant reports whether the OS variant is known to the catalog or
// is the VariantAuto sentinel used for custom images.
func KnownVariant(variant string) bool {
	if variant == VariantAuto {
		return true
	}
	for _, spec := range catalog {
		if spec.OSVariant == variant {
			return true
		}
	}
	return false
}
