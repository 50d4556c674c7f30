package storage

import (
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/fkooman/kvm-install-vm/internal/params"
)

// runCommand wraps exec for the qemu-img calls so tests can intercept them.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// ImageDetails is the subset of qemu-img info this tool cares about.
type ImageDetails struct {
	VirtualSize uint64 `json:"virtual-size"`
	Format      string `json:"format"`
}

// ImageInfo inspects a disk image with qemu-img.
func ImageInfo(path string) (*ImageDetails, error) {
	out, err := runCommand("qemu-img", "info", "--output=json", path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image %s: %w\noutput: %s", path, err, string(out))
	}

	var details ImageDetails
	if err := json.Unmarshal(out, &details); err != nil {
		return nil, fmt.Errorf("failed to parse qemu-img info for %s: %w", path, err)
	}
	return &details, nil
}

// CreateOverlay creates a qcow2 copy-on-write disk at path backed by the
// base image. The base is never modified; every VM gets its own overlay.
func CreateOverlay(path, backingPath, backingFormat string) error {
	if backingPath == "" {
		return fmt.Errorf("backing image path is required")
	}
	if backingFormat == "" {
		backingFormat = "qcow2"
	}

	opts := params.Assemble(",", []params.Entry{
		params.KV("backing_file", backingPath),
		params.KV("backing_fmt", backingFormat),
	})

	out, err := runCommand("qemu-img", "create", "-f", "qcow2", "-o", opts, path)
	if err != nil {
		return fmt.Errorf("failed to create overlay disk %s: %w\noutput: %s", path, err, string(out))
	}
	return nil
}

// CreateBlank creates an empty disk image of the given format and size.
func CreateBlank(path, format string, sizeGB int) error {
	if format == "" {
		format = "qcow2"
	}
	if sizeGB <= 0 {
		return fmt.Errorf("disk size must be positive, got %d", sizeGB)
	}

	out, err := runCommand("qemu-img", "create", "-f", format, path, fmt.Sprintf("%dG", sizeGB))
	if err != nil {
		return fmt.Errorf("failed to create disk %s: %w\noutput: %s", path, err, string(out))
	}
	return nil
}

// Resize grows a disk image to sizeGB. Shrinking is refused: qcow2 shrink
// destroys guest data and qemu-img only allows it with --shrink for that
// reason.
func Resize(path string, sizeGB int) error {
	details, err := ImageInfo(path)
	if err != nil {
		return err
	}

	requested := uint64(sizeGB) * 1024 * 1024 * 1024
	if requested < details.VirtualSize {
		return fmt.Errorf("refusing to shrink %s from %d to %d bytes", path, details.VirtualSize, requested)
	}
	if requested == details.VirtualSize {
		return nil
	}

	out, err := runCommand("qemu-img", "resize", path, fmt.Sprintf("%dG", sizeGB))
	if err != nil {
		return fmt.Errorf("failed to resize disk %s: %w\noutput: %s", path, err, string(out))
	}
	return nil
}
