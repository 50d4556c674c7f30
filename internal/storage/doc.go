// Package storage manages the host-side storage for virtual machines: the
// per-VM libvirt directory pool rooted at the VM's working directory, and
// the qcow2 disk images inside it created and resized with qemu-img.
package storage
