// Package libvirt wraps github.com/digitalocean/go-libvirt with the
// operations this tool needs: connection management over the system
// management socket, domain XML generation from a provisioning request,
// and DHCP-lease based address discovery for hypervisor-managed bridges.
//
// This package does not define consumer interfaces. The packages that
// orchestrate work (internal/vm, internal/storage) declare their own
// narrow interfaces, which *libvirt.Libvirt satisfies implicitly; that
// keeps the RPC surface mockable without a subprocess-and-parse layer.
package libvirt
