package libvirt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"
)

// ErrNetworkNotManaged means no libvirt-managed network owns the bridge,
// so no lease table is available and the operator must consult their own
// DHCP infrastructure.
var ErrNetworkNotManaged = errors.New("bridge is not managed by a libvirt network")

// ErrAddressNotFound means the lease poll deadline expired without the
// domain's hardware address appearing in the lease table.
var ErrAddressNotFound = errors.New("no DHCP lease found for domain")

// leaseClient is the slice of the libvirt API lease discovery needs.
type leaseClient interface {
	ConnectListAllNetworks(needResults int32, flags libvirt.ConnectListAllNetworksFlags) ([]libvirt.Network, uint32, error)
	NetworkGetXMLDesc(net libvirt.Network, flags uint32) (string, error)
	NetworkGetDhcpLeases(net libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error)
}

// DiscoverAddress resolves the IP address assigned to mac on the given
// bridge by polling the owning libvirt network's lease table once per
// interval until ctx expires. Unlike an unbounded wait, a missing lease is
// a definite outcome: ErrAddressNotFound.
func (c *Client) DiscoverAddress(ctx context.Context, bridge, mac string, interval time.Duration) (string, error) {
	net, err := findNetworkByBridge(c.libvirt, bridge)
	if err != nil {
		return "", err
	}
	return waitForLease(ctx, c.libvirt, net, mac, interval)
}

func findNetworkByBridge(lc leaseClient, bridge string) (libvirt.Network, error) {
	nets, _, err := lc.ConnectListAllNetworks(1, 0)
	if err != nil {
		return libvirt.Network{}, fmt.Errorf("failed to list networks: %w", err)
	}

	for _, net := range nets {
		xmlDesc, err := lc.NetworkGetXMLDesc(net, 0)
		if err != nil {
			continue
		}
		var def libvirtxml.Network
		if err := def.Unmarshal(xmlDesc); err != nil {
			continue
		}
		if def.Bridge != nil && def.Bridge.Name == bridge {
			return net, nil
		}
	}

	return libvirt.Network{}, fmt.Errorf("%w: %s", ErrNetworkNotManaged, bridge)
}

func waitForLease(ctx context.Context, lc leaseClient, net libvirt.Network, mac string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		leases, _, err := lc.NetworkGetDhcpLeases(net, libvirt.OptString{mac}, 1, 0)
		if err != nil {
			return "", fmt.Errorf("failed to query lease table: %w", err)
		}
		for _, lease := range leases {
			if lease.Ipaddr != "" {
				return lease.Ipaddr, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w (hardware address %s)", ErrAddressNotFound, mac)
		case <-ticker.C:
		}
	}
}
