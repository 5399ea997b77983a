package artnet

import (
	"errors"
	"fmt"
	"net"
)

// DefaultAddressRange is the network searched when a line has no IP.
const DefaultAddressRange = "192.168.6.0/24"

var errNoInterface = errors.New("no interface found")

// Interface is the local network endpoint of a line.
type Interface struct {
	IP        net.IP
	Netmask   net.IPMask
	Broadcast net.IP
	MAC       net.HardwareAddr
}

// Loopback is the interface used for "127.0.0.1" lines.
func Loopback() Interface {
	return Interface{
		IP:        net.IPv4(127, 0, 0, 1).To4(),
		Netmask:   net.CIDRMask(8, 32),
		Broadcast: net.IPv4(127, 0, 0, 1).To4(),
	}
}

// FindArtNetIP finds the IPv4 interface with an address inside cidr, or the
// one holding ip when ip is set.
func FindArtNetIP(ip, cidr string) (Interface, error) {
	if ip == "127.0.0.1" {
		return Loopback(), nil
	}
	if cidr == "" {
		cidr = DefaultAddressRange
	}
	_, cidrNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Interface{}, fmt.Errorf("bad address range %q: %w", cidr, err)
	}
	want := net.ParseIP(ip)

	ifaces, err := net.Interfaces()
	if err != nil {
		return Interface{}, fmt.Errorf("error getting interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || len(ipNet.Mask) != net.IPv4len {
				continue
			}
			if want != nil && !want.Equal(ip4) {
				continue
			}
			if want == nil && !cidrNet.Contains(ip4) {
				continue
			}
			return Interface{
				IP:        ip4,
				Netmask:   ipNet.Mask,
				Broadcast: broadcastOf(ip4, ipNet.Mask),
				MAC:       iface.HardwareAddr,
			}, nil
		}
	}

	return Interface{}, errNoInterface
}

func broadcastOf(ip net.IP, mask net.IPMask) net.IP {
	b := make(net.IP, net.IPv4len)
	for i := 0; i < net.IPv4len; i++ {
		b[i] = ip[i] | ^mask[i]
	}
	return b
}
