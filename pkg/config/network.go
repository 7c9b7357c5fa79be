package config

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Pool is the parsed address layout of the container bridge
type Pool struct {
	Subnet     *net.IPNet
	Bridge     net.IP
	Start      net.IP
	End        net.IP
	IPv6Prefix *net.IPNet // nil when IPv6 is disabled
}

// Size is the number of addresses in the range
func (p Pool) Size() int {
	return int(ipToUint32(p.End)-ipToUint32(p.Start)) + 1
}

// Pool parses and checks the network settings
func (n Network) Pool() (Pool, error) {
	_, subnet, err := net.ParseCIDR(n.Subnet)
	if err != nil {
		return Pool{}, fmt.Errorf("subnet %q: %w", n.Subnet, err)
	}

	p := Pool{
		Subnet: subnet,
		Bridge: net.ParseIP(n.BridgeAddress).To4(),
		Start:  net.ParseIP(n.RangeStart).To4(),
		End:    net.ParseIP(n.RangeEnd).To4(),
	}
	if p.Bridge == nil || p.Start == nil || p.End == nil {
		return Pool{}, fmt.Errorf("bridge address and range must be IPv4")
	}
	for _, ip := range []net.IP{p.Bridge, p.Start, p.End} {
		if !subnet.Contains(ip) {
			return Pool{}, fmt.Errorf("%s is outside subnet %s", ip, subnet)
		}
	}

	start, end, bridge := ipToUint32(p.Start), ipToUint32(p.End), ipToUint32(p.Bridge)
	if start > end {
		return Pool{}, fmt.Errorf("range start %s is after range end %s", p.Start, p.End)
	}
	if bridge >= start && bridge <= end {
		return Pool{}, fmt.Errorf("bridge address %s lies inside the container range", p.Bridge)
	}

	if n.IPv6Prefix != "" {
		_, prefix, err := net.ParseCIDR(n.IPv6Prefix)
		if err != nil {
			return Pool{}, fmt.Errorf("ipv6 prefix %q: %w", n.IPv6Prefix, err)
		}
		if ones, _ := prefix.Mask.Size(); ones > 96 {
			return Pool{}, fmt.Errorf("ipv6 prefix %s must leave 32 host bits", prefix)
		}
		p.IPv6Prefix = prefix
	}

	return p, nil
}

// MapIPv6 derives the IPv6 address paired with an IPv4 address by placing
// the IPv4 address in the low 32 bits of the prefix.
func (p Pool) MapIPv6(ip4 net.IP) net.IP {
	if p.IPv6Prefix == nil {
		return nil
	}
	out := make(net.IP, net.IPv6len)
	copy(out, p.IPv6Prefix.IP.To16())
	copy(out[12:], ip4.To4())
	return out
}

func ipToUint32(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}
