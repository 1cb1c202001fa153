package inventory

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ExpandCIDR returns the usable host addresses in an IPv4 CIDR range. For
// ranges larger than /31 the network address (all host bits 0) and the
// broadcast address (all host bits 1) are skipped; /31 is a point-to-point
// link where both addresses are usable (RFC 3021).
func ExpandCIDR(cidr string) ([]string, error) {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}

	ip := network.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("CIDR %q: only IPv4 ranges are supported", cidr)
	}

	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("CIDR %q: only IPv4 ranges are supported", cidr)
	}

	if ones == 32 {
		return []string{ip.String()}, nil
	}

	start := binary.BigEndian.Uint32(ip)
	size := uint32(1) << uint(bits-ones)

	var hosts []string
	if ones == 31 {
		for i := uint32(0); i < size; i++ {
			hosts = append(hosts, u32ToIP(start+i))
		}
		return hosts, nil
	}

	for i := uint32(1); i < size-1; i++ {
		hosts = append(hosts, u32ToIP(start+i))
	}
	return hosts, nil
}

func u32ToIP(v uint32) string {
	addr := make(net.IP, 4)
	binary.BigEndian.PutUint32(addr, v)
	return addr.String()
}
