// Package netx contains small networking helpers shared by the discovery
// responder and the client connector.
package netx

import "net"

// LocalIPv4 returns the best-guess LAN IPv4 address of this host: the first
// IPv4 address of an interface that is up and not a loopback. Falls back to
// 127.0.0.1 when no candidate is found.
func LocalIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return "127.0.0.1"
}

// SameAddressClass reports whether two IP addresses can stand in for each
// other when a reconnect token is validated. Exact equality always matches;
// otherwise both addresses must be private or loopback, which covers
// deployments behind NAT or port forwarding where the observed peer address
// shifts between private ranges.
func SameAddressClass(a, b string) bool {
	if a == b {
		return true
	}
	ipA := net.ParseIP(a)
	ipB := net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return false
	}
	if ipA.Equal(ipB) {
		return true
	}
	return isLocalClass(ipA) && isLocalClass(ipB)
}

func isLocalClass(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
