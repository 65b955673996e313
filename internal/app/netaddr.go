package app

import (
	"fmt"
	"net"
)

// networkInterface wraps net.Interface for testing
type networkInterface interface {
	Flags() net.Flags
	Addrs() ([]net.Addr, error)
}

type realInterface struct {
	iface net.Interface
}

func (r realInterface) Flags() net.Flags           { return r.iface.Flags }
func (r realInterface) Addrs() ([]net.Addr, error) { return r.iface.Addrs() }

// networkProvider lists the host's interfaces
type networkProvider interface {
	Interfaces() ([]networkInterface, error)
}

type realNetworkProvider struct{}

func (realNetworkProvider) Interfaces() ([]networkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]networkInterface, len(ifaces))
	for i, iface := range ifaces {
		out[i] = realInterface{iface: iface}
	}
	return out, nil
}

// defaultBaseURL builds an http URL reachable from the LAN for listen address addr
func defaultBaseURL(addr string, provider networkProvider) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		port = ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = preferredIP(provider)
	}
	if port == "" || port == "80" {
		return "http://" + host
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

// preferredIP returns an IPv4 address phones on the same network can reach.
// Private ranges win over public ones; "localhost" is the last resort.
func preferredIP(provider networkProvider) string {
	ifaces, err := provider.Interfaces()
	if err != nil {
		return "localhost"
	}

	var fallback string
	for _, iface := range ifaces {
		flags := iface.Flags()
		if flags&net.FlagUp == 0 || flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := ipOf(addr)
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if ip.IsPrivate() {
				return ip.String()
			}
			if fallback == "" {
				fallback = ip.String()
			}
		}
	}

	if fallback != "" {
		return fallback
	}
	return "localhost"
}

// ipOf extracts the IPv4 address of addr, or nil
func ipOf(addr net.Addr) net.IP {
	var ip net.IP
	switch v := addr.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip == nil {
		return nil
	}
	return ip.To4()
}
