// Package localhost enumerates the local IPv4 addresses packets are sent from.
package localhost

import (
	"errors"
	"fmt"
	"net"
)

var ErrNoAddresses = errors.New("no usable IPv4 interface address")

// Address is one IPv4 address together with the interface carrying it.
type Address struct {
	Interface net.Interface
	IP        net.IP
}

func (a Address) String() string {
	return fmt.Sprintf("%s(%s)", a.Interface.Name, a.IP)
}

type Lister interface {
	Addresses() ([]Address, error)
}

// System lists the addresses of the host's network interfaces. Interfaces
// that are down are skipped. Loopback is only used when named explicitly.
type System struct {
	// nil accepts every interface
	Accept func(name string) bool
}

func (s System) Addresses() ([]Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	var out []Address
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		named := s.Accept != nil
		if named && !s.Accept(iface.Name) {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 && !named {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("addresses of %s: %w", iface.Name, err)
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil {
				out = append(out, Address{Interface: iface, IP: ip4})
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoAddresses
	}
	return out, nil
}

// Static always returns the same addresses.
type Static []Address

func (s Static) Addresses() ([]Address, error) {
	if len(s) == 0 {
		return nil, ErrNoAddresses
	}
	return s, nil
}

// Loopback is the IPv4 loopback address on the first loopback interface.
func Loopback() (Address, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return Address{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 && iface.Flags&net.FlagUp != 0 {
			return Address{Interface: iface, IP: net.IPv4(127, 0, 0, 1).To4()}, nil
		}
	}
	return Address{}, ErrNoAddresses
}
