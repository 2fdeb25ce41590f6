// Package virtaddr implements addressing for virtnet endpoints:
// Addr{Net,Host,Port} triples and their "host:port" textual form, per
// spec.md §4.1.
package virtaddr

import (
	"fmt"
	"strconv"
	"strings"
)

// Addr is the address of a virtnet endpoint: a network name, a host
// name within that network, and a port on that host. Equality is
// componentwise, which plain struct equality already gives us.
type Addr struct {
	Net  string
	Host string
	Port int
}

// String renders host:port, eliding the network name, matching the
// original's addrstr4.
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Parse splits addr into a virtnet Addr for the named network. addr
// must split into exactly two parts on ":"; the right part must parse
// as an integer, the left part may be empty.
func Parse(network, addr string) (Addr, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return Addr{}, fmt.Errorf("%q is not a valid virtnet address", addr)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Addr{}, fmt.Errorf("%q is not a valid virtnet address", addr)
	}
	return Addr{Net: network, Host: parts[0], Port: port}, nil
}
