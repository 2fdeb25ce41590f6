// Package lonet implements a virtual TCP network simulated on top of
// real loopback TCP sockets: many independent process-local
// "subnetworks" share a hostname registry and talk to each other
// through a small text handshake layered directly over TCP, so code
// exercising real dial/listen/accept timing and connection-refused
// behaviour can run entirely on 127.0.0.1 without any host-level
// network namespace support.
//
// The virtual data model (hosts, sockets, listeners, connections, port
// allocation) lives in the internal virtnet package; this package is
// the concrete adapter that backs it with a real listener per
// subnetwork process and the on-the-wire protocol peers use to dial
// each other (see handshake.go).
package lonet

import (
	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/virtnet"
)

// SubNetwork is one process's membership in a lonet network, joined
// via Join. See virtnet.SubNetwork for its full operation set.
type SubNetwork = virtnet.SubNetwork

// Host is one named endpoint on a SubNetwork. See virtnet.Host.
type Host = virtnet.Host

// Listener is a Host's listening socket. See virtnet.Listener.
type Listener = virtnet.Listener

// Conn is an established virtual connection. See virtnet.Conn.
type Conn = virtnet.Conn

// Addr is a virtual lonet address: network, host name and port.
type Addr = virtaddr.Addr
