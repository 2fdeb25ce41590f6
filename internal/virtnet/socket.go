package virtnet

import "github.com/kirr-labs/lonet/internal/virtaddr"

// socket is one reserved port slot on a Host: at most one listener and
// at most one conn may occupy it at a time (spec.md §4.2).
type socket struct {
	host     *Host
	port     int
	conn     *Conn
	listener *Listener
}

func (sk *socket) empty() bool { return sk.conn == nil && sk.listener == nil }

func (sk *socket) addr() virtaddr.Addr {
	return virtaddr.Addr{Net: sk.host.Network(), Host: sk.host.Name(), Port: sk.port}
}
