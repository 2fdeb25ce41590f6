// Package rawconn is the transport abstraction virtnet and the lonet
// adapter are built on: an opaque, already-connected byte stream with
// connect/accept/sendall/recv-line/close and local/peer address
// queries, per spec.md §1's "out of scope: lowest-level byte-stream
// transport" boundary. Everything above this package only ever talks
// to the Conn/Listener interfaces, never to *net.TCPConn directly,
// which keeps virtnet's core free of any real-socket detail.
package rawconn

import (
	"context"
	"fmt"
	"io"
	"net"
)

// Conn is an established, bidirectional byte stream between two
// loopback endpoints.
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener accepts inbound Conns on a bound loopback address.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

// ListenLoopback binds a TCP listener on 127.0.0.1:0 (OS-assigned
// port), the real socket every lonet subnetwork serves its virtual
// hosts' traffic through.
func ListenLoopback(ctx context.Context) (Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	return tcpListener{ln}, nil
}

type tcpListener struct{ net.Listener }

func (l tcpListener) Accept() (Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Dial opens a real TCP connection to a loopback address such as
// "127.0.0.1:54321", as produced by a subnetwork's registry entry.
func Dial(ctx context.Context, osladdr string) (Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", osladdr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SendAll writes data to c in full, looping over short writes the way
// a raw socket's sendall would.
func SendAll(c Conn, data []byte) error {
	for len(data) > 0 {
		n, err := c.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// RecvLine reads one newline-terminated line from c, at most maxLen
// bytes including the trailing newline. Reaching EOF before a newline
// is an error, matching the original's skreadline. It reads exactly
// one byte at a time so that any bytes following the newline are left
// untouched on the stream for the upper protocol layer.
func RecvLine(c Conn, maxLen int) ([]byte, error) {
	line := make([]byte, 0, 64)
	var b [1]byte
	for len(line) < maxLen {
		n, err := c.Read(b[:])
		if n == 0 && err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("unexpected EOF")
			}
			return nil, err
		}
		if n == 0 {
			continue
		}
		line = append(line, b[0])
		if b[0] == '\n' {
			return line, nil
		}
	}
	return nil, fmt.Errorf("line too long (no newline within %d bytes)", maxLen)
}
