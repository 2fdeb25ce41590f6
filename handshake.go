package lonet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kirr-labs/lonet/internal/rawconn"
	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// The lonet wire handshake is two text lines exchanged over an
// otherwise raw TCP connection, before the connection is handed to its
// virtual socket for ordinary byte-stream use:
//
//	dialer   -> `> lonet "<network>" dial "<src>" "<dst>"\n`
//	acceptor -> `< lonet "<network>" connected "<addr>"\n`
//	         or `< lonet "<network>" E "<reason>"\n`
//
// Quoted fields are Go string literals (strconv.Quote/Unquote), which
// is enough to round-trip any address this package itself produces;
// both ends of every handshake are this same implementation. Only the
// quoting dialect is a local choice — the verbs themselves (connected,
// E) and E's "connection refused" normalization are the fixed wire
// grammar, so any lonet peer can speak it.

func loconnect(conn rawconn.Conn, maxLine int, network string, src, dst virtaddr.Addr) (virtaddr.Addr, error) {
	req := fmt.Sprintf("> lonet %s dial %s %s\n",
		strconv.Quote(network), strconv.Quote(src.String()), strconv.Quote(dst.String()))
	if err := rawconn.SendAll(conn, []byte(req)); err != nil {
		return virtaddr.Addr{}, err
	}

	line, err := rawconn.RecvLine(conn, maxLine)
	if err != nil {
		return virtaddr.Addr{}, err
	}
	netw, verb, arg, err := parseResponseLine(string(line))
	if err != nil {
		return virtaddr.Addr{}, err
	}
	if netw != network {
		return virtaddr.Addr{}, xerr.NewProtocolError(fmt.Sprintf("network mismatch: want %q; have %q", network, netw))
	}

	switch verb {
	case "connected":
		addr, err := virtaddr.Parse(network, arg)
		if err != nil {
			return virtaddr.Addr{}, xerr.NewProtocolError("bad accept address: " + err.Error())
		}
		return addr, nil
	case "E":
		return virtaddr.Addr{}, refuseError(arg)
	default:
		return virtaddr.Addr{}, xerr.NewProtocolError("unexpected verb " + strconv.Quote(verb))
	}
}

func loaccept(conn rawconn.Conn, maxLine int, network string) (src, dst virtaddr.Addr, err error) {
	line, err := rawconn.RecvLine(conn, maxLine)
	if err != nil {
		return virtaddr.Addr{}, virtaddr.Addr{}, err
	}
	netw, srcS, dstS, err := parseRequestLine(string(line))
	if err != nil {
		return virtaddr.Addr{}, virtaddr.Addr{}, err
	}
	if netw != network {
		return virtaddr.Addr{}, virtaddr.Addr{}, xerr.NewProtocolError(fmt.Sprintf("network mismatch: want %q; have %q", network, netw))
	}
	src, err = virtaddr.Parse(network, srcS)
	if err != nil {
		return virtaddr.Addr{}, virtaddr.Addr{}, xerr.NewProtocolError("bad src address: " + err.Error())
	}
	dst, err = virtaddr.Parse(network, dstS)
	if err != nil {
		return virtaddr.Addr{}, virtaddr.Addr{}, xerr.NewProtocolError("bad dst address: " + err.Error())
	}
	return src, dst, nil
}

func sendAccept(conn rawconn.Conn, network string, addr virtaddr.Addr) error {
	line := fmt.Sprintf("< lonet %s connected %s\n", strconv.Quote(network), strconv.Quote(addr.String()))
	return rawconn.SendAll(conn, []byte(line))
}

// sendRefuse sends an E reply for cause, which may be either the
// genuine "connection refused" vnet_accept outcome (normalized to the
// literal reason string "connection refused", per the wire grammar) or
// a protocol violation (cause already renders as "protocol error: ...").
func sendRefuse(conn rawconn.Conn, network string, cause error) error {
	root := xerr.Cause(cause)
	reason := root.Error()
	if root == xerr.ErrConnRefused {
		reason = "connection refused"
	}
	line := fmt.Sprintf("< lonet %s E %s\n", strconv.Quote(network), strconv.Quote(reason))
	return rawconn.SendAll(conn, []byte(line))
}

// refuseError maps an E reply's reason back to an error on the dialer
// side: the literal string "connection refused" maps to the
// well-known sentinel; anything else (a protocol-error message, or
// some other sentinel's rendered text) maps to one of lonet's other
// well-known sentinels when it matches exactly, falling back to a
// generic error carrying the peer's message otherwise.
func refuseError(reason string) error {
	if reason == "connection refused" {
		return xerr.ErrConnRefused
	}
	for _, sentinel := range []error{
		xerr.ErrNoHost,
		xerr.ErrNetDown,
		xerr.ErrHostDown,
		xerr.ErrSockDown,
		xerr.ErrAddrInUse,
		xerr.ErrAddrNoListen,
		xerr.ErrHostAlreadyUsed,
	} {
		if sentinel.Error() == reason {
			return sentinel
		}
	}
	return xerr.NewRemoteError(reason)
}

// tokenize splits a handshake line into barewords and Go-quoted
// string literals, which is all the grammar above ever contains.
func tokenize(line string) ([]string, error) {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	var tokens []string
	i := 0
	for i < len(line) {
		for i < len(line) && line[i] == ' ' {
			i++
		}
		if i >= len(line) {
			break
		}
		if line[i] == '"' {
			j := i + 1
			for j < len(line) {
				if line[j] == '\\' {
					j += 2
					continue
				}
				if line[j] == '"' {
					break
				}
				j++
			}
			if j >= len(line) {
				return nil, fmt.Errorf("unterminated quoted string in %q", line)
			}
			tok, err := strconv.Unquote(line[i : j+1])
			if err != nil {
				return nil, fmt.Errorf("bad quoted string in %q: %w", line, err)
			}
			tokens = append(tokens, tok)
			i = j + 1
		} else {
			j := i
			for j < len(line) && line[j] != ' ' {
				j++
			}
			tokens = append(tokens, line[i:j])
			i = j
		}
	}
	return tokens, nil
}

func parseRequestLine(line string) (network, src, dst string, err error) {
	toks, err := tokenize(line)
	if err != nil {
		return "", "", "", xerr.NewProtocolError(err.Error())
	}
	if len(toks) != 6 || toks[0] != ">" || toks[1] != "lonet" || toks[3] != "dial" {
		return "", "", "", xerr.NewProtocolError(fmt.Sprintf("malformed dial request: %q", line))
	}
	return toks[2], toks[4], toks[5], nil
}

func parseResponseLine(line string) (network, verb, arg string, err error) {
	toks, err := tokenize(line)
	if err != nil {
		return "", "", "", xerr.NewProtocolError(err.Error())
	}
	if len(toks) != 5 || toks[0] != "<" || toks[1] != "lonet" {
		return "", "", "", xerr.NewProtocolError(fmt.Sprintf("malformed response: %q", line))
	}
	return toks[2], toks[3], toks[4], nil
}
