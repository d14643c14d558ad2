package socks5

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Address types from RFC 1928 §5.
const (
	atypV4     byte = 0x01
	atypDomain byte = 0x03
	atypV6     byte = 0x04
)

// resolveAddr turns a parsed SOCKS5 address into an ordered list of dial
// targets, per spec §4.6 (C6). V4 and V6 are already concrete socket
// addresses and resolve to a single entry; DOMAIN performs asynchronous
// name resolution and returns every address the resolver gives back, in
// the order given.
func resolveAddr(ctx context.Context, atyp byte, raw []byte, port uint16) ([]string, error) {
	switch atyp {
	case atypV4:
		if len(raw) != 4 {
			return nil, socksFailure(ReplyAddrNotSupported)
		}
		ip := net.IP(raw)
		return []string{net.JoinHostPort(ip.String(), portStr(port))}, nil

	case atypV6:
		if len(raw) != 16 {
			return nil, socksFailure(ReplyAddrNotSupported)
		}
		ip := net.IP(raw)
		return []string{net.JoinHostPort(ip.String(), portStr(port))}, nil

	case atypDomain:
		host := string(raw)
		var resolver net.Resolver
		addrs, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, ioFailure(err)
		}
		if len(addrs) == 0 {
			return nil, socksFailure(ReplyHostUnreachable)
		}
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = net.JoinHostPort(a, portStr(port))
		}
		return out, nil

	default:
		return nil, socksFailure(ReplyAddrNotSupported)
	}
}

func portStr(port uint16) string {
	return fmt.Sprintf("%d", port)
}

// dialUpstream attempts only the first candidate address, bounded by
// timeout, per spec §4.6's documented (non-happy-eyeballs) behavior.
func dialUpstream(ctx context.Context, candidates []string, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", candidates[0])
	if err != nil {
		return nil, socksFailure(ReplyConnRefused)
	}
	return conn, nil
}
