// Package transport opens the single outbound connection to the
// controller (C1) and writes the magic-byte handshake that identifies
// this agent on it (C2).
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// MagicBytes is written once, before any multiplexer traffic, so the
// controller can demultiplex agent connections from other protocols on
// the same port. There is no read phase and no acknowledgement.
var MagicBytes = [4]byte{0x1b, 0xc3, 0xbd, 0x0f}

const dialTimeout = 30 * time.Second

// Dialer opens the outbound TCP (optionally TLS-wrapped) connection to
// the controller.
type Dialer struct {
	Host string
	Port uint16
	TLS  bool
}

// Dial opens TCP to the controller and, if TLS is configured, completes a
// client TLS handshake using Host as SNI. Certificate validation is
// deliberately disabled: the reference agent commonly dials self-signed
// controllers, and cert trust policy is out of this core's scope (spec
// §4.1) — a caller embedding a stricter policy would replace this dialer
// wholesale rather than configure it.
func (d *Dialer) Dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port))

	var netDialer net.Dialer
	conn, err := netDialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial controller %s: %w", addr, err)
	}

	if !d.TLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         d.Host,
		InsecureSkipVerify: true,
	})
	handshakeCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", d.Host, err)
	}
	return tlsConn, nil
}

// WriteMagic writes the 4-byte magic prefix, per spec §4.2. It must be
// the first thing written on the transport, before any multiplexer
// frames.
func WriteMagic(conn net.Conn) error {
	if _, err := conn.Write(MagicBytes[:]); err != nil {
		return fmt.Errorf("write magic prefix: %w", err)
	}
	return nil
}
