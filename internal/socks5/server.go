// Package socks5 implements the per-stream SOCKS5 server state machine
// (RFC 1928 + RFC 1929) that runs over each logical stream the
// multiplexer session accepts.
package socks5

import (
	"context"
	"encoding/binary"
	"io"
	"log"
	"net"
	"strings"
	"time"
)

const (
	socksVersion = 0x05

	cmdConnect = 0x01
	cmdBind    = 0x02
	cmdUDP     = 0x03

	// DefaultConnectTimeout is applied to the upstream CONNECT dial when
	// the caller configures none, per spec §3.
	DefaultConnectTimeout = 500 * time.Millisecond
)

// Server runs the SOCKS5 state machine described in spec §4.5 over a
// single logical stream. A Server is constructed fresh for every accepted
// stream and is never reused.
type Server struct {
	stream  net.Conn
	creds   *CredentialStore
	timeout time.Duration
	logID   string
}

// New builds a Server for one logical stream. store may be nil, meaning
// no credentials are configured (NO AUTH only). A zero timeout is
// replaced with DefaultConnectTimeout.
func New(stream net.Conn, store *CredentialStore, timeout time.Duration, logID string) *Server {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &Server{stream: stream, creds: store, timeout: timeout, logID: logID}
}

// Serve drives the stream through GREETING_READ -> METHOD_SELECT ->
// [AUTH_SUBNEGOTIATE] -> REQUEST_READ -> REQUEST_DISPATCH -> REPLY_SENT
// -> SPLICING -> DONE. Any protocol violation along the way terminates
// only this stream; it never propagates to the session.
func (s *Server) Serve(ctx context.Context) error {
	defer s.stream.Close()

	if err := s.negotiateMethod(); err != nil {
		return err
	}

	req, err := s.readRequest()
	if err != nil {
		s.replyAndClose(replyCode(err))
		return err
	}

	if req.cmd != cmdConnect {
		// spec §9 Open Questions: BIND/UDP ASSOCIATE get a conformant
		// command-not-supported reply, never a silent close.
		s.replyAndClose(ReplyCmdNotSupported)
		return socksFailure(ReplyCmdNotSupported)
	}

	return s.handleConnect(ctx, req)
}

type request struct {
	cmd  byte
	atyp byte
	addr []byte
	port uint16
}

// negotiateMethod implements GREETING_READ and METHOD_SELECT, and, when
// USER/PASS is chosen, AUTH_SUBNEGOTIATE.
func (s *Server) negotiateMethod() error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(s.stream, header); err != nil {
		return ioFailure(err)
	}
	if header[0] != socksVersion {
		return socksFailure(ReplyGeneralFailure)
	}

	offered := make([]byte, header[1])
	if _, err := io.ReadFull(s.stream, offered); err != nil {
		return ioFailure(err)
	}

	method := selectMethod(offered, authMethods(s.creds))
	if _, err := s.stream.Write([]byte{socksVersion, method}); err != nil {
		return ioFailure(err)
	}
	if method == MethodNoAcceptable {
		return socksFailure(ReplyGeneralFailure)
	}

	if method == MethodUserPass {
		return s.authenticate()
	}
	return nil
}

// authenticate implements RFC 1929's subnegotiation.
func (s *Server) authenticate() error {
	header := make([]byte, 2)
	if _, err := io.ReadFull(s.stream, header); err != nil {
		return ioFailure(err)
	}
	if header[0] != authVersion {
		return socksFailure(ReplyGeneralFailure)
	}

	uname := make([]byte, header[1])
	if _, err := io.ReadFull(s.stream, uname); err != nil {
		return ioFailure(err)
	}

	plen := make([]byte, 1)
	if _, err := io.ReadFull(s.stream, plen); err != nil {
		return ioFailure(err)
	}
	passwd := make([]byte, plen[0])
	if _, err := io.ReadFull(s.stream, passwd); err != nil {
		return ioFailure(err)
	}

	username := lossyUTF8(uname)
	password := lossyUTF8(passwd)

	if !s.creds.Contains(username, password) {
		_, _ = s.stream.Write([]byte{authVersion, authFailure})
		return socksFailure(ReplyConnNotAllowed)
	}
	if _, err := s.stream.Write([]byte{authVersion, authSuccess}); err != nil {
		return ioFailure(err)
	}
	return nil
}

// readRequest implements REQUEST_READ.
func (s *Server) readRequest() (*request, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(s.stream, header); err != nil {
		return nil, ioFailure(err)
	}
	if header[0] != socksVersion {
		return nil, socksFailure(ReplyGeneralFailure)
	}
	cmd := header[1]
	atyp := header[3]

	if cmd != cmdConnect && cmd != cmdBind && cmd != cmdUDP {
		return nil, socksFailure(ReplyCmdNotSupported)
	}

	var addr []byte
	switch atyp {
	case atypV4:
		addr = make([]byte, 4)
	case atypV6:
		addr = make([]byte, 16)
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(s.stream, lenBuf); err != nil {
			return nil, ioFailure(err)
		}
		addr = make([]byte, lenBuf[0])
	default:
		return nil, socksFailure(ReplyAddrNotSupported)
	}
	if _, err := io.ReadFull(s.stream, addr); err != nil {
		return nil, ioFailure(err)
	}
	if atyp == atypDomain {
		addr = []byte(lossyUTF8(addr))
	}

	portBuf := make([]byte, 2)
	if _, err := io.ReadFull(s.stream, portBuf); err != nil {
		return nil, ioFailure(err)
	}

	return &request{
		cmd:  cmd,
		atyp: atyp,
		addr: addr,
		port: binary.BigEndian.Uint16(portBuf),
	}, nil
}

// handleConnect implements REQUEST_DISPATCH, REPLY_SENT and SPLICING for
// the CONNECT command.
func (s *Server) handleConnect(ctx context.Context, req *request) error {
	candidates, err := resolveAddr(ctx, req.atyp, req.addr, req.port)
	if err != nil {
		s.replyAndClose(replyCode(err))
		return err
	}

	upstream, err := dialUpstream(ctx, candidates, s.timeout)
	if err != nil {
		s.replyAndClose(replyCode(err))
		return err
	}
	defer upstream.Close()

	if err := s.reply(ReplySuccess); err != nil {
		return ioFailure(err)
	}

	if err := splice(s.stream, upstream); err != nil {
		log.Printf("%s: splice error: %v", s.logID, err)
		return err
	}
	return nil
}

// reply writes the fixed 10-byte reply PDU from spec §4.5:
// [0x05, REP, 0x00, 0x01, 0,0,0,0, 0,0]. The BND address is always
// 0.0.0.0:0 encoded as ATYP v4, regardless of the request's ATYP or the
// upstream's actual address family (spec §4.5/§9, by design).
func (s *Server) reply(code byte) error {
	pdu := [10]byte{socksVersion, code, 0x00, atypV4, 0, 0, 0, 0, 0, 0}
	_, err := s.stream.Write(pdu[:])
	return err
}

func (s *Server) replyAndClose(code byte) {
	if err := s.reply(code); err != nil {
		log.Printf("%s: failed writing reply 0x%02x: %v", s.logID, code, err)
	}
}

// lossyUTF8 is close to Rust's String::from_utf8_lossy: invalid byte
// sequences are replaced with U+FFFD rather than rejected outright, per
// spec §4.5's DOMAIN/username/password decoding rules. Unlike Rust's, a
// run of consecutive invalid bytes becomes a single U+FFFD.
func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
