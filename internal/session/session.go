// Package session runs the stream-multiplexing protocol over the
// transport in acceptor role (C3) and dispatches each accepted logical
// stream to an independent SOCKS5 server task (C4).
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/paulGUZU/revsocks/internal/socks5"
)

// Config is the session's immutable, shared configuration: the accepted
// credential table and the per-stream connect timeout. It carries no
// mutable state and needs no mutex (spec §5 "Shared state").
type Config struct {
	Credentials    *socks5.CredentialStore
	ConnectTimeout time.Duration
}

// Session owns one transport connection and one multiplexer in acceptor
// mode. It lives until the transport closes or the mux reports a fatal
// error; destroying it implicitly aborts in-flight per-stream tasks by
// starving their reads/writes, not by any explicit cancellation signal
// (spec §5 "Cancellation").
type Session struct {
	conn   net.Conn
	mux    *yamux.Session
	config Config

	wg sync.WaitGroup
}

// New wraps conn in a yamux session running in server (acceptor) role:
// the controller opens logical streams, this agent only ever accepts
// them (spec §4.3).
func New(conn net.Conn, cfg Config) (*Session, error) {
	muxCfg := yamux.DefaultConfig()
	muxCfg.Logger = log.Default()

	mux, err := yamux.Server(conn, muxCfg)
	if err != nil {
		return nil, fmt.Errorf("start multiplexer: %w", err)
	}
	return &Session{conn: conn, mux: mux, config: cfg}, nil
}

// Run drives the accept loop until the multiplexer reports end-of-stream
// or a fatal error (spec §4.3/§4.4). It never returns while the
// multiplexer is healthy; stream-scoped errors are logged and don't block
// progress on any other stream's work.
//
// Every AcceptStream error ends the session: once yamux's recvLoop exits,
// shutdownErr is latched and every subsequent AcceptStream call returns it
// immediately, so there is no recoverable per-call error to retry here —
// retrying would just spin. A clean peer-initiated close (io.EOF or
// yamux.ErrSessionShutdown) is reported as nil, per spec §6's exit-code
// contract; anything else is a genuine transport failure and is returned
// so the process exits non-zero.
func (s *Session) Run(ctx context.Context) error {
	defer s.wg.Wait()
	defer s.mux.Close()

	for {
		stream, err := s.mux.AcceptStream()
		if err != nil {
			if isCleanShutdown(err) {
				return nil
			}
			return fmt.Errorf("multiplexer session ended: %w", err)
		}

		s.wg.Add(1)
		go s.dispatch(ctx, stream)
	}
}

// dispatch runs one SOCKS5 server over a freshly accepted stream. It owns
// the stream exclusively from acceptance to close (spec §3 "Logical
// stream"). A panic here is recovered so one misbehaving stream can never
// unwind the session's accept loop (spec §4.4).
func (s *Session) dispatch(ctx context.Context, stream *yamux.Stream) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session: stream %d: recovered panic: %v", stream.StreamID(), r)
		}
	}()

	logID := fmt.Sprintf("stream-%d", stream.StreamID())
	srv := socks5.New(stream, s.config.Credentials, s.config.ConnectTimeout, logID)
	if err := srv.Serve(ctx); err != nil {
		log.Printf("%s: %v", logID, err)
	}
}

// isCleanShutdown reports whether err from AcceptStream reflects an
// orderly session end rather than a genuine transport failure.
func isCleanShutdown(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, yamux.ErrSessionShutdown)
}
