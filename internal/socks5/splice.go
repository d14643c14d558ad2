package socks5

import (
	"errors"
	"io"
	"net"

	"golang.org/x/sync/errgroup"
)

// splice copies bytes concurrently in both directions between the logical
// stream and the upstream connection until either side signals EOF or
// error, per spec §4.7 (C7). Either half closing is terminal for the
// whole stream: closing one side unblocks the other's pending Read via
// net.ErrClosed, which is treated as an orderly teardown rather than a
// propagated error.
func splice(stream, upstream net.Conn) error {
	var g errgroup.Group

	g.Go(func() error {
		defer closeWrite(upstream)
		_, err := io.Copy(upstream, stream)
		return absorbTeardown(err)
	})
	g.Go(func() error {
		defer closeWrite(stream)
		_, err := io.Copy(stream, upstream)
		return absorbTeardown(err)
	})

	return g.Wait()
}

// absorbTeardown treats a closed-connection read error as success: it
// signals the other direction finished and tore the pipe down first, not
// a genuine I/O failure.
func absorbTeardown(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// closeWrite half-closes a connection's write side if it supports it,
// otherwise falls back to a full close. yamux streams and *net.TCPConn
// both implement CloseWrite.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = conn.Close()
}
