package socks5

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSpliceTransparency is P8 from spec §8: bytes sent from either end
// after the reply arrive verbatim at the other end.
func TestSpliceTransparency(t *testing.T) {
	streamA, streamB := net.Pipe()
	upstreamA, upstreamB := net.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- splice(streamA, upstreamA)
	}()

	go func() {
		buf := make([]byte, 32)
		n, _ := upstreamB.Read(buf)
		_, _ = upstreamB.Write(buf[:n])
	}()

	payload := []byte("hello upstream")
	_, err := streamB.Write(payload)
	require.NoError(t, err)

	echoBuf := make([]byte, len(payload))
	_, err = io.ReadFull(streamB, echoBuf)
	require.NoError(t, err)
	require.Equal(t, payload, echoBuf)

	streamB.Close()
	upstreamB.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not return after both ends closed")
	}
}
