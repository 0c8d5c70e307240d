package handshake

// Client-side RTMP simple handshake.
// Implements: Send C0+C1 -> Read S0+S1 -> Send C2 -> Read S2 -> Complete.
// S2 must echo C1 (epoch and nonce) the same way the server side insists on
// C2 echoing S1.

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"time"

	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
	"github.com/alxayo/go-rtmp-handshake/internal/logger"
)

const (
	clientReadTimeout  = 5 * time.Second
	clientWriteTimeout = 5 * time.Second
)

// ClientResult describes a completed client handshake.
type ClientResult struct {
	ServerVersion byte
	ServerEpoch   uint32 // epoch announced in S1
	ClientEpoch   uint32 // epoch we announced in C1
	Duration      time.Duration
}

// ClientHandshake performs the RTMP simple handshake as a client. On success the
// connection is positioned immediately after S2 and deadlines are cleared.
func ClientHandshake(conn net.Conn) (*ClientResult, error) {
	if conn == nil {
		return nil, rerrors.NewHandshakeError("init", fmt.Errorf("nil conn"))
	}
	log := logger.WithHandshake(logger.Logger(), "client")
	start := time.Now()

	// C0 + C1: version, epoch(4) + zero(4) + random(1528)
	c0c1 := make([]byte, HelloSize)
	c0c1[0] = Version
	c1 := c0c1[1:]
	ts := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
	putUint32(c1[epochFieldOffset:], ts)
	if _, err := rand.Read(c1[nonceFieldOffset:]); err != nil {
		return nil, rerrors.NewHandshakeError("rand C1", err)
	}

	if err := setWriteDeadline(conn, clientWriteTimeout); err != nil {
		return nil, err
	}
	if err := writeFull(conn, c0c1); err != nil {
		return nil, classifyIOErr("write C0+C1", clientWriteTimeout, err)
	}

	if err := setReadDeadline(conn, clientReadTimeout); err != nil {
		return nil, err
	}
	s0s1 := make([]byte, HelloSize)
	if _, err := io.ReadFull(conn, s0s1); err != nil {
		return nil, classifyIOErr("read S0+S1", clientReadTimeout, err)
	}
	if s0s1[0] != Version {
		return nil, rerrors.NewHandshakeError("validate S0", fmt.Errorf("%w: server version 0x%02x", rerrors.ErrProtocolViolation, s0s1[0]))
	}
	s1 := s0s1[1:]

	// C2 = echo of S1 (byte-for-byte)
	if err := setWriteDeadline(conn, clientWriteTimeout); err != nil {
		return nil, err
	}
	if err := writeFull(conn, s1); err != nil {
		return nil, classifyIOErr("write C2", clientWriteTimeout, err)
	}

	if err := setReadDeadline(conn, clientReadTimeout); err != nil {
		return nil, err
	}
	s2 := make([]byte, ConfirmationSize)
	if _, err := io.ReadFull(conn, s2); err != nil {
		return nil, classifyIOErr("read S2", clientReadTimeout, err)
	}
	if echoed := readUint32(s2[epochFieldOffset:]); echoed != ts {
		return nil, rerrors.NewHandshakeError("validate S2", fmt.Errorf("%w: echoed epoch %d, sent %d", rerrors.ErrProtocolViolation, echoed, ts))
	}
	if !bytes.Equal(s2[nonceFieldOffset:], c1[nonceFieldOffset:]) {
		return nil, rerrors.NewHandshakeError("validate S2", fmt.Errorf("%w: S2 does not echo C1", rerrors.ErrProtocolViolation))
	}

	// Clear deadlines so later reads are not bound by handshake timeouts.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Warn("Failed to clear read deadline", "error", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		log.Warn("Failed to clear write deadline", "error", err)
	}

	res := &ClientResult{
		ServerVersion: s0s1[0],
		ServerEpoch:   readUint32(s1[epochFieldOffset:]),
		ClientEpoch:   ts,
		Duration:      time.Since(start),
	}
	log.Info("Handshake completed", "c1_ts", ts, "s1_ts", res.ServerEpoch, "duration_ms", res.Duration.Milliseconds())
	return res, nil
}

// Helper: set deadlines with error wrapping.
func setReadDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetReadDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set read deadline", err)
	}
	return nil
}
func setWriteDeadline(c net.Conn, d time.Duration) error {
	if err := c.SetWriteDeadline(time.Now().Add(d)); err != nil {
		return rerrors.NewHandshakeError("set write deadline", err)
	}
	return nil
}

// writeFull ensures entire buffer is written.
func writeFull(w io.Writer, b []byte) error {
	off := 0
	for off < len(b) {
		n, err := w.Write(b[off:])
		if err != nil {
			return err
		}
		off += n
	}
	return nil
}

// classifyIOErr converts deadline expiry into a TimeoutError and everything
// else into a HandshakeError.
func classifyIOErr(op string, d time.Duration, err error) error {
	if isTimeoutErr(err) {
		return rerrors.NewTimeoutError(op, d, err)
	}
	return rerrors.NewHandshakeError(op, err)
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	type to interface{ Timeout() bool }
	if ne, ok := err.(to); ok && ne.Timeout() {
		return true
	}
	return false
}
