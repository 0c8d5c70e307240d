package conn

// Package conn provides the TCP connection lifecycle glue that sits above the
// handshake session: it runs the handshake pipeline on a freshly accepted
// socket and hands the caller a Connection whose reader starts exactly
// after C2.

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alxayo/go-rtmp-handshake/internal/logger"
)

// Connection represents an accepted RTMP connection that has successfully
// completed the simple handshake and is ready for the post-handshake stream.
type Connection struct {
	id                string
	netConn           net.Conn
	remoteAddr        net.Addr
	acceptedAt        time.Time
	handshakeDuration time.Duration
	log               *slog.Logger

	reader    io.Reader // leftover handshake bytes, then the socket
	closeOnce sync.Once
	closeErr  error
}

// ID returns the logical connection id.
func (c *Connection) ID() string { return c.id }

// NetConn exposes the underlying net.Conn. Reads must go through Reader so
// bytes buffered during the handshake are not lost.
func (c *Connection) NetConn() net.Conn { return c.netConn }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// AcceptedAt returns when the socket was accepted.
func (c *Connection) AcceptedAt() time.Time { return c.acceptedAt }

// HandshakeDuration returns how long the RTMP handshake took.
func (c *Connection) HandshakeDuration() time.Duration { return c.handshakeDuration }

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger { return c.log }

// Reader returns the post-handshake inbound stream.
func (c *Connection) Reader() io.Reader { return c.reader }

// Close closes the underlying connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.netConn.Close()
	})
	return c.closeErr
}

var connCounter uint64

// nextID generates a simple monotonically increasing connection identifier.
func nextID() string { return fmt.Sprintf("c%06d", atomic.AddUint64(&connCounter, 1)) }

// Accept performs a blocking Accept() on the provided listener and runs the
// server-side handshake on the new socket (see Establish).
func Accept(ctx context.Context, l net.Listener, opts Options) (*Connection, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listener")
	}
	raw, err := l.Accept()
	if err != nil {
		return nil, err
	}
	return Establish(ctx, raw, opts)
}

// Establish runs the server-side RTMP handshake on raw and returns a
// *Connection on success. On handshake failure raw is closed without any
// further response and the error returned.
func Establish(ctx context.Context, raw net.Conn, opts Options) (*Connection, error) {
	if raw == nil {
		return nil, fmt.Errorf("nil conn")
	}
	opts.applyDefaults()
	id := nextID()
	lgr := logger.WithConn(opts.Logger, id, raw.RemoteAddr().String())
	opts.Logger = lgr

	start := time.Now()
	leftover, err := NewPipeline(raw, opts).Run(ctx)
	if err != nil {
		_ = raw.Close()
		lgr.Error("Handshake failed", "error", err)
		return nil, err
	}
	dur := time.Since(start)
	lgr.Info("Connection accepted", "handshake_ms", dur.Milliseconds(), "buffered", len(leftover))

	var r io.Reader = raw
	if len(leftover) > 0 {
		r = io.MultiReader(bytes.NewReader(leftover), raw)
	}
	return &Connection{
		id:                id,
		netConn:           raw,
		remoteAddr:        raw.RemoteAddr(),
		acceptedAt:        start,
		handshakeDuration: dur,
		log:               lgr,
		reader:            r,
	}, nil
}
