package conn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp-handshake/internal/bufpool"
	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
	"github.com/alxayo/go-rtmp-handshake/internal/rtmp/handshake"
)

func testOptions(pool *bufpool.Pool) Options {
	return Options{
		Pool:   pool,
		Rand:   bytes.NewReader(bytes.Repeat([]byte{0x5A}, handshake.NonceSize)),
		Logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

type establishResult struct {
	c   *Connection
	err error
}

func establishAsync(ctx context.Context, raw net.Conn, opts Options) <-chan establishResult {
	ch := make(chan establishResult, 1)
	go func() {
		c, err := Establish(ctx, raw, opts)
		ch <- establishResult{c, err}
	}()
	return ch
}

func waitResult(t *testing.T, ch <-chan establishResult) establishResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for server handshake")
	}
	return establishResult{}
}

func hello(version byte, epoch uint32, fill byte) []byte {
	b := make([]byte, handshake.HelloSize)
	b[0] = version
	b[1], b[2], b[3], b[4] = byte(epoch>>24), byte(epoch>>16), byte(epoch>>8), byte(epoch)
	for i := 9; i < len(b); i++ {
		b[i] = fill
	}
	return b
}

func TestEstablish_WithClientHandshake(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	pool := bufpool.New()

	resCh := establishAsync(context.Background(), serverConn, testOptions(pool))
	if _, err := handshake.ClientHandshake(clientConn); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	r := waitResult(t, resCh)
	if r.err != nil {
		t.Fatalf("server handshake: %v", r.err)
	}
	defer r.c.Close()
	if !strings.HasPrefix(r.c.ID(), "c") {
		t.Fatalf("unexpected connection id %q", r.c.ID())
	}
	if r.c.NetConn() != serverConn || r.c.Logger() == nil || r.c.AcceptedAt().IsZero() {
		t.Fatalf("connection metadata not populated")
	}
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("pool has %d outstanding buffers after handshake", got)
	}
}

func TestPipeline_PartialDelivery(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	pool := bufpool.New()
	resCh := establishAsync(context.Background(), serverConn, testOptions(pool))

	c0c1 := hello(3, 9, 0xAA)
	if _, err := clientConn.Write(c0c1[:600]); err != nil {
		t.Fatalf("write first part: %v", err)
	}
	if _, err := clientConn.Write(c0c1[600:]); err != nil {
		t.Fatalf("write second part: %v", err)
	}
	s0s1 := make([]byte, handshake.HelloSize)
	if _, err := io.ReadFull(clientConn, s0s1); err != nil {
		t.Fatalf("read S0+S1: %v", err)
	}
	if s0s1[0] != handshake.Version {
		t.Fatalf("S0 = 0x%02x", s0s1[0])
	}
	if !bytes.Equal(s0s1[9:], bytes.Repeat([]byte{0x5A}, handshake.NonceSize)) {
		t.Fatalf("S1 nonce does not come from the injected source")
	}

	// C2 split in three writes.
	c2 := s0s1[1:]
	for _, part := range [][]byte{c2[:3], c2[3:1000], c2[1000:]} {
		if _, err := clientConn.Write(part); err != nil {
			t.Fatalf("write C2 part: %v", err)
		}
	}
	s2 := make([]byte, handshake.ConfirmationSize)
	if _, err := io.ReadFull(clientConn, s2); err != nil {
		t.Fatalf("read S2: %v", err)
	}
	if !bytes.Equal(s2[:4], []byte{0, 0, 0, 9}) {
		t.Fatalf("S2 epoch % x", s2[:4])
	}
	if !bytes.Equal(s2[8:], c0c1[9:]) {
		t.Fatalf("S2 does not echo C1 nonce")
	}

	r := waitResult(t, resCh)
	if r.err != nil {
		t.Fatalf("server handshake: %v", r.err)
	}
	r.c.Close()
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("pool has %d outstanding buffers", got)
	}
}

func TestPipeline_LeftoverBytesReachReader(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	resCh := establishAsync(context.Background(), serverConn, testOptions(bufpool.New()))

	if _, err := clientConn.Write(hello(3, 0, 1)); err != nil {
		t.Fatalf("write C0+C1: %v", err)
	}
	s0s1 := make([]byte, handshake.HelloSize)
	if _, err := io.ReadFull(clientConn, s0s1); err != nil {
		t.Fatalf("read S0+S1: %v", err)
	}
	c2AndMore := append(append([]byte(nil), s0s1[1:]...), []byte("chunk")...)
	if _, err := clientConn.Write(c2AndMore); err != nil {
		t.Fatalf("write C2: %v", err)
	}
	if _, err := io.ReadFull(clientConn, make([]byte, handshake.ConfirmationSize)); err != nil {
		t.Fatalf("read S2: %v", err)
	}

	r := waitResult(t, resCh)
	if r.err != nil {
		t.Fatalf("server handshake: %v", r.err)
	}
	defer r.c.Close()
	got := make([]byte, 5)
	if _, err := io.ReadFull(r.c.Reader(), got); err != nil {
		t.Fatalf("read leftover: %v", err)
	}
	if string(got) != "chunk" {
		t.Fatalf("leftover got %q want %q", got, "chunk")
	}
}

func TestPipeline_ReservedViolationClosesWithoutResponse(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	pool := bufpool.New()
	resCh := establishAsync(context.Background(), serverConn, testOptions(pool))

	bad := hello(3, 0, 0)
	bad[7] = 0xFF
	if _, err := clientConn.Write(bad); err != nil {
		t.Fatalf("write C0+C1: %v", err)
	}
	r := waitResult(t, resCh)
	if !rerrors.IsProtocolViolation(r.err) {
		t.Fatalf("expected protocol violation, got %v", r.err)
	}
	if n, err := clientConn.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("expected closed connection without response, got n=%d err=%v", n, err)
	}
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("pool has %d outstanding buffers", got)
	}
}

func TestPipeline_UnsupportedVersion(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	resCh := establishAsync(context.Background(), serverConn, testOptions(bufpool.New()))

	if _, err := clientConn.Write(hello(2, 0, 0)); err != nil {
		t.Fatalf("write C0+C1: %v", err)
	}
	if r := waitResult(t, resCh); !rerrors.IsUnsupportedVersion(r.err) {
		t.Fatalf("expected unsupported version, got %v", r.err)
	}
}

func TestPipeline_C2MismatchSuppressesS2(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	pool := bufpool.New()
	resCh := establishAsync(context.Background(), serverConn, testOptions(pool))

	if _, err := clientConn.Write(hello(3, 0, 0xAA)); err != nil {
		t.Fatalf("write C0+C1: %v", err)
	}
	s0s1 := make([]byte, handshake.HelloSize)
	if _, err := io.ReadFull(clientConn, s0s1); err != nil {
		t.Fatalf("read S0+S1: %v", err)
	}
	c2 := append([]byte(nil), s0s1[1:]...)
	c2[100] ^= 0x01
	if _, err := clientConn.Write(c2); err != nil {
		t.Fatalf("write C2: %v", err)
	}

	r := waitResult(t, resCh)
	if !rerrors.IsProtocolViolation(r.err) {
		t.Fatalf("expected protocol violation, got %v", r.err)
	}
	if n, err := clientConn.Read(make([]byte, 1)); n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("expected no S2, got n=%d err=%v", n, err)
	}
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("pool has %d outstanding buffers", got)
	}
}

func TestPipeline_ReadTimeout(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	pool := bufpool.New()
	opts := testOptions(pool)
	opts.ReadTimeout = 50 * time.Millisecond
	resCh := establishAsync(context.Background(), serverConn, opts)

	if _, err := clientConn.Write(make([]byte, 500)); err != nil {
		t.Fatalf("write partial C0+C1: %v", err)
	}
	r := waitResult(t, resCh)
	if !rerrors.IsTimeout(r.err) {
		t.Fatalf("expected timeout, got %v", r.err)
	}
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("pool has %d outstanding buffers", got)
	}
}

func TestPipeline_TimeoutWhileAwaitingConfirmation(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	pool := bufpool.New()
	opts := testOptions(pool)
	opts.ReadTimeout = 100 * time.Millisecond
	resCh := establishAsync(context.Background(), serverConn, opts)

	if _, err := clientConn.Write(hello(3, 0, 0)); err != nil {
		t.Fatalf("write C0+C1: %v", err)
	}
	if _, err := io.ReadFull(clientConn, make([]byte, handshake.HelloSize)); err != nil {
		t.Fatalf("read S0+S1: %v", err)
	}
	r := waitResult(t, resCh)
	if !rerrors.IsTimeout(r.err) {
		t.Fatalf("expected timeout, got %v", r.err)
	}
	// Nonces held during AwaitingConfirmation must be released on teardown.
	if got := pool.Outstanding(); got != 0 {
		t.Fatalf("pool has %d outstanding buffers", got)
	}
}

func TestPipeline_ContextCancel(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	ctx, cancel := context.WithCancel(context.Background())
	resCh := establishAsync(ctx, serverConn, testOptions(bufpool.New()))

	time.AfterFunc(50*time.Millisecond, cancel)
	r := waitResult(t, resCh)
	if !errors.Is(r.err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", r.err)
	}
}

func TestAccept_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	resCh := make(chan establishResult, 1)
	go func() {
		c, err := Accept(context.Background(), ln, testOptions(bufpool.New()))
		resCh <- establishResult{c, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if _, err := handshake.ClientHandshake(client); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	r := waitResult(t, resCh)
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}
	if r.c.RemoteAddr() == nil {
		t.Fatalf("expected remote addr")
	}
	if err := r.c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.c.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestAccept_NilListener(t *testing.T) {
	if _, err := Accept(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("expected error for nil listener")
	}
	if _, err := Establish(context.Background(), nil, Options{}); err == nil {
		t.Fatalf("expected error for nil conn")
	}
}
