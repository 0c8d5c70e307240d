package conn

// Pipeline is the byte-stream deliverer for the server handshake. It owns
// the socket and the buffer of not-yet-consumed inbound bytes, and routes
// them to the handshake operation for the current stage until the session
// reports completion.

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/alxayo/go-rtmp-handshake/internal/bufpool"
	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
	"github.com/alxayo/go-rtmp-handshake/internal/logger"
	"github.com/alxayo/go-rtmp-handshake/internal/rtmp/handshake"
)

const (
	defaultReadTimeout  = 5 * time.Second // per blocking read while handshaking
	defaultWriteTimeout = 5 * time.Second
	readChunkSize       = 4096
)

// Options tunes a handshake pipeline. Zero values select defaults.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pool         handshake.BufferPool // nil: process-wide bufpool
	Rand         io.Reader            // nil: crypto/rand
	Logger       *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.Pool == nil {
		o.Pool = bufpool.Default()
	}
	if o.Logger == nil {
		o.Logger = logger.Logger()
	}
}

// Pipeline implements handshake.Deliverer over a net.Conn.
type Pipeline struct {
	netConn net.Conn
	opts    Options
	log     *slog.Logger
	session *handshake.Session

	stage   handshake.Stage
	pending []byte
	done    bool
}

// NewPipeline prepares a handshake pipeline for c. Nothing is read until Run.
func NewPipeline(c net.Conn, opts Options) *Pipeline {
	opts.applyDefaults()
	p := &Pipeline{
		netConn: c,
		opts:    opts,
		log:     logger.WithHandshake(opts.Logger, "server"),
		stage:   handshake.StageAwaitingHello,
	}
	p.session = handshake.NewSession(p, opts.Pool, opts.Rand)
	return p
}

// SendRaw writes b in full under the write timeout.
func (p *Pipeline) SendRaw(b []byte) error {
	if err := p.netConn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout)); err != nil {
		return rerrors.NewHandshakeError("set write deadline", err)
	}
	if err := writeFull(p.netConn, b); err != nil {
		return classifyIOErr("write", p.opts.WriteTimeout, err)
	}
	p.log.Debug("handshake bytes sent", "len", len(b), "stage", p.stage.String())
	return nil
}

// SetStage routes subsequent inbound bytes.
func (p *Pipeline) SetStage(s handshake.Stage) {
	p.log.Debug("handshake stage", "from", p.stage.String(), "to", s.String())
	p.stage = s
}

// HandshakeComplete stops the pipeline after the current dispatch.
func (p *Pipeline) HandshakeComplete() { p.done = true }

// Stage returns the stage inbound bytes are currently routed to.
func (p *Pipeline) Stage() handshake.Stage { return p.stage }

// Run reads from the connection until the handshake completes or fails. On
// success it returns the inbound bytes that followed C2 (possibly none); they
// belong to whatever reads the stream next. Cancelling ctx aborts a pending read. On every
// failure path the session's nonce buffers are released.
func (p *Pipeline) Run(ctx context.Context) ([]byte, error) {
	defer func() {
		if !p.done {
			p.session.Release()
		}
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = p.netConn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	chunk := p.opts.Pool.Get(readChunkSize)
	defer p.opts.Pool.Put(chunk)

	for !p.done {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("handshake %s: %w", p.stage, err)
		}
		if err := p.netConn.SetReadDeadline(time.Now().Add(p.opts.ReadTimeout)); err != nil {
			return nil, rerrors.NewHandshakeError("set read deadline", err)
		}
		n, err := p.netConn.Read(chunk)
		if n > 0 {
			p.pending = append(p.pending, chunk[:n]...)
			if derr := p.dispatch(); derr != nil {
				return nil, derr
			}
		}
		if err != nil && !p.done {
			if cerr := ctx.Err(); cerr != nil {
				return nil, fmt.Errorf("handshake %s: %w", p.stage, cerr)
			}
			return nil, classifyIOErr("read "+p.stage.String(), p.opts.ReadTimeout, err)
		}
	}

	// Clear deadlines so later reads are not bound by handshake timeouts.
	if err := p.netConn.SetReadDeadline(time.Time{}); err != nil {
		p.log.Warn("Failed to clear read deadline", "error", err)
	}
	if err := p.netConn.SetWriteDeadline(time.Time{}); err != nil {
		p.log.Warn("Failed to clear write deadline", "error", err)
	}

	if len(p.pending) == 0 {
		return nil, nil
	}
	return append([]byte(nil), p.pending...), nil
}

// dispatch feeds pending bytes to the session until it needs more data.
func (p *Pipeline) dispatch() error {
	for !p.done {
		var (
			consumed int
			err      error
		)
		switch p.stage {
		case handshake.StageAwaitingHello:
			consumed, err = p.session.ProcessHello(p.pending)
		case handshake.StageAwaitingConfirmation:
			consumed, err = p.session.ProcessConfirmation(p.pending)
		case handshake.StageComplete, handshake.StageAborted:
			return rerrors.NewProtocolError("pipeline.dispatch", fmt.Errorf("input routed to terminal stage %s", p.stage))
		default:
			return rerrors.NewProtocolError("pipeline.dispatch", fmt.Errorf("unknown stage %d", int(p.stage)))
		}
		if err != nil {
			return err
		}
		if consumed == 0 {
			return nil
		}
		p.pending = p.pending[consumed:]
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

func classifyIOErr(op string, d time.Duration, err error) error {
	if rerrors.IsTimeout(err) {
		return rerrors.NewTimeoutError(op, d, err)
	}
	return rerrors.NewHandshakeError(op, err)
}
