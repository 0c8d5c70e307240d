package handshake

// Server-side RTMP simple handshake state machine.
// Read C0+C1 -> Send S0+S1 -> Read C2 -> Send S2 -> Complete.
//
// The session never touches the socket. The deliverer hands it the view of
// unconsumed inbound bytes and the session reports how many it consumed;
// (0, nil) means the block is not complete yet and the same bytes must be
// offered again once more have arrived.

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/alxayo/go-rtmp-handshake/internal/bufpool"
	rerrors "github.com/alxayo/go-rtmp-handshake/internal/errors"
)

// Session holds per-connection handshake state. It is owned by a single
// goroutine and performs no locking.
type Session struct {
	d    Deliverer
	pool BufferPool
	rnd  io.Reader

	stage       Stage
	readerEpoch uint32 // from C1, echoed in S2
	writerEpoch uint32 // sent in S1, always 0

	// Present only while stage == StageAwaitingConfirmation.
	serverNonce []byte
	peerNonce   []byte
}

// NewSession creates a session in StageAwaitingHello. A nil pool selects the
// process-wide bufpool; a nil rnd selects crypto/rand.
func NewSession(d Deliverer, pool BufferPool, rnd io.Reader) *Session {
	if pool == nil {
		pool = bufpool.Default()
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	return &Session{d: d, pool: pool, rnd: rnd, stage: StageAwaitingHello}
}

// Stage returns the current stage.
func (s *Session) Stage() Stage { return s.stage }

// ReaderEpoch returns the epoch the peer announced in C1.
func (s *Session) ReaderEpoch() uint32 { return s.readerEpoch }

// WriterEpoch returns the epoch this side announced in S1.
func (s *Session) WriterEpoch() uint32 { return s.writerEpoch }

// Process dispatches in to the operation for the current stage.
func (s *Session) Process(in []byte) (int, error) {
	switch s.stage {
	case StageAwaitingHello:
		return s.ProcessHello(in)
	case StageAwaitingConfirmation:
		return s.ProcessConfirmation(in)
	case StageComplete, StageAborted:
		return 0, rerrors.NewProtocolError("handshake.process", fmt.Errorf("no input accepted in stage %s", s.stage))
	}
	return 0, rerrors.NewProtocolError("handshake.process", fmt.Errorf("invalid stage %d", int(s.stage)))
}

// ProcessHello consumes C0+C1 and answers with S0+S1 in a single write.
// Validation failures leave the session untouched and emit nothing.
func (s *Session) ProcessHello(in []byte) (int, error) {
	if s.stage != StageAwaitingHello {
		return 0, rerrors.NewProtocolError("hello.state", fmt.Errorf("invalid stage %s", s.stage))
	}
	if len(in) < HelloSize {
		return 0, nil
	}
	version := in[0]
	c1 := in[1:HelloSize]
	if version < MinVersion {
		return 0, rerrors.NewHandshakeError("hello.version", fmt.Errorf("%w: 0x%02x", rerrors.ErrUnsupportedVersion, version))
	}
	if version > MaxVersion {
		return 0, rerrors.NewHandshakeError("hello.version", fmt.Errorf("%w: version 0x%02x above maximum", rerrors.ErrProtocolViolation, version))
	}
	if !allZero(c1[zeroFieldOffset:nonceFieldOffset]) {
		return 0, rerrors.NewHandshakeError("hello.reserved", fmt.Errorf("%w: nonzero reserved field", rerrors.ErrProtocolViolation))
	}

	serverNonce := s.pool.Get(NonceSize)
	if _, err := io.ReadFull(s.rnd, serverNonce); err != nil {
		s.pool.Put(serverNonce)
		return 0, rerrors.NewHandshakeError("hello.rand", err)
	}
	peerNonce := s.pool.Get(NonceSize)
	copy(peerNonce, c1[nonceFieldOffset:])

	s.readerEpoch = readUint32(c1[epochFieldOffset:])
	s.writerEpoch = 0
	s.serverNonce = serverNonce
	s.peerNonce = peerNonce

	// S0 + S1
	out := s.pool.Get(HelloSize)
	out[0] = Version
	s1 := out[1:]
	putUint32(s1[epochFieldOffset:], s.writerEpoch)
	clear(s1[zeroFieldOffset:nonceFieldOffset])
	copy(s1[nonceFieldOffset:], serverNonce)
	err := s.d.SendRaw(out)
	s.pool.Put(out)
	if err != nil {
		s.abort()
		return 0, rerrors.NewHandshakeError("hello.send S0+S1", err)
	}

	s.advance(StageAwaitingConfirmation)
	return HelloSize, nil
}

// ProcessConfirmation consumes C2, verifies it echoes S1 and answers with S2.
// Both nonce buffers are returned to the pool on every exit of this stage.
func (s *Session) ProcessConfirmation(in []byte) (int, error) {
	if s.stage != StageAwaitingConfirmation {
		return 0, rerrors.NewProtocolError("confirmation.state", fmt.Errorf("invalid stage %s", s.stage))
	}
	if len(in) < ConfirmationSize {
		return 0, nil
	}
	c2 := in[:ConfirmationSize]
	if echoed := readUint32(c2[epochFieldOffset:]); echoed != s.writerEpoch {
		s.abort()
		return 0, rerrors.NewHandshakeError("confirmation.epoch", fmt.Errorf("%w: echoed epoch %d, sent %d", rerrors.ErrProtocolViolation, echoed, s.writerEpoch))
	}
	if !bytes.Equal(c2[nonceFieldOffset:], s.serverNonce) {
		s.abort()
		return 0, rerrors.NewHandshakeError("confirmation.nonce", fmt.Errorf("%w: C2 does not echo S1", rerrors.ErrProtocolViolation))
	}

	// S2
	out := s.pool.Get(ConfirmationSize)
	putUint32(out[epochFieldOffset:], s.readerEpoch)
	clear(out[zeroFieldOffset:nonceFieldOffset])
	copy(out[nonceFieldOffset:], s.peerNonce)
	s.releaseNonces()
	err := s.d.SendRaw(out)
	s.pool.Put(out)
	if err != nil {
		s.stage = StageAborted
		return 0, rerrors.NewHandshakeError("confirmation.send S2", err)
	}

	s.advance(StageComplete)
	s.d.HandshakeComplete()
	return ConfirmationSize, nil
}

// Release returns any held nonce buffers to the pool. It is the teardown path
// for connections closed mid-handshake and is safe to call more than once.
func (s *Session) Release() {
	s.releaseNonces()
	if s.stage != StageComplete {
		s.stage = StageAborted
	}
}

func (s *Session) advance(next Stage) {
	s.stage = next
	s.d.SetStage(next)
}

func (s *Session) abort() {
	s.releaseNonces()
	s.stage = StageAborted
}

func (s *Session) releaseNonces() {
	if s.serverNonce != nil {
		s.pool.Put(s.serverNonce)
		s.serverNonce = nil
	}
	if s.peerNonce != nil {
		s.pool.Put(s.peerNonce)
		s.peerNonce = nil
	}
}
