package handshake

// Handshake constants for the RTMP simple handshake.
// C0/S0 is a single version byte. Each of C1, S1, C2, S2 is 1536 bytes laid
// out as epoch(4, BE) + zero(4) + nonce(1528).
const (
	Version    = 0x03 // version announced in S0 and C0
	MinVersion = 3    // below: ErrUnsupportedVersion
	MaxVersion = 31   // above: ErrProtocolViolation

	PacketSize       = 1536           // size of C1/S1/C2/S2 blocks
	NonceSize        = 1528           // random field of each block
	HelloSize        = 1 + PacketSize // C0+C1 in, S0+S1 out
	ConfirmationSize = PacketSize     // C2 in, S2 out

	epochFieldOffset = 0 // first 4 bytes are the epoch
	zeroFieldOffset  = 4 // next 4 bytes are zero / reserved
	nonceFieldOffset = 8 // remaining 1528 bytes random data
)

// Stage is the server-side simple handshake progression. Transitions are
// strictly forward: AwaitingHello -> AwaitingConfirmation -> Complete, with
// Aborted as the terminal state of a session that failed after allocating
// its nonces.
type Stage int

const (
	StageAwaitingHello Stage = iota
	StageAwaitingConfirmation
	StageComplete
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageAwaitingHello:
		return "AwaitingHello"
	case StageAwaitingConfirmation:
		return "AwaitingConfirmation"
	case StageComplete:
		return "Complete"
	case StageAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further input is accepted in this stage.
func (s Stage) Terminal() bool { return s == StageComplete || s == StageAborted }

// Deliverer is the byte-stream side of a Session. It owns the socket and the
// buffer of unconsumed inbound bytes; the session only tells it what to send
// and where to route the next bytes.
type Deliverer interface {
	// SendRaw writes b in full before returning. b is only valid for the
	// duration of the call.
	SendRaw(b []byte) error
	// SetStage routes subsequent inbound bytes to the operation for stage.
	SetStage(stage Stage)
	// HandshakeComplete is invoked exactly once, after S2 was sent.
	HandshakeComplete()
}

// BufferPool hands out reusable byte slices. Implementations must be safe
// for concurrent use; *bufpool.Pool satisfies it.
type BufferPool interface {
	Get(size int) []byte
	Put(buf []byte)
}
