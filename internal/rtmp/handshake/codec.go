package handshake

import "encoding/binary"

// readUint32 decodes the big-endian epoch field at the start of b.
func readUint32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// putUint32 encodes v big-endian into the first four bytes of b.
func putUint32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
