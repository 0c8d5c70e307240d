//go:build ignore

// Generates deterministic RTMP handshake golden vectors.
// Run from internal/rtmp/handshake: go run ./testdata/gen_handshake_vectors.go
// Files:
//   - handshake_valid_c0c1.bin          (C0=0x03 + C1)
//   - handshake_unsupported_version.bin (C0=0x02 + C1)
//   - handshake_reserved_nonzero.bin    (C0=0x03 + C1 with reserved byte 2 = 0x01)
//
// C1 layout: epoch(4, BE) + zero(4) + nonce(1528).
// C1 epoch = 0x00000001, nonce[i] = byte((i*7 + 3) & 0xFF)
package main

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const blockSize = 1536

func buildBlock(ts uint32, pattern func(i int) byte) []byte {
	b := make([]byte, blockSize)
	binary.BigEndian.PutUint32(b[0:4], ts)
	for i := 8; i < blockSize; i++ {
		b[i] = pattern(i - 8)
	}
	return b
}

func main() {
	dir := "testdata"
	c1 := buildBlock(1, func(i int) byte { return byte((i*7 + 3) & 0xFF) })

	reserved := append([]byte(nil), c1...)
	reserved[6] = 0x01

	files := []struct {
		name string
		data []byte
	}{
		{"handshake_valid_c0c1.bin", append([]byte{0x03}, c1...)},
		{"handshake_unsupported_version.bin", append([]byte{0x02}, c1...)},
		{"handshake_reserved_nonzero.bin", append([]byte{0x03}, reserved...)},
	}

	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := os.WriteFile(p, f.data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		h := sha256.Sum256(f.data)
		fmt.Printf("Wrote %-36s size=%4d sha256=%s\n", f.name, len(f.data), hex.EncodeToString(h[:8]))
	}
}
