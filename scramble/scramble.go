// Package scramble implements the payload obfuscation layer: an 8x8 bit
// transposition over 8-byte blocks. It hides plaintext byte patterns from
// casual inspection and provides no confidentiality.
package scramble

// BlockLen is the transposition block size.
const BlockLen = 8

// transpose swaps bit i of byte j with bit j of byte i. It is its own inverse.
func transpose(b []byte) {
	_ = b[BlockLen-1]
	var out [BlockLen]byte
	for j := 0; j < BlockLen; j++ {
		in := b[j]
		for i := 0; i < BlockLen; i++ {
			out[i] |= (in >> i & 1) << j
		}
	}
	copy(b, out[:])
}

// Scramble transforms b in place. Whole blocks are processed front to back,
// then a partial tail is covered by one more block ending at len(b), which
// overlaps the last whole block. Buffers shorter than a block are untouched.
func Scramble(b []byte) {
	n := len(b)
	if n < BlockLen {
		return
	}
	for off := 0; off+BlockLen <= n; off += BlockLen {
		transpose(b[off : off+BlockLen])
	}
	if n%BlockLen != 0 {
		transpose(b[n-BlockLen:])
	}
}

// Descramble reverses Scramble.
func Descramble(b []byte) {
	n := len(b)
	if n < BlockLen {
		return
	}
	if n%BlockLen != 0 {
		transpose(b[n-BlockLen:])
	}
	for off := 0; off+BlockLen <= n; off += BlockLen {
		transpose(b[off : off+BlockLen])
	}
}
