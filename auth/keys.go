// Package auth derives the shared key dictionary and computes the keyed
// BLAKE2b digest that authenticates every tunnel datagram.
package auth

import (
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"
)

const (
	KeyLen   = 16
	KeyCount = 8192

	maxSecretSize = 1 << 20
)

var seed = [KeyLen]byte{179, 55, 2, 143, 241, 56, 61, 17, 189, 69, 20, 111, 172, 130, 54, 15}

var ErrEmptySecret = errors.New("auth: empty secret")

// Keys is the ordered key dictionary derived from a shared secret and port.
// It is immutable after derivation and safe for concurrent use.
type Keys struct {
	dict  [KeyCount][KeyLen]byte
	extra [KeyLen]byte
}

// LoadSecret reads the shared secret file.
func LoadSecret(path string) ([]byte, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	if st.Size() > maxSecretSize {
		return nil, fmt.Errorf("read secret: %s larger than %d bytes", path, maxSecretSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read secret %s: %w", path, ErrEmptySecret)
	}
	return data, nil
}

// DeriveKeys builds the dictionary. Key 0 hashes the secret under the seed
// with the port in its first two bytes; every following key hashes the
// secret under its predecessor.
func DeriveKeys(secret []byte, port uint16) (*Keys, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	k := &Keys{}
	prev := seed
	binary.BigEndian.PutUint16(prev[:2], port)
	for i := range k.dict {
		k.dict[i] = sum(prev[:], secret)
		prev = k.dict[i]
	}

	all := make([]byte, 0, KeyCount*KeyLen)
	for i := range k.dict {
		all = append(all, k.dict[i][:]...)
	}
	k.extra = sum(k.dict[0][:], all)
	return k, nil
}

func sum(key []byte, parts ...[]byte) [KeyLen]byte {
	h, err := blake2b.New(KeyLen, key)
	if err != nil {
		// key sizes are fixed at KeyLen
		panic(fmt.Sprintf("auth: blake2b: %v", err))
	}
	for _, p := range parts {
		h.Write(p)
	}
	var out [KeyLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Index returns the dictionary slot used for a datagram.
func Index(ts uint32, seq uint16) int {
	return int((uint32(seq) + ts) % KeyCount)
}

// Key returns dictionary entry i modulo the dictionary size.
func (k *Keys) Key(i int) [KeyLen]byte {
	return k.dict[i%KeyCount]
}

// Extra returns the key derived from the whole dictionary.
func (k *Keys) Extra() [KeyLen]byte {
	return k.extra
}

// Authenticate computes the digest over data.
func (k *Keys) Authenticate(data []byte, ts uint32, seq uint16) [KeyLen]byte {
	key := k.dict[Index(ts, seq)]
	return sum(key[:], data)
}

// Verify checks digest against data in constant time.
func (k *Keys) Verify(data []byte, ts uint32, seq uint16, digest []byte) bool {
	if len(digest) != KeyLen {
		return false
	}
	want := k.Authenticate(data, ts, seq)
	return subtle.ConstantTimeCompare(want[:], digest) == 1
}

// Fingerprint identifies the derived dictionary without exposing key
// material, for comparing secrets between hosts.
func (k *Keys) Fingerprint() string {
	fp := blake2b.Sum256(k.extra[:])
	return hex.EncodeToString(fp[:8])
}
