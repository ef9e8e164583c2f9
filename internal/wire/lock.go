package wire

import (
	"fmt"
	"math/rand"
)

// The NMDC handshake opens with the hub sending a lock string; the client
// answers with the key derived from it by the well-known bit-rotation
// below. Every implementation has to agree on this byte-for-byte, so both
// directions live here next to the codec.

// lockAlphabet holds the bytes a generated lock may contain. The lock
// grammar forbids space, `|` and `$`; sticking to alphanumerics keeps every
// client happy, including ancient ones.
const lockAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	lockPrefix  = "EXTENDEDPROTOCOL"
	lockRandLen = 20
)

// GenerateLock produces a fresh lock string for one handshake using the
// supplied RNG source.
func GenerateLock(rng *rand.Rand) string {
	b := make([]byte, 0, len(lockPrefix)+lockRandLen)
	b = append(b, lockPrefix...)
	for i := 0; i < lockRandLen; i++ {
		b = append(b, lockAlphabet[rng.Intn(len(lockAlphabet))])
	}
	return string(b)
}

// KeyFor computes the key a client must answer with for the given lock.
//
// Each key byte is the XOR of adjacent lock bytes (the first wraps around
// and mixes in the magic 5), nibble-swapped, with the handful of bytes that
// would break framing spelled out as /%DCN<ddd>%/ escapes.
func KeyFor(lock string) string {
	if len(lock) < 3 {
		return ""
	}
	key := make([]byte, len(lock))
	key[0] = lock[0] ^ lock[len(lock)-1] ^ lock[len(lock)-2] ^ 5
	for i := 1; i < len(lock); i++ {
		key[i] = lock[i] ^ lock[i-1]
	}

	var out []byte
	for _, b := range key {
		b = b<<4 | b>>4
		switch b {
		case 0, 5, 36, 96, 124, 126:
			out = append(out, fmt.Sprintf("/%%DCN%03d%%/", b)...)
		default:
			out = append(out, b)
		}
	}
	return string(out)
}
