// Package prf implements the channel's key-expansion function: an
// iterated-HMAC, HKDF-Expand-style construction over a configurable
// digest. Every subkey the channel ever derives (encryption, MAC,
// sequence-masking) comes out of this one routine.
package prf

import (
	"crypto/hmac"
	"hash"
)

// Expand computes T(i) = HMAC(key, T(i-1) || label) for i = 1, 2, ...
// and returns the concatenation T(1) || T(2) || ... truncated to
// outputLen bytes. T(0) is the empty string.
//
// This must stay byte-exact across implementations of the spec given
// the same digest constructor, key and label: it is the basis for the
// entire key schedule.
func Expand(newHash func() hash.Hash, key, label []byte, outputLen int) []byte {
	out := make([]byte, 0, outputLen+newHash().Size())
	var prev []byte
	for len(out) < outputLen {
		mac := hmac.New(newHash, key)
		mac.Write(prev)
		mac.Write(label)
		prev = mac.Sum(nil)
		out = append(out, prev...)
	}
	return out[:outputLen]
}
