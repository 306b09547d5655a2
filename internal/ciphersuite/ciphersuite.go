// Package ciphersuite resolves the profile's cipher and digest names to
// concrete primitives: a raw block constructor (used only to generate
// keystream blocks, never to encrypt plaintext directly under ECB) and
// an HMAC-compatible hash constructor.
//
// The canonical name sets are fixed by spec.md's external-interfaces
// section; some of them (desx, rc2-ecb, rc5-ecb, seed-ecb, mdc2, sha)
// are recognized but not wired to an implementation in this build — see
// DESIGN.md.
package ciphersuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"hash"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/cast5"
	"golang.org/x/crypto/md4"
	"golang.org/x/crypto/ripemd160"
)

// BlockFunc constructs a block cipher primitive from a key of KeyLen bytes.
type BlockFunc func(key []byte) (cipher.Block, error)

// HashFunc constructs a new hash.Hash instance for HMAC.
type HashFunc func() hash.Hash

// Cipher describes one resolved block-cipher algorithm.
type Cipher struct {
	Name      string
	BlockSize int // B, in bytes
	KeyLen    int // K_c, in bytes
	New       BlockFunc
}

// Digest describes one resolved message-digest algorithm.
type Digest struct {
	Name   string
	Size   int // K_m, in bytes
	New    HashFunc
}

// ErrUnimplementedCipher is returned for a canonical cipher name this
// build recognizes but does not implement.
type ErrUnimplementedCipher struct{ Name string }

func (e ErrUnimplementedCipher) Error() string {
	return fmt.Sprintf("ciphersuite: cipher %q is a recognized canonical name but is not compiled into this build", e.Name)
}

// ErrUnimplementedDigest is returned for a canonical digest name this
// build recognizes but does not implement.
type ErrUnimplementedDigest struct{ Name string }

func (e ErrUnimplementedDigest) Error() string {
	return fmt.Sprintf("ciphersuite: digest %q is a recognized canonical name but is not compiled into this build", e.Name)
}

// ErrUnknownCipher is returned for a name outside the canonical set entirely.
type ErrUnknownCipher struct{ Name string }

func (e ErrUnknownCipher) Error() string { return fmt.Sprintf("ciphersuite: unknown cipher %q", e.Name) }

// ErrUnknownDigest is returned for a name outside the canonical set entirely.
type ErrUnknownDigest struct{ Name string }

func (e ErrUnknownDigest) Error() string { return fmt.Sprintf("ciphersuite: unknown digest %q", e.Name) }

// canonicalCiphers is the full name set from spec.md's external
// interfaces section. A nil entry means "recognized, not implemented".
var canonicalCiphers = map[string]*Cipher{
	"aes-128-ecb": {Name: "aes-128-ecb", BlockSize: aes.BlockSize, KeyLen: 16, New: aes.NewCipher},
	"aes-192-ecb": {Name: "aes-192-ecb", BlockSize: aes.BlockSize, KeyLen: 24, New: aes.NewCipher},
	"aes-256-ecb": {Name: "aes-256-ecb", BlockSize: aes.BlockSize, KeyLen: 32, New: aes.NewCipher},
	"bf-ecb":      {Name: "bf-ecb", BlockSize: blowfish.BlockSize, KeyLen: 16, New: blowfish.NewCipher},
	"cast5-ecb":   {Name: "cast5-ecb", BlockSize: cast5.BlockSize, KeyLen: cast5.KeySize, New: newCast5},
	"des-ecb":     {Name: "des-ecb", BlockSize: des.BlockSize, KeyLen: 8, New: des.NewCipher},
	"des3":        {Name: "des3", BlockSize: des.BlockSize, KeyLen: 24, New: des.NewTripleDESCipher},
	"desx":        nil,
	"rc2-ecb":     nil,
	"rc5-ecb":     nil,
	"seed-ecb":    nil,
}

var canonicalDigests = map[string]*Digest{
	"md2":    nil,
	"md4":    {Name: "md4", Size: md4.Size, New: md4.New},
	"md5":    {Name: "md5", Size: md5.Size, New: md5.New},
	"mdc2":   nil,
	"rmd160": {Name: "rmd160", Size: ripemd160.Size, New: ripemd160.New},
	"sha":    nil,
	"sha1":   {Name: "sha1", Size: sha1.Size, New: sha1.New},
}

func newCast5(key []byte) (cipher.Block, error) {
	return cast5.NewCipher(key)
}

// ResolveCipher looks up a cipher by its canonical profile name.
func ResolveCipher(name string) (*Cipher, error) {
	c, ok := canonicalCiphers[name]
	if !ok {
		return nil, ErrUnknownCipher{Name: name}
	}
	if c == nil {
		return nil, ErrUnimplementedCipher{Name: name}
	}
	return c, nil
}

// ResolveDigest looks up a digest by its canonical profile name.
func ResolveDigest(name string) (*Digest, error) {
	d, ok := canonicalDigests[name]
	if !ok {
		return nil, ErrUnknownDigest{Name: name}
	}
	if d == nil {
		return nil, ErrUnimplementedDigest{Name: name}
	}
	return d, nil
}

// SupportedCiphers lists canonical names that resolve to a working
// implementation in this build.
func SupportedCiphers() []string {
	var out []string
	for name, c := range canonicalCiphers {
		if c != nil {
			out = append(out, name)
		}
	}
	return out
}

// SupportedDigests lists canonical names that resolve to a working
// implementation in this build.
func SupportedDigests() []string {
	var out []string
	for name, d := range canonicalDigests {
		if d != nil {
			out = append(out, name)
		}
	}
	return out
}
