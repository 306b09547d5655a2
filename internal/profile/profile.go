// Package profile loads and validates the immutable per-process
// security profile: cipher algorithm, digest algorithm, master key, key
// lifetime, and block-usage limit.
package profile

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/lbergesio/sechan/internal/ciphersuite"
)

// Profile is read-only after LoadAndValidate; Contexts take it by shared reference
// and never mutate it.
type Profile struct {
	Cipher      *ciphersuite.Cipher
	Digest      *ciphersuite.Digest
	MasterKey   []byte
	KeyLifetime uint32 // seconds
	BlockLimit  uint32 // max cipher blocks per epoch
}

// file is the on-disk YAML shape.
type file struct {
	Cipher      string `yaml:"cipher"`
	Digest      string `yaml:"digest"`
	MasterKey   string `yaml:"master_key"`
	KeyLifetime uint32 `yaml:"key_lifetime"`
	BlockLimit  uint32 `yaml:"block_limit"`
}

// MaxMasterKeyBits bounds the master key at 512 bits, per spec.md's data model.
const MaxMasterKeyBits = 512

// ErrFileNotFound wraps the underlying os error when the profile source
// cannot be opened.
type ErrFileNotFound struct {
	Path  string
	Cause error
}

func (e *ErrFileNotFound) Error() string {
	return fmt.Sprintf("profile: file %q not found: %v", e.Path, e.Cause)
}
func (e *ErrFileNotFound) Unwrap() error { return e.Cause }

// ErrParseError indicates the profile source is malformed.
type ErrParseError struct {
	Path  string
	Cause error
}

func (e *ErrParseError) Error() string {
	return fmt.Sprintf("profile: cannot parse %q: %v", e.Path, e.Cause)
}
func (e *ErrParseError) Unwrap() error { return e.Cause }

// ErrCipherNotFound indicates the profile names an unsupported cipher.
type ErrCipherNotFound struct {
	Name  string
	Cause error
}

func (e *ErrCipherNotFound) Error() string {
	return fmt.Sprintf("profile: cipher %q not found: %v", e.Name, e.Cause)
}
func (e *ErrCipherNotFound) Unwrap() error { return e.Cause }

// ErrDigestNotFound indicates the profile names an unsupported digest.
type ErrDigestNotFound struct {
	Name  string
	Cause error
}

func (e *ErrDigestNotFound) Error() string {
	return fmt.Sprintf("profile: digest %q not found: %v", e.Name, e.Cause)
}
func (e *ErrDigestNotFound) Unwrap() error { return e.Cause }

// LoadAndValidate reads a YAML profile from path, resolves its cipher
// and digest names, and validates the result.
func LoadAndValidate(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrFileNotFound{Path: path, Cause: err}
		}
		return nil, errors.Wrap(err, "profile: read")
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, &ErrParseError{Path: path, Cause: err}
	}

	masterKey, err := hex.DecodeString(f.MasterKey)
	if err != nil {
		return nil, &ErrParseError{Path: path, Cause: errors.Wrap(err, "master_key is not valid hex")}
	}

	cipher, err := ciphersuite.ResolveCipher(f.Cipher)
	if err != nil {
		return nil, &ErrCipherNotFound{Name: f.Cipher, Cause: err}
	}
	digest, err := ciphersuite.ResolveDigest(f.Digest)
	if err != nil {
		return nil, &ErrDigestNotFound{Name: f.Digest, Cause: err}
	}

	p := &Profile{
		Cipher:      cipher,
		Digest:      digest,
		MasterKey:   masterKey,
		KeyLifetime: f.KeyLifetime,
		BlockLimit:  f.BlockLimit,
	}
	if err := p.Validate(); err != nil {
		return nil, &ErrParseError{Path: path, Cause: err}
	}
	return p, nil
}

// Validate re-checks structural invariants even for a Profile built
// directly by a caller (e.g. a test) rather than through LoadAndValidate.
func (p *Profile) Validate() error {
	if p.Cipher == nil || p.Digest == nil {
		return errors.New("profile: cipher and digest must be resolved")
	}
	if len(p.MasterKey)*8 > MaxMasterKeyBits {
		return errors.Errorf("profile: master key exceeds %d bits", MaxMasterKeyBits)
	}
	if len(p.MasterKey) == 0 {
		return errors.New("profile: master key must not be empty")
	}
	if p.BlockLimit == 0 {
		return errors.New("profile: block_limit must be greater than zero")
	}
	if p.KeyLifetime == 0 {
		return errors.New("profile: key_lifetime must be greater than zero")
	}
	return nil
}

// Describe renders a human-readable dump of the profile, omitting the
// master key's value.
func (p *Profile) Describe() string {
	return fmt.Sprintf(
		"cipher=%s digest=%s master_key=%d-bit key_lifetime=%ds block_limit=%d blocks",
		p.Cipher.Name, p.Digest.Name, len(p.MasterKey)*8, p.KeyLifetime, p.BlockLimit,
	)
}
