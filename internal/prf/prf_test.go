package prf

import (
	"crypto/hmac"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandDeterministic(t *testing.T) {
	key := make([]byte, 32)
	label := []byte("TEST")

	a := Expand(sha1.New, key, label, 64)
	b := Expand(sha1.New, key, label, 64)
	require.Equal(t, a, b, "PRF output must be byte-equal across runs for identical inputs")
	require.Len(t, a, 64)
}

func TestExpandTruncatesAcrossBlocks(t *testing.T) {
	key := []byte("master-key")
	label := []byte("ENClabel")

	short := Expand(sha1.New, key, label, 10)
	long := Expand(sha1.New, key, label, 40)
	require.Equal(t, long[:10], short, "a shorter request must be a prefix of a longer one")
}

func TestExpandFirstBlockMatchesSingleHMAC(t *testing.T) {
	key := []byte("k")
	label := []byte("l")

	out := Expand(sha1.New, key, label, sha1.Size)

	mac := hmac.New(sha1.New, key)
	mac.Write(nil) // T(0) is empty
	mac.Write(label)
	want := mac.Sum(nil)

	require.Equal(t, want, out)
}

func TestExpandDifferentLabelsDiffer(t *testing.T) {
	key := []byte("master")
	a := Expand(sha1.New, key, []byte("ENC"), 16)
	b := Expand(sha1.New, key, []byte("MAC"), 16)
	require.NotEqual(t, a, b)
}
