package channel

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
)

// ComputeCounter builds the per-record counter block for sdu under ctx:
// the 48-bit sequence number and 16-bit context index packed into a
// 64-bit tag, masked by XOR with the low 64 bits of seq_key, and
// zero-padded into the high-order bytes of a block-sized buffer
// (spec.md §4.E). This is the same shape as the retrieval pack's SRTP
// counter construction (XOR a big-endian packed index into a salted,
// zeroed IV buffer) generalized from a 16-byte AES IV to this cipher's
// native block size.
func ComputeCounter(ctx *Context, sdu *SDU) []byte {
	blockSize := ctx.profile.Cipher.BlockSize
	tag := sdu.SequenceNumber()<<16 | uint64(sdu.ContextIndex())

	low64 := binary.BigEndian.Uint64(ctx.SeqKey[len(ctx.SeqKey)-8:])
	masked := tag ^ low64

	counter := make([]byte, blockSize)
	binary.BigEndian.PutUint64(counter[blockSize-8:], masked)
	return counter
}

// Encrypt XORs in with the keystream produced by driving ctx's block
// cipher over successive increments of counter, writing len(in) bytes
// to out, and updates ctx.Blocks by ceil(len(in)/B). The same function
// decrypts: XOR is its own inverse. The cipher is used only to produce
// counter-mode keystream; it is never applied as ECB to plaintext
// directly (spec.md §9).
func Encrypt(ctx *Context, out, in []byte, counter []byte) (int, error) {
	block, err := ctx.profile.Cipher.New(ctx.EncKey)
	if err != nil {
		return 0, err
	}
	stream := cipher.NewCTR(block, counter)
	stream.XORKeyStream(out, in)

	blockSize := ctx.profile.Cipher.BlockSize
	ctx.Blocks += uint64((len(in) + blockSize - 1) / blockSize)
	return len(in), nil
}

// ComputeDigest runs the context's MAC over header || sequence_number
// || context_index || ciphertext and writes the tag into the trailing
// K_m bytes of the fragment (encrypt-then-MAC).
func ComputeDigest(ctx *Context, sdu *SDU) {
	macLen := ctx.profile.Digest.Size
	ciphertext := sdu.Ciphertext(macLen)

	mac := hmac.New(ctx.profile.Digest.New, ctx.MacKey)
	mac.Write(sdu.HeaderBytes())
	writeSeqAndIndex(mac, sdu)
	mac.Write(ciphertext)

	copy(sdu.MAC(macLen), mac.Sum(nil))
}

// VerifyDigest recomputes the MAC over the same range and compares it
// against the trailing tag in constant time. A mismatch means the
// frame must be dropped and its plaintext must never be surfaced.
func VerifyDigest(ctx *Context, sdu *SDU) bool {
	macLen := ctx.profile.Digest.Size
	ciphertext := sdu.Ciphertext(macLen)

	mac := hmac.New(ctx.profile.Digest.New, ctx.MacKey)
	mac.Write(sdu.HeaderBytes())
	writeSeqAndIndex(mac, sdu)
	mac.Write(ciphertext)

	return hmac.Equal(mac.Sum(nil), sdu.MAC(macLen))
}

func writeSeqAndIndex(w interface{ Write([]byte) (int, error) }, sdu *SDU) {
	var b [securedFixedLen]byte
	seq := sdu.SequenceNumber()
	b[0] = byte(seq >> 40)
	b[1] = byte(seq >> 32)
	b[2] = byte(seq >> 24)
	b[3] = byte(seq >> 16)
	b[4] = byte(seq >> 8)
	b[5] = byte(seq)
	binary.BigEndian.PutUint16(b[6:8], sdu.ContextIndex())
	w.Write(b[:])
}
