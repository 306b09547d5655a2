package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/lbergesio/sechan/internal/logging"
	"github.com/lbergesio/sechan/internal/profile"
)

// FrameError is raised by the receiver for a malformed frame: bad
// header, undersized body. It is always logged and the frame dropped,
// never fatal (spec.md §7).
type FrameError struct{ Reason string }

func (e *FrameError) Error() string { return "channel: invalid frame: " + e.Reason }

// IntegrityError is raised when a SECURED frame fails MAC
// verification. Per spec.md §7 the plaintext behind it must never be
// surfaced; callers only ever see this error, never the would-be
// plaintext.
type IntegrityError struct{}

func (e *IntegrityError) Error() string { return "channel: MAC verification failed" }

// TransportError wraps a failure from the transport adapter's Send. Per
// spec.md §7 a transport error is logged and the one frame it belongs
// to is dropped; it is never fatal to the sender, so callers should
// treat it as a signal to move on to the next frame rather than abort.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return "channel: transport send failed: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Transport is the outbound half of the external transport adapter
// from spec.md §6: send opaque bytes, addressed elsewhere (the
// transport already knows the flow's remote endpoint).
type Transport interface {
	Send(ctx context.Context, b []byte) error
}

// Sender drives the send-side state machine: sequence numbering
// within an epoch, and rekey-on-usage-limit across epochs.
type Sender struct {
	profile              *profile.Profile
	thisNonce, thatNonce []byte
	log                  logging.Logger

	cur        *Context
	sduCounter uint64
}

// NewSender creates a sender with its initial context (context_id 0).
// thisNonce/thatNonce are the sender's local/remote flow identity (in
// practice, local and remote UDP ports).
func NewSender(p *profile.Profile, thisNonce, thatNonce []byte, log logging.Logger) *Sender {
	return &Sender{
		profile:    p,
		thisNonce:  thisNonce,
		thatNonce:  thatNonce,
		log:        log,
		cur:        Create(p, 0, thisNonce, thatNonce),
	}
}

// Send encrypts plaintext into a SECURED SDU and hands the serialized
// bytes to transport, rotating the epoch first if required.
//
// Plaintext is zero-padded up to the cipher's block size before
// encryption, matching spec.md §4.D's expected_length formula
// (ciphertext occupies round_up(msg_len, B) bytes, confirmed by the
// worked S1 example: a 6-byte message under aes-128-ecb produces a
// 16-byte ciphertext field). The receiver recovers the exact message
// by trimming trailing zero bytes — the same convention the original
// C driver gets for free by NUL-terminating decrypted text before
// handing it to fputs.
//
// A transport-level failure is logged and returned as a *TransportError
// rather than treated as fatal (spec.md §7: "logged, frame dropped
// (sender)"); the caller should drop that one frame and keep sending.
func (s *Sender) Send(ctx context.Context, transport Transport, plaintext []byte) error {
	now := time.Now()
	if s.cur.Exhausted(uint64(len(plaintext)), now) {
		s.log.Info("msg", "rekey", "old_context_id", s.cur.ID)
		oldID := s.cur.ID
		s.cur.Destroy()
		s.cur = Create(s.profile, oldID+1, s.thisNonce, s.thatNonce)
		s.sduCounter = 0
	}

	sdu := Allocate(TypeSecured, s.cur, len(plaintext))
	sdu.SetSequenceNumber(s.sduCounter)
	sdu.SetContextIndex(s.cur.ID)

	padded := make([]byte, MessageLength(s.cur, sdu))
	copy(padded, plaintext)

	counter := ComputeCounter(s.cur, sdu)
	if _, err := Encrypt(s.cur, sdu.Ciphertext(s.profile.Digest.Size), padded, counter); err != nil {
		return fmt.Errorf("channel: encrypt: %w", err)
	}
	ComputeDigest(s.cur, sdu)

	s.cur.Bytes += uint64(len(plaintext))

	if err := transport.Send(ctx, sdu.Bytes()); err != nil {
		s.log.Warn("msg", "drop: transport send failed", "err", err)
		return &TransportError{Err: err}
	}
	s.sduCounter++
	return nil
}

// Close destroys the sender's current context.
func (s *Sender) Close() {
	s.cur.Destroy()
}

// Receiver drives the receive-side state machine: parses incoming
// frames, selects or derives the matching epoch context from the pool,
// verifies and decrypts.
type Receiver struct {
	profile              *profile.Profile
	thisNonce, thatNonce []byte
	pool                 *Pool
	log                  logging.Logger
}

// NewReceiver creates a receiver with an empty epoch pool of the given
// size (DefaultPoolSize if size <= 0).
//
// thisNonce/thatNonce are the receiver's own ports swapped: (this,
// that) = (its remote_port, its local_port), per spec.md §4.C. Those
// are the sending peer's (local_port, remote_port), so both ends
// derive the same keys.
func NewReceiver(p *profile.Profile, thisNonce, thatNonce []byte, poolSize int, log logging.Logger) *Receiver {
	return &Receiver{
		profile:   p,
		thisNonce: thisNonce,
		thatNonce: thatNonce,
		pool:      NewPool(p, poolSize),
		log:       log,
	}
}

// HandleFrame parses, verifies, and decrypts one received datagram,
// returning the plaintext. InvalidFrame and IntegrityFailure are
// always logged and never leak plaintext; TransportError-class
// failures are the caller's concern (this function only sees the
// bytes already received).
func (r *Receiver) HandleFrame(frame []byte) ([]byte, error) {
	sdu, err := Parse(frame)
	if err != nil {
		r.log.Warn("msg", "drop: parse", "err", err)
		return nil, &FrameError{Reason: err.Error()}
	}
	if err := sdu.Validate(); err != nil {
		r.log.Warn("msg", "drop: validate", "err", err)
		return nil, &FrameError{Reason: err.Error()}
	}
	if sdu.Type() != TypeSecured || sdu.Length() < securedFixedLen+uint16(r.profile.Digest.Size) {
		r.log.Warn("msg", "drop: not SECURED or undersized", "type", sdu.Type())
		return nil, &FrameError{Reason: "not a SECURED frame or body too short"}
	}

	ctxIndex := sdu.ContextIndex()
	ctx := r.pool.EnsureContext(ctxIndex, r.thisNonce, r.thatNonce)

	if !VerifyDigest(ctx, sdu) {
		r.log.Warn("msg", "drop: MAC verification failed", "context_id", ctxIndex, "sequence_number", sdu.SequenceNumber())
		return nil, &IntegrityError{}
	}

	msgLen := MessageLength(ctx, sdu)
	plain := make([]byte, msgLen)
	counter := ComputeCounter(ctx, sdu)
	if _, err := Encrypt(ctx, plain, sdu.Ciphertext(r.profile.Digest.Size), counter); err != nil {
		return nil, fmt.Errorf("channel: decrypt: %w", err)
	}

	return trimTrailingZeros(plain), nil
}

// Close destroys every context held in the receiver's pool.
func (r *Receiver) Close() {
	r.pool.DestroyAll()
}

func trimTrailingZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
