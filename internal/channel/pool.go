package channel

import "github.com/lbergesio/sechan/internal/profile"

// DefaultPoolSize is the default receiver epoch pool capacity (P),
// matching the original source's SC_CTX_POOL_SIZE.
const DefaultPoolSize = 4

type slot struct {
	occupied bool
	ctx      *Context
}

// Pool is the receiver's fixed-capacity table of active contexts,
// indexed by context_index mod P. spec.md §9 flags that the original
// source used context_id == 0 as its "slot is empty" sentinel, which
// collides with the legitimate initial epoch; each slot here instead
// carries an explicit occupied flag.
type Pool struct {
	profile *profile.Profile
	slots   []slot
}

// NewPool builds a pool of the given capacity for profile p.
func NewPool(p *profile.Profile, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{profile: p, slots: make([]slot, size)}
}

// Lookup returns the context for contextIndex if its slot is occupied
// by a context with that exact id, recognizing every channel id is
// legitimate — including 0.
func (p *Pool) Lookup(contextIndex uint16) *Context {
	s := &p.slots[int(contextIndex)%len(p.slots)]
	if s.occupied && s.ctx.ID == contextIndex {
		return s.ctx
	}
	return nil
}

// EnsureContext returns the context for contextIndex, deriving and
// installing a fresh one (evicting whatever previously occupied that
// slot) if the slot does not already hold it.
func (p *Pool) EnsureContext(contextIndex uint16, thisNonce, thatNonce []byte) *Context {
	s := &p.slots[int(contextIndex)%len(p.slots)]
	if s.occupied && s.ctx.ID == contextIndex {
		return s.ctx
	}
	if s.occupied {
		s.ctx.Destroy()
	}
	s.ctx = Create(p.profile, contextIndex, thisNonce, thatNonce)
	s.occupied = true
	return s.ctx
}

// DestroyAll tears down every occupied slot.
func (p *Pool) DestroyAll() {
	for i := range p.slots {
		if p.slots[i].occupied {
			p.slots[i].ctx.Destroy()
			p.slots[i].occupied = false
		}
	}
}
