// Package idpool implements a bounded pool of pre-generated short
// correlation IDs (L3) with async refill, falling back to inline generation
// when the pool runs dry. These IDs are used only for correlation tagging
// on the bus, never for security-sensitive identifiers.
package idpool

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
)

const (
	// DefaultSize is the target number of pre-generated IDs kept live.
	DefaultSize = 100
	// RefillThreshold triggers an async refill back to DefaultSize.
	RefillThreshold = 20
)

// generate produces an 8-byte lowercase-hex short ID (matches the
// Interrupt.id format in the data model) from crypto/rand, for both the
// pre-fill and the empty-pool inline path. Only if crypto/rand fails are
// the first 8 bytes of a uuid.New value used instead.
func generate() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is effectively unreachable on supported
		// platforms; fall back to a uuid-derived id rather than panic.
		u := uuid.New()
		copy(b[:], u[:8])
	}
	return hex.EncodeToString(b[:])
}

// Pool is a bounded store of pre-generated short IDs with async refill.
type Pool struct {
	mu       sync.Mutex
	ids      []string
	size     int
	refiling bool
}

// New creates a Pool pre-filled to size entries (DefaultSize if size <= 0).
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	p := &Pool{size: size}
	p.ids = make([]string, 0, size)
	for i := 0; i < size; i++ {
		p.ids = append(p.ids, generate())
	}
	return p
}

// Take returns an ID in O(1). If the pool is empty, one is generated
// inline. When the remaining count drops to RefillThreshold or below, an
// async refill back to the pool's target size is triggered (at most one
// refill goroutine runs at a time).
func (p *Pool) Take() string {
	p.mu.Lock()
	n := len(p.ids)
	if n == 0 {
		p.mu.Unlock()
		return generate()
	}

	id := p.ids[n-1]
	p.ids = p.ids[:n-1]
	needsRefill := len(p.ids) <= RefillThreshold && !p.refiling
	if needsRefill {
		p.refiling = true
	}
	p.mu.Unlock()

	if needsRefill {
		go p.refill()
	}
	return id
}

func (p *Pool) refill() {
	defer func() {
		p.mu.Lock()
		p.refiling = false
		p.mu.Unlock()
	}()

	p.mu.Lock()
	deficit := p.size - len(p.ids)
	p.mu.Unlock()
	if deficit <= 0 {
		return
	}

	fresh := make([]string, 0, deficit)
	seen := make(map[string]struct{}, deficit)
	for len(fresh) < deficit {
		id := generate()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}

	p.mu.Lock()
	p.ids = append(p.ids, fresh...)
	p.mu.Unlock()
}

// Size returns the number of IDs currently available without generating.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}
