// Package nonce provides keyed monotonic counter stores for replay
// protection. A store tracks, per originator address, the next nonce the
// forwarder will admit.
package nonce

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store is a per-address monotonic counter. Counters start at zero, advance
// by exactly one per admitted request, and never decrease or skip.
type Store interface {
	// Nonce returns the next expected nonce for an owner. Unseen owners
	// are at zero.
	Nonce(owner common.Address) uint64

	// Advance increments the owner's counter by one.
	Advance(owner common.Address)
}

// MemoryStore provides an in-memory implementation of Store.
//
// This implementation is suitable for standalone verification and for
// single-process deployments where counter state doesn't need to survive
// restarts or participate in transaction unwinding. The forwarder's default
// store keeps counters in ledger state instead, so that a reverting
// transaction also rewinds the counters it advanced.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[common.Address]uint64
}

// NewMemoryStore creates an empty in-memory nonce store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counts: make(map[common.Address]uint64),
	}
}

// Nonce returns the next expected nonce for an owner.
func (s *MemoryStore) Nonce(owner common.Address) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[owner]
}

// Advance increments the owner's counter by one.
func (s *MemoryStore) Advance(owner common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[owner]++
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
