package forwarder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ForwardRequest is a call authored off-chain by an originating account and
// re-executed on-chain by the forwarder on its behalf. Every field is bound
// by the request's signature; changing any of them invalidates it.
type ForwardRequest struct {
	// From is the originator: the account the request is signed by and
	// attributed to as the effective sender.
	From common.Address `json:"from"`
	// To is the call target.
	To common.Address `json:"to"`
	// Value is the amount forwarded with the call. Nil means zero.
	Value *big.Int `json:"value"`
	// Nonce must equal the forwarder's next expected nonce for From.
	Nonce uint64 `json:"nonce"`
	// Data is the opaque call payload.
	Data []byte `json:"data"`
}

// value returns the request's value, normalized to non-nil.
func (r *ForwardRequest) value() *big.Int {
	if r.Value == nil {
		return new(big.Int)
	}
	return r.Value
}

// SignedRequest pairs a request with its signature. It is the unit of the
// heterogeneous batch: each entry is verified end-to-end independently of
// the others.
type SignedRequest struct {
	Request   ForwardRequest `json:"request"`
	Signature []byte         `json:"signature"`
}

// Call is the unit of the homogeneous batch. It carries no signature of its
// own: authenticity is inherited from the single signed request that invoked
// the batch.
type Call struct {
	To    common.Address `json:"to"`
	Value *big.Int       `json:"value"`
	Data  []byte         `json:"data"`
}

// BatchResult reports the outcome of one heterogeneous batch entry in
// continue-on-failure mode.
type BatchResult struct {
	Success bool   `json:"success"`
	Output  []byte `json:"output,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
