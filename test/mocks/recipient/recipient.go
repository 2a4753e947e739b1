// Package recipient is a forwarder-aware target contract for tests. It
// records, in ledger state, how often it was called and which effective
// sender each call was attributed to, and can be configured to fail.
package recipient

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	forwarder "github.com/forwarder-foundation/forwarder/go"
	"github.com/forwarder-foundation/forwarder/go/chain"
)

var (
	callCountSlot  = crypto.Keccak256Hash([]byte("call-count"))
	lastSenderSlot = crypto.Keccak256Hash([]byte("last-sender"))
)

// Contract is the mock recipient.
type Contract struct {
	Address          common.Address
	TrustedForwarder common.Address

	// FailWith makes every call revert with the given reason.
	FailWith string
	// FailSilently makes every call revert without revert data.
	FailSilently bool
}

// Deploy registers a recipient on the ledger.
func Deploy(ledger *chain.Ledger, address, trustedForwarder common.Address) *Contract {
	c := &Contract{Address: address, TrustedForwarder: trustedForwarder}
	ledger.SetCode(address, c)
	return c
}

// IsTrustedForwarder reports whether an address is the contract's trusted
// forwarder.
func (c *Contract) IsTrustedForwarder(addr common.Address) bool {
	return addr == c.TrustedForwarder
}

// Run implements chain.Contract. Successful calls return the effective
// sender's address bytes as output.
func (c *Contract) Run(env *chain.CallContext, input []byte) ([]byte, error) {
	if c.FailSilently {
		return nil, &chain.RevertError{}
	}
	if c.FailWith != "" {
		return nil, chain.Revert(c.FailWith)
	}
	sender, _ := forwarder.EffectiveSender(c.TrustedForwarder, env.Caller, input)
	count := env.Ledger.GetState(c.Address, callCountSlot).Big()
	env.Ledger.SetState(c.Address, callCountSlot, common.BigToHash(count.Add(count, common.Big1)))
	env.Ledger.SetState(c.Address, lastSenderSlot, common.BytesToHash(sender.Bytes()))
	return sender.Bytes(), nil
}

// CallCount reads the number of committed calls from ledger state.
func (c *Contract) CallCount(ledger *chain.Ledger) uint64 {
	return ledger.GetState(c.Address, callCountSlot).Big().Uint64()
}

// LastSender reads the effective sender of the last committed call.
func (c *Contract) LastSender(ledger *chain.Ledger) common.Address {
	return common.BytesToAddress(ledger.GetState(c.Address, lastSenderSlot).Bytes())
}

var _ chain.Contract = (*Contract)(nil)
