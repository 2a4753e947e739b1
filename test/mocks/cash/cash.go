// Package cash is a trivial value-transfer contract used for integration
// testing: a balance ledger exposing mint and transfer. It trusts a
// configured forwarder and attributes transfers to the originator recovered
// from the call data tail.
package cash

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	forwarder "github.com/forwarder-foundation/forwarder/go"
	"github.com/forwarder-foundation/forwarder/go/chain"
)

const cashABIJSON = `[
	{"name": "mint", "type": "function", "inputs": [
		{"name": "to", "type": "address"},
		{"name": "amount", "type": "uint256"}
	], "outputs": []},
	{"name": "transfer", "type": "function", "inputs": [
		{"name": "to", "type": "address"},
		{"name": "amount", "type": "uint256"}
	], "outputs": [{"name": "", "type": "bool"}]}
]`

var cashABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(cashABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Contract is the mock value-transfer contract.
type Contract struct {
	// Address the contract is deployed at.
	Address common.Address
	// TrustedForwarder is the forwarder whose sender substitution the
	// contract honors.
	TrustedForwarder common.Address
}

// Deploy registers a cash contract on the ledger.
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

// Run implements chain.Contract.
func (c *Contract) Run(env *chain.CallContext, input []byte) ([]byte, error) {
	sender, payload := forwarder.EffectiveSender(c.TrustedForwarder, env.Caller, input)
	if len(payload) < 4 {
		return nil, chain.Revert("unknown function")
	}
	method, err := cashABI.MethodById(payload[:4])
	if err != nil {
		return nil, chain.Revert("unknown function")
	}
	args, err := method.Inputs.Unpack(payload[4:])
	if err != nil {
		return nil, chain.Revert(fmt.Sprintf("malformed call data: %v", err))
	}
	to := args[0].(common.Address)
	amount := args[1].(*big.Int)

	switch method.Name {
	case "mint":
		c.setBalance(env.Ledger, to, new(big.Int).Add(c.BalanceOf(env.Ledger, to), amount))
		return nil, nil
	case "transfer":
		from := c.BalanceOf(env.Ledger, sender)
		if from.Cmp(amount) < 0 {
			return nil, chain.Revert("transfer amount exceeds balance")
		}
		c.setBalance(env.Ledger, sender, from.Sub(from, amount))
		c.setBalance(env.Ledger, to, new(big.Int).Add(c.BalanceOf(env.Ledger, to), amount))
		return cashABI.Methods["transfer"].Outputs.Pack(true)
	default:
		return nil, chain.Revert("unknown function")
	}
}

// PackMint encodes a mint call.
func (c *Contract) PackMint(to common.Address, amount *big.Int) []byte {
	packed, err := cashABI.Pack("mint", to, amount)
	if err != nil {
		panic(err)
	}
	return packed
}

// PackTransfer encodes a transfer call.
func (c *Contract) PackTransfer(to common.Address, amount *big.Int) []byte {
	packed, err := cashABI.Pack("transfer", to, amount)
	if err != nil {
		panic(err)
	}
	return packed
}

// BalanceOf reads an account's balance from ledger state.
func (c *Contract) BalanceOf(ledger *chain.Ledger, owner common.Address) *big.Int {
	return ledger.GetState(c.Address, balanceSlot(owner)).Big()
}

func (c *Contract) setBalance(ledger *chain.Ledger, owner common.Address, amount *big.Int) {
	ledger.SetState(c.Address, balanceSlot(owner), common.BigToHash(amount))
}

func balanceSlot(owner common.Address) common.Hash {
	return crypto.Keccak256Hash([]byte("balance"), owner.Bytes())
}

var _ chain.Contract = (*Contract)(nil)
