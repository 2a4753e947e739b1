// Package walletvalidator is a contract account for tests: it validates
// signatures by delegating to a single owner key, the one-function proxy
// shape of an owner-delegated isValidSignature capability.
package walletvalidator

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/forwarder-foundation/forwarder/go/chain"
)

const walletABIJSON = `[{
	"name": "isValidSignature",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

var walletABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(walletABIJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}()

var (
	magicValue   = [4]byte{0x16, 0x26, 0xba, 0x7e}
	invalidValue = [4]byte{0xff, 0xff, 0xff, 0xff}
)

// Wallet is a contract account whose signatures are valid when produced by
// its owner key.
type Wallet struct {
	Address common.Address
	Owner   common.Address
}

// Deploy registers a wallet on the ledger.
func Deploy(ledger *chain.Ledger, address, owner common.Address) *Wallet {
	w := &Wallet{Address: address, Owner: owner}
	ledger.SetCode(address, w)
	return w
}

// Run implements chain.Contract.
func (w *Wallet) Run(env *chain.CallContext, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, chain.Revert("unknown function")
	}
	method, err := walletABI.MethodById(input[:4])
	if err != nil || method.Name != "isValidSignature" {
		return nil, chain.Revert("unknown function")
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, chain.Revert("malformed call data")
	}
	digest := args[0].([32]byte)
	signature := args[1].([]byte)

	result := invalidValue
	if recovered, ok := recoverSigner(digest, signature); ok && recovered == w.Owner {
		result = magicValue
	}
	return method.Outputs.Pack(result)
}

func recoverSigner(digest [32]byte, signature []byte) (common.Address, bool) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pubkey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pubkey), true
}

var _ chain.Contract = (*Wallet)(nil)
