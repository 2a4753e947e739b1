package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// revertSelector is the 4-byte function selector of Error(string), the
// standard ABI encoding for a revert carrying a reason string.
var revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

var stringArguments = func() abi.Arguments {
	typ, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: typ}}
}()

// RevertError is a handler failure carrying ABI-encoded revert data across
// the frame boundary, the way a revert travels back through a call on chain.
type RevertError struct {
	Data []byte
}

// Error implements the error interface. The decoded reason is included when
// the data carries one.
func (e *RevertError) Error() string {
	if reason, err := abi.UnpackRevert(e.Data); err == nil {
		return fmt.Sprintf("execution reverted: %s", reason)
	}
	return fmt.Sprintf("execution reverted: %s", hexutil.Encode(e.Data))
}

// Revert builds a frame failure with an ABI-encoded Error(string) reason.
func Revert(reason string) error {
	packed, err := stringArguments.Pack(reason)
	if err != nil {
		// A string argument always packs.
		panic(err)
	}
	return &RevertError{Data: append(append([]byte{}, revertSelector...), packed...)}
}
