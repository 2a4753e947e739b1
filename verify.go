package forwarder

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// eip1271MagicValue is the bytes4 returned by isValidSignature on success.
var eip1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const erc1271ABIJSON = `[{
	"name": "isValidSignature",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

var erc1271ABI = mustParseABI(erc1271ABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Verify checks a request's nonce and signature without side effects. It is
// the externally facing dry-run: nothing advances, nothing executes.
func (f *Forwarder) Verify(req *ForwardRequest, signature []byte) error {
	if err := f.verifyNonce(req); err != nil {
		return err
	}
	return f.verifySignature(req, signature)
}

// verifyNonce fails unless the request's nonce equals the next expected
// nonce for its originator.
func (f *Forwarder) verifyNonce(req *ForwardRequest) error {
	expected := f.nonces.Nonce(req.From)
	if req.Nonce != expected {
		return NewForwardError(ErrCodeInvalidNonce,
			fmt.Sprintf("expected nonce %d for %s, got %d", expected, req.From.Hex(), req.Nonce), nil)
	}
	return nil
}

// verifySignature validates a signature against the request's structured-data
// digest. Validation is polymorphic over the originator's account kind: a
// plain account is checked by ECDSA recovery, a contract account by
// delegating to its own isValidSignature capability. The dispatch key is
// solely whether the originator address has executable code.
func (f *Forwarder) verifySignature(req *ForwardRequest, signature []byte) error {
	digest, err := f.domain.HashForwardRequest(req)
	if err != nil {
		return fmt.Errorf("failed to hash request: %w", err)
	}
	if f.ledger.IsContract(req.From) {
		return f.verifyContractSignature(req.From, digest, signature)
	}
	return verifyKeySignature(req.From, digest, signature)
}

// verifyKeySignature recovers the signing address from the digest and
// requires it to equal the originator exactly.
func verifyKeySignature(originator common.Address, digest common.Hash, signature []byte) error {
	if len(signature) != crypto.SignatureLength {
		return NewForwardError(ErrCodeInvalidSignature,
			fmt.Sprintf("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature)), nil)
	}
	// Accept the Ethereum convention of v in {27, 28}; recovery wants {0, 1}.
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pubkey, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return NewForwardError(ErrCodeInvalidSignature,
			fmt.Sprintf("signature recovery failed: %v", err), nil)
	}
	if recovered := crypto.PubkeyToAddress(*pubkey); recovered != originator {
		return NewForwardError(ErrCodeInvalidSignature,
			fmt.Sprintf("signature recovered %s, want %s", recovered.Hex(), originator.Hex()), nil)
	}
	return nil
}

// verifyContractSignature delegates validation to the originator contract's
// isValidSignature and requires the EIP-1271 magic value back.
func (f *Forwarder) verifyContractSignature(originator common.Address, digest common.Hash, signature []byte) error {
	input, err := erc1271ABI.Pack("isValidSignature", [32]byte(digest), signature)
	if err != nil {
		return fmt.Errorf("failed to pack isValidSignature call: %w", err)
	}
	out, err := f.ledger.StaticCall(f.address, originator, input)
	if err != nil {
		return NewForwardError(ErrCodeInvalidSignature,
			fmt.Sprintf("delegated validation reverted: %v", err), nil)
	}
	if len(out) < len(eip1271MagicValue) || !bytes.Equal(out[:4], eip1271MagicValue[:]) {
		return NewForwardError(ErrCodeInvalidSignature,
			"delegated validation did not return the magic value", nil)
	}
	return nil
}
