// Package evm provides key-based request signing for the forwarding
// protocol. It produces the 65-byte signatures the forwarder's plain-account
// verification path consumes.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	forwarder "github.com/forwarder-foundation/forwarder/go"
)

// Signer signs forward requests with an ECDSA private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSignerFromPrivateKey creates a signer from a hex-encoded private key,
// with or without the "0x" prefix.
func NewSignerFromPrivateKey(privateKeyHex string) (*Signer, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs a request's structured-data digest under the given
// domain and returns the 65-byte (r, s, v) signature, with v adjusted to the
// Ethereum convention.
func (s *Signer) SignRequest(domain *forwarder.Domain, req *forwarder.ForwardRequest) ([]byte, error) {
	digest, err := domain.HashForwardRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}

	signature, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Recovery ID 0/1 → 27/28
	signature[crypto.RecoveryIDOffset] += 27

	return signature, nil
}

// SignDigest signs an arbitrary 32-byte digest. Contract-account wallets
// back their isValidSignature capability with an owner key signing the same
// digests.
func (s *Signer) SignDigest(digest common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}
