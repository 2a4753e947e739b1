package forwarder

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainVersion is the fixed protocol version bound into every domain
// separator.
const DomainVersion = "1"

// Type hashes of the structured-data schemas, readable by any caller.
var (
	// ForwardRequestTypeHash is keccak256 of the ForwardRequest type string.
	ForwardRequestTypeHash = crypto.Keccak256Hash([]byte(
		"ForwardRequest(address from,address to,uint256 value,uint256 nonce,bytes data)"))

	// DomainTypeHash is keccak256 of the EIP712Domain type string.
	DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// forwardRequestTypes are the EIP-712 type definitions the digest is built
// from. Field order matters: it is part of the type hash.
var forwardRequestTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"ForwardRequest": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "data", Type: "bytes"},
	},
}

// Domain scopes every signature to one specific deployment: protocol name,
// protocol version, chain identity, and the forwarder's own address. The
// separator is sealed at construction and never recomputed, so signatures
// stay bound to the chain identity captured here even if the host chain
// later forks.
type Domain struct {
	Name              string
	ChainID           *big.Int
	VerifyingContract common.Address

	separator common.Hash
}

// NewDomain computes and seals a domain separator.
func NewDomain(name string, chainID *big.Int, verifyingContract common.Address) (*Domain, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain ID is required")
	}
	d := &Domain{
		Name:              name,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: verifyingContract,
	}
	typedData := d.typedData(nil)
	separator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	d.separator = common.BytesToHash(separator)
	return d, nil
}

// Separator returns the sealed domain separator hash.
func (d *Domain) Separator() common.Hash {
	return d.separator
}

// HashForwardRequest builds the structured-data digest a request is signed
// over: keccak256("\x19\x01" + domainSeparator + hashStruct(request)).
func (d *Domain) HashForwardRequest(req *ForwardRequest) (common.Hash, error) {
	message := map[string]interface{}{
		"from":  req.From.Hex(),
		"to":    req.To.Hex(),
		"value": req.value(),
		"nonce": new(big.Int).SetUint64(req.Nonce),
		"data":  req.Data,
	}
	typedData := d.typedData(message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash struct: %w", err)
	}

	// EIP-712 digest: 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, d.separator.Bytes()...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256Hash(rawData), nil
}

func (d *Domain) typedData(message map[string]interface{}) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       forwardRequestTypes,
		PrimaryType: "ForwardRequest",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: message,
	}
}
