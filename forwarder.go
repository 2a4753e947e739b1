// Package forwarder implements a trusted meta-transaction forwarding
// gateway: it accepts requests signed off-chain by an originating account,
// verifies authenticity and freshness, and re-executes them against a host
// ledger as if the originator had called directly.
package forwarder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/forwarder-foundation/forwarder/go/chain"
	"github.com/forwarder-foundation/forwarder/go/nonce"
)

const (
	// revertReasonMinLength is the shortest revert data that can carry an
	// ABI-encoded Error(string): selector, offset word, length word.
	revertReasonMinLength = 4 + 32 + 32

	// revertedSilently reports a forwarded call that failed without a
	// decodable reason.
	revertedSilently = "Transaction reverted silently"
)

const forwarderABIJSON = `[{
	"name": "batchFromSelf",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [{
		"name": "calls",
		"type": "tuple[]",
		"components": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "data", "type": "bytes"}
		]
	}],
	"outputs": []
}]`

var forwarderABI = mustParseABI(forwarderABIJSON)

// Forwarder is the gateway. It owns the nonce registry and the sealed domain
// separator; requests and batch entries stay caller-owned and are never
// retained.
type Forwarder struct {
	ledger  *chain.Ledger
	address common.Address
	domain  *Domain
	nonces  nonce.Store

	revertedHooks []func(TransactionRevertedEvent)
	executedHooks []func(ExecutedEvent)
}

// New creates a forwarder bound to a ledger and registers it there as a
// contract, which makes the homogeneous batch entry point reachable as a
// real self-call. The domain separator is sealed from the protocol name, the
// fixed protocol version, the chain ID, and the forwarder's own address.
//
// By default nonce counters live in the forwarder's ledger storage, so a
// reverting transaction rewinds the counters it advanced.
func New(ledger *chain.Ledger, address common.Address, name string, chainID *big.Int, opts ...Option) (*Forwarder, error) {
	domain, err := NewDomain(name, chainID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to seal domain: %w", err)
	}
	f := &Forwarder{
		ledger:  ledger,
		address: address,
		domain:  domain,
	}
	f.nonces = &ledgerNonceStore{ledger: ledger, self: address}
	for _, opt := range opts {
		opt(f)
	}
	ledger.SetCode(address, f)
	return f, nil
}

// WithNonceStore replaces the default ledger-backed nonce store. Stores kept
// outside ledger state do not unwind with a reverting transaction.
func WithNonceStore(store nonce.Store) Option {
	return func(f *Forwarder) {
		f.nonces = store
	}
}

// Address returns the forwarder's ledger address.
func (f *Forwarder) Address() common.Address {
	return f.address
}

// Domain returns the sealed signing domain.
func (f *Forwarder) Domain() *Domain {
	return f.domain
}

// GetNonce returns the next expected nonce for an originator. Unseen
// originators are at zero.
func (f *Forwarder) GetNonce(owner common.Address) uint64 {
	return f.nonces.Nonce(owner)
}

// Execute verifies a signed request and performs the forwarded call with the
// originator appended to the call data tail. Execution is all-or-nothing: if
// the call fails, a TransactionRevertedEvent is emitted and every state
// change of the transaction, the nonce advance included, unwinds.
func (f *Forwarder) Execute(req *ForwardRequest, signature []byte) ([]byte, error) {
	snap := f.ledger.Snapshot()
	out, err := f.execute(req, signature, -1)
	if err != nil {
		f.ledger.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

// execute runs the verification and execution state machine for one request.
// The nonce advances strictly before the outward call: a reentrant replay of
// the same request inside the call sees the advanced counter and is
// rejected.
func (f *Forwarder) execute(req *ForwardRequest, signature []byte, batchIndex int) ([]byte, error) {
	if err := f.verifyNonce(req); err != nil {
		return nil, err
	}
	f.nonces.Advance(req.From)
	if err := f.verifySignature(req, signature); err != nil {
		return nil, err
	}

	data := append(append([]byte{}, req.Data...), req.From.Bytes()...)
	out, err := f.ledger.Call(f.address, req.To, req.value(), data)
	if err != nil {
		reason := revertReason(err)
		f.emitReverted(TransactionRevertedEvent{
			Signer:     req.From,
			Target:     req.To,
			Reason:     reason,
			BatchIndex: batchIndex,
		})
		return nil, NewForwardError(ErrCodeExecutionReverted, reason, nil)
	}
	f.emitExecuted(ExecutedEvent{Signer: req.From, Target: req.To, Output: out})
	return out, nil
}

// ExecuteBatch verifies and executes a list of independently signed
// requests, in list order. Failure handling is parameterized:
//
//   - failFast true: the first failing entry aborts the batch with
//     batch_aborted and every state change of the batch unwinds.
//   - failFast false: a failing entry's own effects unwind, a
//     TransactionRevertedEvent is emitted for it, and processing continues.
//     The failed entry's nonce stays spent; the advance happened before the
//     call, and only the call's effects were undone.
//
// Verification failures are malformed submissions and abort the batch in
// either mode.
func (f *Forwarder) ExecuteBatch(entries []SignedRequest, failFast bool) ([]BatchResult, error) {
	snap := f.ledger.Snapshot()
	results := make([]BatchResult, len(entries))
	for i := range entries {
		entry := &entries[i]
		out, err := f.execute(&entry.Request, entry.Signature, i)
		if err == nil {
			results[i] = BatchResult{Success: true, Output: out}
			continue
		}
		if !errors.Is(err, ErrExecutionReverted) {
			f.ledger.RevertToSnapshot(snap)
			return nil, err
		}
		if failFast {
			f.ledger.RevertToSnapshot(snap)
			return nil, NewForwardError(ErrCodeBatchAborted,
				fmt.Sprintf("entry %d: %s", i, forwardReason(err)), nil)
		}
		results[i] = BatchResult{Reason: forwardReason(err)}
	}
	return results, nil
}

// SelfBatchRequest ABI-encodes a batchFromSelf invocation. Signing a request
// whose To is the forwarder itself and whose Data is this payload performs
// the calls atomically with the signer's single authorization.
func (f *Forwarder) SelfBatchRequest(calls []Call) ([]byte, error) {
	packed := make([]Call, len(calls))
	for i, call := range calls {
		packed[i] = call
		if packed[i].Value == nil {
			packed[i].Value = new(big.Int)
		}
		if packed[i].Data == nil {
			packed[i].Data = []byte{}
		}
	}
	return forwarderABI.Pack("batchFromSelf", packed)
}

// Run implements chain.Contract: the forwarder's own on-ledger surface. The
// only function it exposes is batchFromSelf; plain value transfers are
// accepted.
func (f *Forwarder) Run(env *chain.CallContext, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if len(input) < 4 {
		return nil, chain.Revert("unknown function")
	}
	method, err := forwarderABI.MethodById(input[:4])
	if err != nil || method.Name != "batchFromSelf" {
		return nil, chain.Revert("unknown function")
	}
	return f.runBatchFromSelf(env, input)
}

// runBatchFromSelf is the homogeneous batch entry point. It is reachable
// only as a nested self-call: the effect of an already-verified request
// targeting the forwarder itself. The original signer is not in contract
// state; it rides the trailing bytes of this frame's own input data, put
// there by the outer executor's sender-substitution step.
func (f *Forwarder) runBatchFromSelf(env *chain.CallContext, input []byte) ([]byte, error) {
	if env.Caller != f.address {
		return nil, NewForwardError(ErrCodeOnlyForwarder,
			"batchFromSelf is only reachable as a self-call", nil)
	}
	if len(input) < 4+common.AddressLength {
		return nil, NewForwardError(ErrCodeOnlyForwarder,
			"call data carries no signer suffix", nil)
	}
	signer := common.BytesToAddress(input[len(input)-common.AddressLength:])
	args, err := forwarderABI.Methods["batchFromSelf"].Inputs.Unpack(input[4 : len(input)-common.AddressLength])
	if err != nil {
		return nil, chain.Revert(fmt.Sprintf("malformed batch call data: %v", err))
	}
	calls := *abi.ConvertType(args[0], new([]Call)).(*[]Call)

	for i, call := range calls {
		data := append(append([]byte{}, call.Data...), signer.Bytes()...)
		if _, err := env.Ledger.Call(f.address, call.To, call.Value, data); err != nil {
			reason := revertReason(err)
			f.emitReverted(TransactionRevertedEvent{
				Signer:     signer,
				Target:     call.To,
				Reason:     reason,
				BatchIndex: i,
			})
			// No partial-success mode here: the failure propagates and the
			// outer request unwinds as a whole.
			return nil, NewForwardError(ErrCodeExecutionReverted,
				fmt.Sprintf("call %d reverted: %s", i, reason), nil)
		}
	}
	return nil, nil
}

// EffectiveSender derives the sender a recipient should attribute a call to.
// When the immediate caller is the recipient's trusted forwarder, the true
// originator rides the trailing bytes of the call data; otherwise the
// immediate caller stands. The stripped payload is returned alongside.
func EffectiveSender(trustedForwarder, caller common.Address, input []byte) (common.Address, []byte) {
	if caller == trustedForwarder && len(input) >= common.AddressLength {
		split := len(input) - common.AddressLength
		return common.BytesToAddress(input[split:]), input[:split]
	}
	return caller, input
}

// revertReason decodes a human-readable reason from a failed call. Revert
// data shorter than an ABI-encoded Error(string) header reports a generic
// reason.
func revertReason(err error) string {
	var rev *chain.RevertError
	if errors.As(err, &rev) {
		if len(rev.Data) >= revertReasonMinLength {
			if reason, decodeErr := abi.UnpackRevert(rev.Data); decodeErr == nil {
				return reason
			}
		}
		return revertedSilently
	}
	return err.Error()
}

// forwardReason extracts the reason string from an execution_reverted error.
func forwardReason(err error) string {
	var fwdErr *ForwardError
	if errors.As(err, &fwdErr) {
		return fwdErr.Message
	}
	return err.Error()
}

// ledgerNonceStore keeps nonce counters in the forwarder's own ledger
// storage, one slot per originator, so that counter advances unwind together
// with the transaction that made them.
type ledgerNonceStore struct {
	ledger *chain.Ledger
	self   common.Address
}

func (s *ledgerNonceStore) slot(owner common.Address) common.Hash {
	return crypto.Keccak256Hash(owner.Bytes())
}

func (s *ledgerNonceStore) Nonce(owner common.Address) uint64 {
	return s.ledger.GetState(s.self, s.slot(owner)).Big().Uint64()
}

func (s *ledgerNonceStore) Advance(owner common.Address) {
	slot := s.slot(owner)
	next := new(big.Int).Add(s.ledger.GetState(s.self, slot).Big(), big.NewInt(1))
	s.ledger.SetState(s.self, slot, common.BigToHash(next))
}

var _ nonce.Store = (*ledgerNonceStore)(nil)
var _ chain.Contract = (*Forwarder)(nil)
