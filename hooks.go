package forwarder

import "github.com/ethereum/go-ethereum/common"

// ============================================================================
// Hook Event Types
// ============================================================================

// TransactionRevertedEvent is delivered when a forwarded call fails. It
// carries the decoded revert reason, or a generic one when the call reverted
// without data. Delivery is synchronous and is not undone by state
// unwinding: hooks observe failures that the transaction itself erases.
type TransactionRevertedEvent struct {
	// Signer is the originator the failed call was attributed to.
	Signer common.Address
	// Target is the address the failed call was made to.
	Target common.Address
	// Reason is the decoded failure reason.
	Reason string
	// BatchIndex is the position of the failing entry within its batch,
	// or -1 for a standalone execution.
	BatchIndex int
}

// ExecutedEvent is delivered after a forwarded call completes successfully.
type ExecutedEvent struct {
	Signer common.Address
	Target common.Address
	Output []byte
}

// ============================================================================
// Hook Options
// ============================================================================

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithTransactionRevertedHook registers a callback for failed forwarded
// calls. Multiple hooks run in registration order.
func WithTransactionRevertedHook(hook func(TransactionRevertedEvent)) Option {
	return func(f *Forwarder) {
		f.revertedHooks = append(f.revertedHooks, hook)
	}
}

// WithExecutedHook registers a callback for successful forwarded calls.
func WithExecutedHook(hook func(ExecutedEvent)) Option {
	return func(f *Forwarder) {
		f.executedHooks = append(f.executedHooks, hook)
	}
}

func (f *Forwarder) emitReverted(event TransactionRevertedEvent) {
	for _, hook := range f.revertedHooks {
		hook(event)
	}
}

func (f *Forwarder) emitExecuted(event ExecutedEvent) {
	for _, hook := range f.executedHooks {
		hook(event)
	}
}
