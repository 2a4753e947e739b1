// Package chain provides a minimal journaled ledger for hosting contract-like
// handlers in-process. It models the execution environment a forwarding
// gateway runs against: accounts with balances, per-address key/value storage,
// registered call handlers, and call frames whose state changes unwind when
// the frame fails.
//
// The ledger is not safe for concurrent use. Invocations are expected to be
// serialized by the caller, the way a host chain serializes transactions by
// consensus ordering.
package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Contract is a call handler registered at a ledger address. Run receives the
// frame context and the raw input data and returns the call's output, or an
// error to unwind the frame. Returning a *RevertError carries ABI-encoded
// revert data to the caller.
type Contract interface {
	Run(env *CallContext, input []byte) ([]byte, error)
}

// ContractFunc adapts a plain function to the Contract interface.
type ContractFunc func(env *CallContext, input []byte) ([]byte, error)

// Run implements Contract.
func (f ContractFunc) Run(env *CallContext, input []byte) ([]byte, error) {
	return f(env, input)
}

// CallContext describes the currently executing call frame.
type CallContext struct {
	// Ledger is the state the frame executes against. Nested calls made
	// through it open child frames with their own revert scope.
	Ledger *Ledger
	// Caller is the immediate caller of this frame.
	Caller common.Address
	// Self is the address the frame executes as.
	Self common.Address
	// Value is the amount transferred into the frame, never nil.
	Value *big.Int
}

// Ledger is an in-memory account state with snapshot/revert journaling.
type Ledger struct {
	balances map[common.Address]*big.Int
	storage  map[common.Address]map[common.Hash]common.Hash
	code     map[common.Address]Contract
	journal  []journalEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*big.Int),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		code:     make(map[common.Address]Contract),
	}
}

type journalEntry interface {
	revert(l *Ledger)
}

type balanceChange struct {
	account common.Address
	prev    *big.Int
}

func (c balanceChange) revert(l *Ledger) {
	if c.prev == nil {
		delete(l.balances, c.account)
		return
	}
	l.balances[c.account] = c.prev
}

type storageChange struct {
	account common.Address
	key     common.Hash
	prev    common.Hash
	had     bool
}

func (c storageChange) revert(l *Ledger) {
	if !c.had {
		delete(l.storage[c.account], c.key)
		return
	}
	l.storage[c.account][c.key] = c.prev
}

// Snapshot returns a revision identifier for the current state.
func (l *Ledger) Snapshot() int {
	return len(l.journal)
}

// RevertToSnapshot undoes every state change recorded after the given
// revision, most recent first.
func (l *Ledger) RevertToSnapshot(rev int) {
	if rev < 0 || rev > len(l.journal) {
		panic(fmt.Sprintf("chain: invalid snapshot revision %d", rev))
	}
	for i := len(l.journal) - 1; i >= rev; i-- {
		l.journal[i].revert(l)
	}
	l.journal = l.journal[:rev]
}

// BalanceOf returns the account balance. Unseen accounts hold zero.
func (l *Ledger) BalanceOf(account common.Address) *big.Int {
	if b, ok := l.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// AddBalance credits an account, recording the change in the journal.
func (l *Ledger) AddBalance(account common.Address, amount *big.Int) {
	prev := l.balances[account]
	l.journal = append(l.journal, balanceChange{account: account, prev: prev})
	l.balances[account] = new(big.Int).Add(l.BalanceOf(account), amount)
}

func (l *Ledger) subBalance(account common.Address, amount *big.Int) error {
	have := l.BalanceOf(account)
	if have.Cmp(amount) < 0 {
		return fmt.Errorf("chain: insufficient balance: %s has %s, needs %s", account.Hex(), have, amount)
	}
	prev := l.balances[account]
	l.journal = append(l.journal, balanceChange{account: account, prev: prev})
	l.balances[account] = have.Sub(have, amount)
	return nil
}

// GetState reads a storage slot of an account. Unset slots read as the zero
// hash.
func (l *Ledger) GetState(account common.Address, key common.Hash) common.Hash {
	return l.storage[account][key]
}

// SetState writes a storage slot of an account, recording the change in the
// journal.
func (l *Ledger) SetState(account common.Address, key, value common.Hash) {
	slots, ok := l.storage[account]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		l.storage[account] = slots
	}
	prev, had := slots[key]
	l.journal = append(l.journal, storageChange{account: account, key: key, prev: prev, had: had})
	slots[key] = value
}

// SetCode registers a contract handler at an address. Deployment is a setup
// operation and is not journaled.
func (l *Ledger) SetCode(account common.Address, contract Contract) {
	l.code[account] = contract
}

// IsContract reports whether an address has executable code. This is the
// dispatch predicate between key-based and contract-based accounts.
func (l *Ledger) IsContract(account common.Address) bool {
	_, ok := l.code[account]
	return ok
}

// Call opens a child frame: it transfers value from the caller to the target,
// runs the target's handler if one is registered, and unwinds the entire
// frame if the handler fails. Targets without code accept plain value
// transfers and return no output.
func (l *Ledger) Call(caller, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	snap := l.Snapshot()
	if value.Sign() > 0 {
		if err := l.subBalance(caller, value); err != nil {
			return nil, err
		}
		l.AddBalance(to, value)
	}
	contract, ok := l.code[to]
	if !ok {
		return nil, nil
	}
	env := &CallContext{Ledger: l, Caller: caller, Self: to, Value: value}
	out, err := contract.Run(env, input)
	if err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

// StaticCall runs a call and discards every state change it made, committed
// or not. It is the read-only view used for delegated signature validation.
func (l *Ledger) StaticCall(caller, to common.Address, input []byte) ([]byte, error) {
	snap := l.Snapshot()
	out, err := l.Call(caller, to, nil, input)
	l.RevertToSnapshot(snap)
	return out, err
}

// Transact is the top-level all-or-nothing boundary: it behaves like Call and
// leaves no state changes behind when the call fails. Callers that need the
// same guarantee around a sequence of operations take their own snapshot.
func (l *Ledger) Transact(from, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	return l.Call(from, to, value, input)
}
