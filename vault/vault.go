// Package vault is an in-memory custodian. It implements the transfer
// capability the coordinator pays through and is used by the simulator.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/ledger"
)

var ErrInsufficientFunds = errors.New("vault: insufficient funds")

// Hook runs before every transfer; a non-nil error fails the transfer.
type Hook func(ctx context.Context, to ledger.AccountID, amt *uint256.Int) error

type Vault struct {
	mu       sync.Mutex
	treasury *uint256.Int
	balances map[ledger.AccountID]*uint256.Int
	hook     Hook
}

func New(treasury *uint256.Int) *Vault {
	return &Vault{
		treasury: amount.Of(treasury),
		balances: make(map[ledger.AccountID]*uint256.Int),
	}
}

// SetHook installs a hook; nil removes it. The hook runs without the
// vault lock held so it may call back into whatever invoked Transfer.
func (v *Vault) SetHook(h Hook) {
	v.mu.Lock()
	v.hook = h
	v.mu.Unlock()
}

// Transfer moves amt from the treasury to the account.
func (v *Vault) Transfer(ctx context.Context, to ledger.AccountID, amt *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	hook := v.hook
	v.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, to, amt); err != nil {
			return err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.treasury.Lt(amt) {
		return fmt.Errorf("%w: treasury %s, transfer %s", ErrInsufficientFunds, v.treasury.Dec(), amt.Dec())
	}
	v.treasury = new(uint256.Int).Sub(v.treasury, amt)
	bal := amount.Of(v.balances[to])
	v.balances[to] = bal.Add(bal, amt)
	return nil
}

// Fund adds to the treasury.
func (v *Vault) Fund(amt *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.treasury = new(uint256.Int).Add(v.treasury, amt)
}

func (v *Vault) Treasury() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.treasury.Clone()
}

func (v *Vault) BalanceOf(id ledger.AccountID) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return amount.Of(v.balances[id])
}
