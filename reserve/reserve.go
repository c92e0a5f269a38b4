// Package reserve tracks the reward pool against the rewards promised
// out of it.
//
// The invariant PoolBalance >= TotalPendingReward holds after every
// successful call; a call that would break it fails without mutating.
// A Reserve is not safe for concurrent use.
package reserve

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/stakeerr"
)

type State struct {
	PoolBalance        *uint256.Int
	TotalPendingReward *uint256.Int
}

// Available is the pool balance not earmarked for pending rewards.
func (s State) Available() *uint256.Int {
	return amount.SubFloor(s.PoolBalance, s.TotalPendingReward)
}

func (s State) clone() State {
	return State{PoolBalance: s.PoolBalance.Clone(), TotalPendingReward: s.TotalPendingReward.Clone()}
}

type Reserve struct {
	pool    *uint256.Int
	pending *uint256.Int
}

func New(initial *uint256.Int) *Reserve {
	return &Reserve{pool: amount.Of(initial), pending: new(uint256.Int)}
}

// Reserve earmarks amt of the pool for a future reward.
func (r *Reserve) Reserve(amt *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(r.pending, amt)
	if overflow {
		return stakeerr.Wrap(stakeerr.ErrArithmeticOverflow, "pending reward")
	}
	if r.pool.Lt(next) {
		return stakeerr.Wrap(stakeerr.ErrInsufficientPool, "pool %s cannot cover pending %s",
			r.pool.Dec(), next.Dec())
	}
	r.pending = next
	return nil
}

// Unreserve drops an earmark without paying it: a rolled back open or
// the residual left when a position closes.
func (r *Reserve) Unreserve(amt *uint256.Int) error {
	if amt.Gt(r.pending) {
		return stakeerr.Wrap(stakeerr.ErrReserveUnderflow, "unreserve %s of pending %s", amt.Dec(), r.pending.Dec())
	}
	r.pending = new(uint256.Int).Sub(r.pending, amt)
	return nil
}

// Release pays amt out of the pool against its reservation.
func (r *Reserve) Release(amt *uint256.Int) error {
	if amt.Gt(r.pending) {
		return stakeerr.Wrap(stakeerr.ErrReserveUnderflow, "release %s of pending %s", amt.Dec(), r.pending.Dec())
	}
	if amt.Gt(r.pool) {
		return stakeerr.Wrap(stakeerr.ErrReserveUnderflow, "release %s of pool %s", amt.Dec(), r.pool.Dec())
	}
	r.pool = new(uint256.Int).Sub(r.pool, amt)
	r.pending = new(uint256.Int).Sub(r.pending, amt)
	return nil
}

// Deposit records external funding of the pool.
func (r *Reserve) Deposit(amt *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(r.pool, amt)
	if overflow {
		return stakeerr.Wrap(stakeerr.ErrArithmeticOverflow, "pool balance")
	}
	r.pool = next
	return nil
}

// WithdrawExcess removes amt from the pool. The limit is the pool less
// the larger of the reservations and projected, the accrual-projected
// pending reward across open positions.
func (r *Reserve) WithdrawExcess(amt, projected *uint256.Int) error {
	limit := r.Excess(projected)
	if amt.Gt(limit) {
		return stakeerr.Wrap(stakeerr.ErrInsufficientExcess, "withdraw %s, excess %s", amt.Dec(), limit.Dec())
	}
	r.pool = new(uint256.Int).Sub(r.pool, amt)
	return nil
}

// Excess is what WithdrawExcess would allow.
func (r *Reserve) Excess(projected *uint256.Int) *uint256.Int {
	owed := r.pending
	if projected != nil && projected.Gt(owed) {
		owed = projected
	}
	return amount.SubFloor(r.pool, owed)
}

func (r *Reserve) State() State {
	return State{PoolBalance: r.pool.Clone(), TotalPendingReward: r.pending.Clone()}
}

// Restore resets both counters to a previous State.
func (r *Reserve) Restore(s State) {
	c := s.clone()
	r.pool = c.PoolBalance
	r.pending = c.TotalPendingReward
}

// Check verifies the solvency invariant.
func (r *Reserve) Check() error {
	if r.pool.Lt(r.pending) {
		return fmt.Errorf("reserve: pool %s below pending %s", r.pool.Dec(), r.pending.Dec())
	}
	return nil
}
