package staking

import (
	"errors"
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/policy"
	"github.com/rustyeddy/stakeledger/schedule"
)

// Queries take the state read lock only. While a transfer is in flight
// they see the paying operation's effects before it commits.

// PendingReward is what ClaimReward would pay right now.
func (c *Coordinator) PendingReward(id uint64) (*uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Pending(id, c.clock.Now())
}

// PendingRewardsOf sums PendingReward over the owner's open positions.
func (c *Coordinator) PendingRewardsOf(owner ledger.AccountID) (*uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock.Now()
	sum := new(uint256.Int)
	for _, p := range c.ledger.OpenPositionsOf(owner) {
		owed, err := c.ledger.Pending(p.ID, now)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, owed)
	}
	return sum, nil
}

func (c *Coordinator) Position(id uint64) (ledger.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Position(id)
}

func (c *Coordinator) PositionsOf(owner ledger.AccountID) []ledger.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.PositionsOf(owner)
}

func (c *Coordinator) OpenPositionsOf(owner ledger.AccountID) []ledger.Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.OpenPositionsOf(owner)
}

func (c *Coordinator) Account(owner ledger.AccountID) ledger.Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Account(owner)
}

func (c *Coordinator) Owners() []ledger.AccountID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.Owners()
}

func (c *Coordinator) TotalStaked() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.TotalStaked()
}

func (c *Coordinator) HistoricalStaked() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ledger.HistoricalStaked()
}

// RemainingCapacity is nil when no capacity is configured.
func (c *Coordinator) RemainingCapacity() *uint256.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return policy.Remaining(c.flags, c.ledger.TotalStaked())
}

// RateFor resolves a duration against the active table, then the
// historical one.
func (c *Coordinator) RateFor(d time.Duration) (uint32, error) {
	return c.rates.RateFor(d)
}

// LockOptions lists the durations new positions may use.
func (c *Coordinator) LockOptions() []schedule.LockOption {
	return c.rates.Options()
}

// ExcessBalance is the most WithdrawExcess would currently allow.
func (c *Coordinator) ExcessBalance() (*uint256.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	projected, err := c.ledger.PendingTotal(c.clock.Now())
	if err != nil {
		return nil, err
	}
	return c.reserve.Excess(projected), nil
}

func (c *Coordinator) Totals() Totals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalsLocked()
}

// CheckInvariants verifies the ledger aggregates, the solvency of the
// pool and that every open reservation is covered by it.
func (c *Coordinator) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs []error
	if err := c.ledger.CheckInvariants(); err != nil {
		errs = append(errs, err)
	}
	if err := c.reserve.Check(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
