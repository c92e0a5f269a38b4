package staking

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/id"
	"github.com/rustyeddy/stakeledger/journal"
	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/reserve"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/stakeerr"
)

// Deposit records external funding of the reward pool.
func (c *Coordinator) Deposit(ctx context.Context, from ledger.AccountID, amt *uint256.Int) error {
	_, err := c.enter(ctx)
	if err != nil {
		return c.reject(OpDeposit, err)
	}
	defer c.exit()

	if amt == nil || amt.IsZero() {
		return c.reject(OpDeposit, stakeerr.Wrap(stakeerr.ErrInvalidAmount, "zero deposit"))
	}
	if err := c.reserve.Deposit(amt); err != nil {
		return c.reject(OpDeposit, err)
	}

	now := c.clock.Now()
	c.log.Info().Str("from", from.Hex()).Str("amount", amt.Dec()).Msg("pool funded")
	c.commit(OpDeposit, journal.EventRecord{
		EventID:   newEventID(now),
		Kind:      journal.EventDeposit,
		Account:   from.Hex(),
		Principal: amt.Clone(),
		Reward:    new(uint256.Int),
		Time:      now,
	})
	return nil
}

// WithdrawExcess moves unreserved pool balance to an admin-chosen
// account. Funds reserved for open positions cannot be withdrawn.
func (c *Coordinator) WithdrawExcess(ctx context.Context, caller, to ledger.AccountID, amt *uint256.Int) error {
	ctx, err := c.enter(ctx)
	if err != nil {
		return c.reject(OpWithdraw, err)
	}
	defer c.exit()

	if !c.auth.IsAdmin(caller) {
		return c.reject(OpWithdraw, stakeerr.Wrap(stakeerr.ErrUnauthorized, "%s is not an admin", caller.Hex()))
	}
	if amt == nil || amt.IsZero() {
		return c.reject(OpWithdraw, stakeerr.Wrap(stakeerr.ErrInvalidAmount, "zero withdrawal"))
	}

	now := c.clock.Now()
	projected, err := c.ledger.PendingTotal(now)
	if err != nil {
		return c.reject(OpWithdraw, err)
	}

	rs := c.reserve.State()
	if err := c.reserve.WithdrawExcess(amt, projected); err != nil {
		return c.reject(OpWithdraw, err)
	}
	if err := c.pay(ctx, to, amt); err != nil {
		c.reserve.Restore(rs)
		c.log.Warn().Str("op", OpWithdraw).Err(err).Msg("rolled back")
		return c.reject(OpWithdraw, err)
	}

	c.log.Info().Str("to", to.Hex()).Str("amount", amt.Dec()).Msg("excess withdrawn")
	c.commit(OpWithdraw, journal.EventRecord{
		EventID:   newEventID(now),
		Kind:      journal.EventWithdraw,
		Account:   to.Hex(),
		Principal: amt.Clone(),
		Reward:    new(uint256.Int),
		Time:      now,
	})
	return nil
}

// AddLockOption offers a new lock duration to new positions.
func (c *Coordinator) AddLockOption(caller ledger.AccountID, o schedule.LockOption) error {
	if !c.auth.IsAdmin(caller) {
		return stakeerr.Wrap(stakeerr.ErrUnauthorized, "%s is not an admin", caller.Hex())
	}
	if err := c.rates.Add(o); err != nil {
		return err
	}
	c.log.Info().Stringer("option", o).Msg("lock option added")
	return nil
}

// SetLockRate re-rates an active option. Open positions keep the rate
// they were opened with.
func (c *Coordinator) SetLockRate(caller ledger.AccountID, d time.Duration, rateBps uint32) error {
	if !c.auth.IsAdmin(caller) {
		return stakeerr.Wrap(stakeerr.ErrUnauthorized, "%s is not an admin", caller.Hex())
	}
	if err := c.rates.SetRate(d, rateBps); err != nil {
		return err
	}
	c.log.Info().Dur("duration", d).Uint32("rate_bps", rateBps).Msg("lock rate changed")
	return nil
}

// RemoveLockOption stops offering d. Its rate stays in the historical
// table.
func (c *Coordinator) RemoveLockOption(caller ledger.AccountID, d time.Duration) error {
	if !c.auth.IsAdmin(caller) {
		return stakeerr.Wrap(stakeerr.ErrUnauthorized, "%s is not an admin", caller.Hex())
	}
	if err := c.rates.Remove(d); err != nil {
		return err
	}
	c.log.Info().Dur("duration", d).Msg("lock option retired")
	return nil
}

// Switchable is implemented by Flags the coordinator can toggle.
type Switchable interface {
	SetPaused(bool)
	SetEmergency(bool)
}

// SetPaused halts or resumes open, claim and close.
func (c *Coordinator) SetPaused(caller ledger.AccountID, v bool) error {
	sw, err := c.switches(caller)
	if err != nil {
		return err
	}
	sw.SetPaused(v)
	c.log.Warn().Bool("paused", v).Str("by", caller.Hex()).Msg("pause switched")
	return nil
}

// SetEmergency enables emergency exit and disables everything else.
func (c *Coordinator) SetEmergency(caller ledger.AccountID, v bool) error {
	sw, err := c.switches(caller)
	if err != nil {
		return err
	}
	sw.SetEmergency(v)
	c.log.Warn().Bool("emergency", v).Str("by", caller.Hex()).Msg("emergency mode switched")
	return nil
}

func (c *Coordinator) switches(caller ledger.AccountID) (Switchable, error) {
	if !c.auth.IsAdmin(caller) {
		return nil, stakeerr.Wrap(stakeerr.ErrUnauthorized, "%s is not an admin", caller.Hex())
	}
	sw, ok := c.flags.(Switchable)
	if !ok {
		return nil, errors.New("staking: operational flags are read-only")
	}
	return sw, nil
}

// ReserveState returns the pool counters.
func (c *Coordinator) ReserveState() reserve.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reserve.State()
}

func newEventID(at time.Time) string { return id.New(at) }
