package staking

import (
	"context"
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/accrual"
	"github.com/rustyeddy/stakeledger/journal"
	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/policy"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/stakeerr"
)

const (
	OpOpen          = "open"
	OpClose         = "close"
	OpClaim         = "claim"
	OpEmergencyExit = "emergency_exit"
	OpDeposit       = "deposit"
	OpWithdraw      = "withdraw"
)

// OpenPosition commits value for lock and reserves the full-term reward
// against the pool. The value is assumed to be in custody already.
func (c *Coordinator) OpenPosition(ctx context.Context, owner ledger.AccountID, value *uint256.Int, lock time.Duration) (uint64, error) {
	ctx, err := c.enter(ctx)
	if err != nil {
		return 0, c.reject(OpOpen, err)
	}
	defer c.exit()

	if value == nil || value.IsZero() {
		return 0, c.reject(OpOpen, stakeerr.Wrap(stakeerr.ErrInvalidAmount, "zero value"))
	}

	now := c.clock.Now()
	decision := policy.Evaluate(policy.Intent{
		Owner:       owner,
		Value:       value,
		Now:         now,
		TotalStaked: c.ledger.TotalStaked(),
	}, c.auth, c.flags)
	if err := decision.Err(); err != nil {
		return 0, c.reject(OpOpen, err)
	}

	rate, err := c.rates.ActiveRate(lock)
	if err != nil {
		return 0, c.reject(OpOpen, err)
	}
	rate = c.bonusRate(owner, rate)

	projected, err := accrual.FullTerm(value, lock, rate)
	if err != nil {
		return 0, c.reject(OpOpen, err)
	}
	if err := c.reserve.Reserve(projected); err != nil {
		return 0, c.reject(OpOpen, err)
	}

	id, err := c.ledger.Open(owner, value, lock, rate, projected, now)
	if err != nil {
		if uerr := c.reserve.Unreserve(projected); uerr != nil {
			c.log.Error().Err(uerr).Msg("undo reservation")
		}
		return 0, c.reject(OpOpen, err)
	}

	c.log.Debug().
		Uint64("position", id).
		Str("owner", owner.Hex()).
		Str("principal", value.Dec()).
		Dur("lock", lock).
		Uint32("rate_bps", rate).
		Str("reserved", projected.Dec()).
		Msg("position opened")

	c.commit(OpOpen, journal.EventRecord{
		EventID:      newEventID(now),
		Kind:         journal.EventOpen,
		PositionID:   id,
		Account:      owner.Hex(),
		Principal:    value.Clone(),
		Reward:       projected,
		LockDuration: lock,
		RateBps:      rate,
		Time:         now,
	})
	return id, nil
}

func (c *Coordinator) bonusRate(owner ledger.AccountID, rate uint32) uint32 {
	if c.cfg.WhitelistBonusBps == 0 || !c.auth.IsWhitelisted(owner) {
		return rate
	}
	rate += c.cfg.WhitelistBonusBps
	if rate > schedule.MaxRateBps {
		rate = schedule.MaxRateBps
	}
	return rate
}

// ClosePosition returns principal plus the final reward slice of a
// matured position. A position that is already closed is reported as
// such before emergency mode or pause is considered.
func (c *Coordinator) ClosePosition(ctx context.Context, owner ledger.AccountID, id uint64) (principal, reward *uint256.Int, err error) {
	ctx, err = c.enter(ctx)
	if err != nil {
		return nil, nil, c.reject(OpClose, err)
	}
	defer c.exit()

	if err := c.checkNotClosed(id); err != nil {
		return nil, nil, c.reject(OpClose, err)
	}
	if c.flags.EmergencyModeActive() {
		return nil, nil, c.reject(OpClose, stakeerr.Wrap(stakeerr.ErrEmergencyMode, "use emergency exit"))
	}
	if c.flags.Paused() {
		return nil, nil, c.reject(OpClose, stakeerr.ErrPaused)
	}
	if err := c.checkOwner(id, owner); err != nil {
		return nil, nil, c.reject(OpClose, err)
	}

	now := c.clock.Now()
	snap, err := c.ledger.Snapshot(id)
	if err != nil {
		return nil, nil, c.reject(OpClose, err)
	}
	rs := c.reserve.State()

	res, err := c.ledger.Close(id, now)
	if err != nil {
		return nil, nil, c.reject(OpClose, err)
	}
	if err := c.reserve.Release(res.Reward); err != nil {
		return nil, nil, c.rollback(OpClose, id, snap, rs, err)
	}
	if err := c.reserve.Unreserve(res.Residual); err != nil {
		return nil, nil, c.rollback(OpClose, id, snap, rs, err)
	}

	payout := new(uint256.Int).Add(res.Principal, res.Reward)
	if err := c.pay(ctx, owner, payout); err != nil {
		return nil, nil, c.rollback(OpClose, id, snap, rs, err)
	}

	pos, _ := c.ledger.Position(id)
	c.log.Debug().
		Uint64("position", id).
		Str("principal", res.Principal.Dec()).
		Str("reward", res.Reward.Dec()).
		Str("released", res.Residual.Dec()).
		Msg("position closed")

	c.commit(OpClose, journal.EventRecord{
		EventID:      newEventID(now),
		Kind:         journal.EventClose,
		PositionID:   id,
		Account:      owner.Hex(),
		Principal:    res.Principal,
		Reward:       res.Reward,
		LockDuration: pos.LockDuration,
		RateBps:      pos.RateBps,
		Time:         now,
	})
	return res.Principal, res.Reward, nil
}

// ClaimReward pays the reward accrued since the last checkpoint and
// leaves the position open.
func (c *Coordinator) ClaimReward(ctx context.Context, owner ledger.AccountID, id uint64) (*uint256.Int, error) {
	ctx, err := c.enter(ctx)
	if err != nil {
		return nil, c.reject(OpClaim, err)
	}
	defer c.exit()

	if err := c.checkNotClosed(id); err != nil {
		return nil, c.reject(OpClaim, err)
	}
	if c.flags.EmergencyModeActive() {
		return nil, c.reject(OpClaim, stakeerr.ErrEmergencyMode)
	}
	if c.flags.Paused() {
		return nil, c.reject(OpClaim, stakeerr.ErrPaused)
	}
	if err := c.checkOwner(id, owner); err != nil {
		return nil, c.reject(OpClaim, err)
	}

	now := c.clock.Now()
	snap, err := c.ledger.Snapshot(id)
	if err != nil {
		return nil, c.reject(OpClaim, err)
	}
	rs := c.reserve.State()

	owed, err := c.ledger.Accrue(id, now)
	if err != nil {
		return nil, c.reject(OpClaim, err)
	}
	if owed.IsZero() {
		// the checkpoint may have moved on a slice too small to pay
		c.ledger.Restore(snap)
		return nil, c.reject(OpClaim, stakeerr.Wrap(stakeerr.ErrNoReward, "position %d", id))
	}
	if err := c.reserve.Release(owed); err != nil {
		return nil, c.rollback(OpClaim, id, snap, rs, err)
	}
	if err := c.pay(ctx, owner, owed); err != nil {
		return nil, c.rollback(OpClaim, id, snap, rs, err)
	}

	pos, _ := c.ledger.Position(id)
	c.log.Debug().Uint64("position", id).Str("reward", owed.Dec()).Msg("reward claimed")

	c.commit(OpClaim, journal.EventRecord{
		EventID:      newEventID(now),
		Kind:         journal.EventClaim,
		PositionID:   id,
		Account:      owner.Hex(),
		Principal:    pos.Principal,
		Reward:       owed,
		LockDuration: pos.LockDuration,
		RateBps:      pos.RateBps,
		Time:         now,
	})
	return owed, nil
}

// EmergencyExit returns principal only, at any time, while emergency
// mode is on. Unclaimed reward is forfeited and its reservation is not
// returned to the pool.
func (c *Coordinator) EmergencyExit(ctx context.Context, owner ledger.AccountID, id uint64) (*uint256.Int, error) {
	ctx, err := c.enter(ctx)
	if err != nil {
		return nil, c.reject(OpEmergencyExit, err)
	}
	defer c.exit()

	if err := c.checkNotClosed(id); err != nil {
		return nil, c.reject(OpEmergencyExit, err)
	}
	if !c.flags.EmergencyModeActive() {
		return nil, c.reject(OpEmergencyExit, stakeerr.ErrNotEmergencyMode)
	}
	if err := c.checkOwner(id, owner); err != nil {
		return nil, c.reject(OpEmergencyExit, err)
	}

	now := c.clock.Now()
	snap, err := c.ledger.Snapshot(id)
	if err != nil {
		return nil, c.reject(OpEmergencyExit, err)
	}
	rs := c.reserve.State()

	principal, err := c.ledger.EmergencyClose(id, now)
	if err != nil {
		return nil, c.reject(OpEmergencyExit, err)
	}
	if err := c.pay(ctx, owner, principal); err != nil {
		return nil, c.rollback(OpEmergencyExit, id, snap, rs, err)
	}

	pos, _ := c.ledger.Position(id)
	c.log.Debug().
		Uint64("position", id).
		Str("principal", principal.Dec()).
		Str("forfeited_reservation", pos.Reserved.Dec()).
		Msg("emergency exit")

	c.commit(OpEmergencyExit, journal.EventRecord{
		EventID:      newEventID(now),
		Kind:         journal.EventEmergencyExit,
		PositionID:   id,
		Account:      owner.Hex(),
		Principal:    principal,
		Reward:       new(uint256.Int),
		LockDuration: pos.LockDuration,
		RateBps:      pos.RateBps,
		Time:         now,
	})
	return principal, nil
}
