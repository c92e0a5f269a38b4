// Package accrual computes time-proportional staking rewards.
//
// Reward is pure: it reads nothing but its arguments, so the ledger uses
// it both for live accrual and for read-only pending-reward projections.
package accrual

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/stakeerr"
)

const (
	SecondsPerYear uint64 = 365 * 24 * 60 * 60
	BasisPoints    uint64 = 10000
)

var (
	// scale is the fixed-point unit used for the partial-year term.
	scale       = uint256.NewInt(1_000_000_000_000_000_000)
	basisPoints = uint256.NewInt(BasisPoints)
	secsPerYear = uint256.NewInt(SecondsPerYear)
)

// ErrBound means a computed reward exceeded principal*rate*ceil(years).
// It can only be caused by an arithmetic regression.
var ErrBound = errors.New("accrual: reward exceeds algebraic bound")

// Reward returns the reward owed on principal for elapsed time at
// rateBps per year. Elapsed time past lock earns nothing.
func Reward(principal *uint256.Int, elapsed, lock time.Duration, rateBps uint32) (*uint256.Int, error) {
	if principal == nil || principal.IsZero() || elapsed <= 0 || rateBps == 0 {
		return new(uint256.Int), nil
	}
	if lock > 0 && elapsed > lock {
		elapsed = lock
	}

	secs := uint64(elapsed / time.Second)
	years := secs / SecondsPerYear
	rem := secs % SecondsPerYear

	rate := uint256.NewInt(uint64(rateBps))

	// yearly = principal * rate / 10000, carried at 1e18 precision.
	pr, overflow := new(uint256.Int).MulOverflow(principal, rate)
	if overflow {
		return nil, overflowErr("principal*rate")
	}
	yearly, overflow := new(uint256.Int).MulDivOverflow(pr, scale, basisPoints)
	if overflow {
		return nil, overflowErr("yearly reward")
	}

	whole, overflow := new(uint256.Int).MulOverflow(yearly, uint256.NewInt(years))
	if overflow {
		return nil, overflowErr("whole years")
	}
	partial, overflow := new(uint256.Int).MulDivOverflow(yearly, uint256.NewInt(rem), secsPerYear)
	if overflow {
		return nil, overflowErr("partial year")
	}
	total, overflow := new(uint256.Int).AddOverflow(whole, partial)
	if overflow {
		return nil, overflowErr("total")
	}
	total.Div(total, scale)

	if err := checkBound(total, pr, secs); err != nil {
		return nil, err
	}
	return total, nil
}

// FullTerm is the reward for holding principal through the whole lock.
func FullTerm(principal *uint256.Int, lock time.Duration, rateBps uint32) (*uint256.Int, error) {
	return Reward(principal, lock, lock, rateBps)
}

// checkBound asserts reward <= principal*rate*ceil(secs/year)/10000.
func checkBound(reward, pr *uint256.Int, secs uint64) error {
	yearsCeil := secs / SecondsPerYear
	if secs%SecondsPerYear != 0 {
		yearsCeil++
	}
	bound, overflow := new(uint256.Int).MulDivOverflow(pr, uint256.NewInt(yearsCeil), basisPoints)
	if overflow {
		// reward itself fit, so the bound cannot be smaller than it.
		return nil
	}
	if reward.Gt(bound) {
		return fmt.Errorf("%w: reward %s bound %s", ErrBound, reward.Dec(), bound.Dec())
	}
	return nil
}

func overflowErr(what string) error {
	return stakeerr.Wrap(stakeerr.ErrArithmeticOverflow, "accrual %s", what)
}
