// Package policy gates new commitments on access control and the
// operational switches.
package policy

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/stakeerr"
)

type Violation struct {
	Code string
	Err  error
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(sentinel *stakeerr.Error, format string, args ...any) {
	d.Violations = append(d.Violations, Violation{
		Code: sentinel.Code,
		Err:  stakeerr.Wrap(sentinel, format, args...),
	})
	d.Allowed = false
}

// Err returns the first violation, or nil when the intent is allowed.
func (d Decision) Err() error {
	if d.Allowed || len(d.Violations) == 0 {
		return nil
	}
	return d.Violations[0].Err
}

// Intent describes a position someone wants to open.
type Intent struct {
	Owner       ledger.AccountID
	Value       *uint256.Int
	Now         time.Time
	TotalStaked *uint256.Int
}

// Evaluate runs every check and collects each violation, access checks
// first.
func Evaluate(in Intent, auth Authorization, flags Flags) Decision {
	d := Decision{Allowed: true}

	if flags.Paused() {
		d.add(stakeerr.ErrPaused, "new positions are paused")
	}
	if flags.EmergencyModeActive() {
		d.add(stakeerr.ErrEmergencyMode, "new positions are disabled")
	}
	if auth.IsBlacklisted(in.Owner) {
		d.add(stakeerr.ErrBlacklisted, "%s", in.Owner.Hex())
	}
	if auth.WhitelistOnlyModeActive() && !auth.IsWhitelisted(in.Owner) {
		d.add(stakeerr.ErrNotWhitelisted, "%s", in.Owner.Hex())
	}
	if !flags.StakingWindowOpen(in.Now) {
		d.add(stakeerr.ErrStakingWindowClosed, "at %s", in.Now.UTC().Format(time.RFC3339))
	}

	if limit := flags.Capacity(); !limit.IsZero() {
		total := in.TotalStaked
		if total == nil {
			total = new(uint256.Int)
		}
		next, overflow := new(uint256.Int).AddOverflow(total, in.Value)
		if overflow || next.Gt(limit) {
			d.add(stakeerr.ErrCapacityExceeded, "staked %s + %s exceeds capacity %s",
				total.Dec(), in.Value.Dec(), limit.Dec())
		}
	}

	return d
}

// Remaining is the capacity left, or nil when there is no cap.
func Remaining(flags Flags, totalStaked *uint256.Int) *uint256.Int {
	limit := flags.Capacity()
	if limit.IsZero() {
		return nil
	}
	if totalStaked.Gt(limit) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(limit, totalStaked)
}
