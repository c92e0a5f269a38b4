package ledger

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountID identifies a staker.
type AccountID = common.Address

type Position struct {
	ID            uint64
	Owner         AccountID
	Principal     *uint256.Int
	LockDuration  time.Duration
	OpenedAt      time.Time
	LastAccrualAt time.Time
	RateBps       uint32 // snapshotted at open
	Closed        bool
	ClosedAt      time.Time

	// Reserved is the part of the open-time reward reservation that has
	// not been paid out yet.
	Reserved *uint256.Int
}

// MaturesAt is the instant the lock ends.
func (p *Position) MaturesAt() time.Time {
	return p.OpenedAt.Add(p.LockDuration)
}

// accrualEnd caps now at maturity.
func (p *Position) accrualEnd(now time.Time) time.Time {
	if m := p.MaturesAt(); now.After(m) {
		return m
	}
	return now
}

func (p *Position) clone() *Position {
	c := *p
	c.Principal = p.Principal.Clone()
	c.Reserved = p.Reserved.Clone()
	return &c
}

// Account is the cached aggregate over one owner's open positions.
type Account struct {
	TotalStaked   *uint256.Int
	PositionCount int
}

func (a Account) clone() Account {
	return Account{TotalStaked: a.TotalStaked.Clone(), PositionCount: a.PositionCount}
}
