// Package journal keeps an audit trail of committed ledger operations.
package journal

import (
	"time"

	"github.com/holiman/uint256"
)

type EventKind string

const (
	EventOpen          EventKind = "open"
	EventClaim         EventKind = "claim"
	EventClose         EventKind = "close"
	EventEmergencyExit EventKind = "emergency_exit"
	EventDeposit       EventKind = "deposit"
	EventWithdraw      EventKind = "withdraw"
)

// EventRecord is one committed operation. Amounts are base units.
type EventRecord struct {
	EventID      string
	Kind         EventKind
	PositionID   uint64 // zero for pool events
	Account      string // hex address
	Principal    *uint256.Int
	Reward       *uint256.Int
	LockDuration time.Duration
	RateBps      uint32
	Time         time.Time
}

// ReserveSnapshot is the pool and ledger totals after an operation.
type ReserveSnapshot struct {
	Time               time.Time
	PoolBalance        *uint256.Int
	TotalPendingReward *uint256.Int
	TotalStaked        *uint256.Int
	HistoricalStaked   *uint256.Int
}

type Journal interface {
	RecordEvent(EventRecord) error
	RecordReserve(ReserveSnapshot) error
	Close() error
}

// Discard drops everything.
var Discard Journal = discard{}

type discard struct{}

func (discard) RecordEvent(EventRecord) error       { return nil }
func (discard) RecordReserve(ReserveSnapshot) error { return nil }
func (discard) Close() error                        { return nil }

func dec(a *uint256.Int) string {
	if a == nil {
		return "0"
	}
	return a.Dec()
}
