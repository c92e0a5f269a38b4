package policy

import (
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/ledger"
)

// Authorization answers membership questions about an account. Access
// control lives outside the ledger; this is all the ledger asks of it.
type Authorization interface {
	IsAdmin(ledger.AccountID) bool
	IsWhitelisted(ledger.AccountID) bool
	IsBlacklisted(ledger.AccountID) bool
	WhitelistOnlyModeActive() bool
}

// Flags are the operational switches the coordinator consults.
type Flags interface {
	Paused() bool
	EmergencyModeActive() bool
	StakingWindowOpen(now time.Time) bool
	// Capacity is the cap on total staked principal; zero means no cap.
	Capacity() *uint256.Int
}

// Switches is a mutex-guarded Flags implementation.
type Switches struct {
	mu        sync.RWMutex
	paused    bool
	emergency bool
	windowEnd time.Time
	capacity  *uint256.Int
}

// NewSwitches builds Switches; a zero windowEnd keeps the window open
// forever and a nil capacity means no cap.
func NewSwitches(capacity *uint256.Int, windowEnd time.Time) *Switches {
	s := &Switches{windowEnd: windowEnd, capacity: new(uint256.Int)}
	if capacity != nil {
		s.capacity = capacity.Clone()
	}
	return s
}

func (s *Switches) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Switches) EmergencyModeActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emergency
}

func (s *Switches) StakingWindowOpen(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windowEnd.IsZero() || now.Before(s.windowEnd)
}

func (s *Switches) Capacity() *uint256.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity.Clone()
}

func (s *Switches) SetPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

func (s *Switches) SetEmergency(v bool) {
	s.mu.Lock()
	s.emergency = v
	s.mu.Unlock()
}

func (s *Switches) SetWindowEnd(t time.Time) {
	s.mu.Lock()
	s.windowEnd = t
	s.mu.Unlock()
}

func (s *Switches) SetCapacity(c *uint256.Int) {
	s.mu.Lock()
	if c == nil {
		s.capacity = new(uint256.Int)
	} else {
		s.capacity = c.Clone()
	}
	s.mu.Unlock()
}
