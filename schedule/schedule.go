package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/stakeledger/stakeerr"
)

const (
	Day             = 24 * time.Hour
	MinLockDuration = Day
	MaxLockDuration = 730 * Day

	// MaxRateBps is 100% per year.
	MaxRateBps uint32 = 10000
)

// LockOption is a lock duration and the annual reward rate it pays.
type LockOption struct {
	Duration time.Duration `json:"duration" yaml:"duration"`
	RateBps  uint32        `json:"rate_bps" yaml:"rate_bps"`
}

func (o LockOption) Validate() error {
	if o.Duration < MinLockDuration || o.Duration > MaxLockDuration || o.Duration%time.Second != 0 {
		return stakeerr.Wrap(stakeerr.ErrInvalidLockDuration, "%s outside [%s, %s] or not whole seconds",
			o.Duration, MinLockDuration, MaxLockDuration)
	}
	if o.RateBps > MaxRateBps {
		return stakeerr.Wrap(stakeerr.ErrInvalidRate, "%d bps exceeds %d", o.RateBps, MaxRateBps)
	}
	return nil
}

// Table is the set of lock options offered to new positions plus the
// rates of options that were retired or re-rated while positions may
// still be open under them. Historical entries are never overwritten.
type Table struct {
	mu         sync.RWMutex
	active     map[time.Duration]uint32
	historical map[time.Duration]uint32
}

func New(opts ...LockOption) (*Table, error) {
	t := &Table{
		active:     make(map[time.Duration]uint32),
		historical: make(map[time.Duration]uint32),
	}
	for _, o := range opts {
		if err := t.Add(o); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add activates a new lock option.
func (t *Table) Add(o LockOption) error {
	if err := o.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[o.Duration]; ok {
		return stakeerr.Wrap(stakeerr.ErrDuplicateLockDuration, "%s", o.Duration)
	}
	t.active[o.Duration] = o.RateBps
	return nil
}

// SetRate changes the rate of an active option. The previous rate is
// kept in the historical table.
func (t *Table) SetRate(d time.Duration, rateBps uint32) error {
	if err := (LockOption{Duration: d, RateBps: rateBps}).Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	old, ok := t.active[d]
	if !ok {
		return stakeerr.Wrap(stakeerr.ErrUnknownLockDuration, "%s", d)
	}
	t.retireLocked(d, old)
	t.active[d] = rateBps
	return nil
}

// Remove retires an active option into the historical table.
func (t *Table) Remove(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate, ok := t.active[d]
	if !ok {
		return stakeerr.Wrap(stakeerr.ErrUnknownLockDuration, "%s", d)
	}
	t.retireLocked(d, rate)
	delete(t.active, d)
	return nil
}

func (t *Table) retireLocked(d time.Duration, rate uint32) {
	if _, ok := t.historical[d]; ok {
		return
	}
	t.historical[d] = rate
}

// ActiveRate returns the rate for new positions with duration d.
func (t *Table) ActiveRate(d time.Duration) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rate, ok := t.active[d]
	if !ok {
		return 0, stakeerr.Wrap(stakeerr.ErrInvalidLockDuration, "%s is not offered", d)
	}
	return rate, nil
}

// RateFor checks the active set first, then the historical table.
func (t *Table) RateFor(d time.Duration) (uint32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if rate, ok := t.active[d]; ok {
		return rate, nil
	}
	if rate, ok := t.historical[d]; ok {
		return rate, nil
	}
	return 0, stakeerr.Wrap(stakeerr.ErrUnknownLockDuration, "%s", d)
}

// Known reports whether d has an active or historical rate.
func (t *Table) Known(d time.Duration) bool {
	_, err := t.RateFor(d)
	return err == nil
}

// Options lists the active set ordered by duration.
func (t *Table) Options() []LockOption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sorted(t.active)
}

// Historical lists retired rates ordered by duration.
func (t *Table) Historical() []LockOption {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sorted(t.historical)
}

func sorted(m map[time.Duration]uint32) []LockOption {
	out := make([]LockOption, 0, len(m))
	for d, r := range m {
		out = append(out, LockOption{Duration: d, RateBps: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration < out[j].Duration })
	return out
}

func (o LockOption) String() string {
	return fmt.Sprintf("%dd@%dbps", o.Duration/Day, o.RateBps)
}
