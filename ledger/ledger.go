// Package ledger owns staking positions, per-account aggregates and the
// ledger-wide totals.
//
// A Ledger is not safe for concurrent use; the staking coordinator
// serializes every call.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/rustyeddy/stakeledger/accrual"
	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/stakeerr"
)

// DefaultGracePeriod absorbs clock skew at lock maturity.
const DefaultGracePeriod = 15 * time.Minute

type Config struct {
	MinStake    *uint256.Int
	GracePeriod time.Duration
}

type Ledger struct {
	cfg   Config
	rates *schedule.Table

	nextID    uint64
	positions map[uint64]*Position
	byOwner   map[AccountID][]uint64
	accounts  map[AccountID]Account

	totalStaked      *uint256.Int
	historicalStaked *uint256.Int
	openCount        int
}

func New(cfg Config, rates *schedule.Table) *Ledger {
	if cfg.MinStake == nil || cfg.MinStake.IsZero() {
		cfg.MinStake = uint256.NewInt(1)
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	return &Ledger{
		cfg:              cfg,
		rates:            rates,
		nextID:           1,
		positions:        make(map[uint64]*Position),
		byOwner:          make(map[AccountID][]uint64),
		accounts:         make(map[AccountID]Account),
		totalStaked:      new(uint256.Int),
		historicalStaked: new(uint256.Int),
	}
}

// Open inserts a new position and returns its id. reserved is the reward
// reservation already taken against the pool for the full term.
func (l *Ledger) Open(owner AccountID, principal *uint256.Int, lock time.Duration, rateBps uint32, reserved *uint256.Int, now time.Time) (uint64, error) {
	if principal == nil || principal.Lt(l.cfg.MinStake) {
		return 0, stakeerr.Wrap(stakeerr.ErrInvalidAmount, "principal %s below minimum %s",
			amount.Of(principal).Dec(), l.cfg.MinStake.Dec())
	}
	if !l.rates.Known(lock) {
		return 0, stakeerr.Wrap(stakeerr.ErrInvalidLockDuration, "%s has no rate", lock)
	}

	total, overflow := new(uint256.Int).AddOverflow(l.totalStaked, principal)
	if overflow {
		return 0, stakeerr.Wrap(stakeerr.ErrArithmeticOverflow, "total staked")
	}
	hist, overflow := new(uint256.Int).AddOverflow(l.historicalStaked, principal)
	if overflow {
		return 0, stakeerr.Wrap(stakeerr.ErrArithmeticOverflow, "historical total staked")
	}

	id := l.nextID
	l.nextID++

	l.positions[id] = &Position{
		ID:            id,
		Owner:         owner,
		Principal:     principal.Clone(),
		LockDuration:  lock,
		OpenedAt:      now,
		LastAccrualAt: now,
		RateBps:       rateBps,
		Reserved:      amount.Of(reserved),
	}
	l.byOwner[owner] = append(l.byOwner[owner], id)

	acct := l.account(owner)
	acct.TotalStaked.Add(acct.TotalStaked, principal)
	acct.PositionCount++
	l.accounts[owner] = acct

	l.totalStaked = total
	l.historicalStaked = hist
	l.openCount++
	return id, nil
}

// Accrue advances the position's accrual checkpoint to now (capped at
// maturity) and returns the reward owed for the slice. Nothing is paid.
func (l *Ledger) Accrue(id uint64, now time.Time) (*uint256.Int, error) {
	p, err := l.open(id)
	if err != nil {
		return nil, err
	}
	return l.accrueLocked(p, now)
}

func (l *Ledger) accrueLocked(p *Position, now time.Time) (*uint256.Int, error) {
	// Reward counts whole seconds; the checkpoint moves by exactly what
	// was paid so the sub-second remainder carries into the next slice.
	elapsed := p.accrualEnd(now).Sub(p.LastAccrualAt).Truncate(time.Second)
	if elapsed <= 0 {
		return new(uint256.Int), nil
	}

	owed, err := accrual.Reward(p.Principal, elapsed, p.LockDuration, p.RateBps)
	if err != nil {
		return nil, fmt.Errorf("accrue position %d: %w", p.ID, err)
	}

	p.LastAccrualAt = p.LastAccrualAt.Add(elapsed)
	p.Reserved = amount.SubFloor(p.Reserved, owed)
	return owed, nil
}

// CloseResult is what a normal close releases.
type CloseResult struct {
	Principal *uint256.Int
	Reward    *uint256.Int
	// Residual is reservation left over after the final slice; it is
	// owed to nobody.
	Residual *uint256.Int
}

// Close accrues the final slice and retires the position. The lock must
// have matured, less the grace period.
func (l *Ledger) Close(id uint64, now time.Time) (CloseResult, error) {
	p, err := l.open(id)
	if err != nil {
		return CloseResult{}, err
	}
	unlock := p.MaturesAt().Add(-l.cfg.GracePeriod)
	if now.Before(unlock) {
		return CloseResult{}, stakeerr.Wrap(stakeerr.ErrStillLocked, "position %d unlocks at %s",
			id, p.MaturesAt().UTC().Format(time.RFC3339))
	}

	reward, err := l.accrueLocked(p, now)
	if err != nil {
		return CloseResult{}, err
	}

	res := CloseResult{
		Principal: p.Principal.Clone(),
		Reward:    reward,
		Residual:  p.Reserved.Clone(),
	}
	p.Reserved = new(uint256.Int)
	l.retire(p, now)
	return res, nil
}

// EmergencyClose retires the position without accruing. The unpaid
// reservation is left on the position and forfeited.
func (l *Ledger) EmergencyClose(id uint64, now time.Time) (*uint256.Int, error) {
	p, err := l.open(id)
	if err != nil {
		return nil, err
	}
	principal := p.Principal.Clone()
	l.retire(p, now)
	return principal, nil
}

func (l *Ledger) retire(p *Position, now time.Time) {
	p.Closed = true
	p.ClosedAt = now

	acct := l.account(p.Owner)
	acct.TotalStaked = amount.SubFloor(acct.TotalStaked, p.Principal)
	acct.PositionCount--
	if acct.PositionCount <= 0 {
		delete(l.accounts, p.Owner)
	} else {
		l.accounts[p.Owner] = acct
	}

	l.totalStaked = amount.SubFloor(l.totalStaked, p.Principal)
	l.openCount--
}

// Pending projects the reward accrue would return at now without
// mutating anything.
func (l *Ledger) Pending(id uint64, now time.Time) (*uint256.Int, error) {
	p, ok := l.positions[id]
	if !ok {
		return nil, stakeerr.Wrap(stakeerr.ErrPositionNotFound, "position %d", id)
	}
	if p.Closed {
		return new(uint256.Int), nil
	}
	end := p.accrualEnd(now)
	if !end.After(p.LastAccrualAt) {
		return new(uint256.Int), nil
	}
	return accrual.Reward(p.Principal, end.Sub(p.LastAccrualAt), p.LockDuration, p.RateBps)
}

// PendingTotal sums Pending over every open position.
func (l *Ledger) PendingTotal(now time.Time) (*uint256.Int, error) {
	sum := new(uint256.Int)
	for id, p := range l.positions {
		if p.Closed {
			continue
		}
		owed, err := l.Pending(id, now)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, owed)
	}
	return sum, nil
}

func (l *Ledger) open(id uint64) (*Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return nil, stakeerr.Wrap(stakeerr.ErrPositionNotFound, "position %d", id)
	}
	if p.Closed {
		return nil, stakeerr.Wrap(stakeerr.ErrAlreadyClosed, "position %d", id)
	}
	return p, nil
}

func (l *Ledger) account(owner AccountID) Account {
	if a, ok := l.accounts[owner]; ok {
		return a.clone()
	}
	return Account{TotalStaked: new(uint256.Int)}
}

// Position returns a copy of the position.
func (l *Ledger) Position(id uint64) (Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return Position{}, stakeerr.Wrap(stakeerr.ErrPositionNotFound, "position %d", id)
	}
	return *p.clone(), nil
}

func (l *Ledger) OwnerOf(id uint64) (AccountID, error) {
	p, ok := l.positions[id]
	if !ok {
		return AccountID{}, stakeerr.Wrap(stakeerr.ErrPositionNotFound, "position %d", id)
	}
	return p.Owner, nil
}

// PositionsOf returns copies of every position the owner ever opened,
// oldest first.
func (l *Ledger) PositionsOf(owner AccountID) []Position {
	ids := l.byOwner[owner]
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *l.positions[id].clone())
	}
	return out
}

// OpenPositionsOf is PositionsOf restricted to open positions.
func (l *Ledger) OpenPositionsOf(owner AccountID) []Position {
	var out []Position
	for _, id := range l.byOwner[owner] {
		if p := l.positions[id]; !p.Closed {
			out = append(out, *p.clone())
		}
	}
	return out
}

func (l *Ledger) Account(owner AccountID) Account {
	return l.account(owner)
}

// Owners lists every account that ever opened a position.
func (l *Ledger) Owners() []AccountID {
	out := make([]AccountID, 0, len(l.byOwner))
	for o := range l.byOwner {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (l *Ledger) TotalStaked() *uint256.Int      { return l.totalStaked.Clone() }
func (l *Ledger) HistoricalStaked() *uint256.Int { return l.historicalStaked.Clone() }
func (l *Ledger) OpenCount() int                 { return l.openCount }

// CheckInvariants verifies the cached aggregates against the positions.
func (l *Ledger) CheckInvariants() error {
	perOwner := make(map[AccountID]*uint256.Int)
	counts := make(map[AccountID]int)
	total := new(uint256.Int)
	open := 0

	for _, p := range l.positions {
		if p.Closed {
			continue
		}
		if p.Principal.IsZero() {
			return fmt.Errorf("position %d: open with zero principal", p.ID)
		}
		if p.LastAccrualAt.After(p.MaturesAt()) {
			return fmt.Errorf("position %d: accrued past maturity", p.ID)
		}
		sum, ok := perOwner[p.Owner]
		if !ok {
			sum = new(uint256.Int)
			perOwner[p.Owner] = sum
		}
		sum.Add(sum, p.Principal)
		counts[p.Owner]++
		total.Add(total, p.Principal)
		open++
	}

	for owner, acct := range l.accounts {
		want, ok := perOwner[owner]
		if !ok {
			want = new(uint256.Int)
		}
		if !acct.TotalStaked.Eq(want) || acct.PositionCount != counts[owner] {
			return fmt.Errorf("account %s: aggregate %s/%d, positions %s/%d",
				owner.Hex(), acct.TotalStaked.Dec(), acct.PositionCount, want.Dec(), counts[owner])
		}
		if acct.TotalStaked.Gt(l.totalStaked) {
			return fmt.Errorf("account %s: staked above ledger total", owner.Hex())
		}
	}
	for owner := range perOwner {
		if _, ok := l.accounts[owner]; !ok {
			return fmt.Errorf("account %s: missing aggregate", owner.Hex())
		}
	}
	if !total.Eq(l.totalStaked) || open != l.openCount {
		return fmt.Errorf("ledger total %s/%d, positions %s/%d", l.totalStaked.Dec(), l.openCount, total.Dec(), open)
	}
	if l.historicalStaked.Lt(l.totalStaked) {
		return fmt.Errorf("historical total %s below total %s", l.historicalStaked.Dec(), l.totalStaked.Dec())
	}
	return nil
}
