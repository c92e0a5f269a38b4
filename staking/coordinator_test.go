package staking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/stakeledger/accrual"
	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/clock"
	"github.com/rustyeddy/stakeledger/journal"
	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/policy"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/stakeerr"
	"github.com/rustyeddy/stakeledger/vault"
)

const day = schedule.Day

var (
	admin = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	t0    = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
)

func tokens(n uint64) *uint256.Int { return amount.Units(n, 18) }

type fixture struct {
	c        *Coordinator
	clock    *clock.Manual
	vault    *vault.Vault
	access   *policy.AccessList
	switches *policy.Switches
	rates    *schedule.Table
	journal  *memJournal
}

type fixtureOpt func(*Config)

func withPool(p *uint256.Int) fixtureOpt { return func(c *Config) { c.InitialPool = p } }

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	rates, err := schedule.New(
		schedule.LockOption{Duration: 30 * day, RateBps: 1000},
		schedule.LockOption{Duration: 180 * day, RateBps: 700},
		schedule.LockOption{Duration: 365 * day, RateBps: 1000},
	)
	require.NoError(t, err)

	cfg := Config{
		MinStake:    tokens(1),
		GracePeriod: ledger.DefaultGracePeriod,
		InitialPool: tokens(1000),
	}
	for _, o := range opts {
		o(&cfg)
	}

	f := &fixture{
		clock:    clock.NewManual(t0),
		vault:    vault.New(tokens(1_000_000)),
		access:   policy.NewAccessList(admin),
		switches: policy.NewSwitches(nil, time.Time{}),
		rates:    rates,
		journal:  &memJournal{},
	}
	f.c, err = New(cfg, Deps{
		Rates:    rates,
		Auth:     f.access,
		Flags:    f.switches,
		Clock:    f.clock,
		Transfer: f.vault,
	}, WithJournal(f.journal))
	require.NoError(t, err)
	return f
}

func (f *fixture) open(t *testing.T, owner ledger.AccountID, principal *uint256.Int, lock time.Duration) uint64 {
	t.Helper()
	id, err := f.c.OpenPosition(context.Background(), owner, principal, lock)
	require.NoError(t, err)
	return id
}

func (f *fixture) requireSound(t *testing.T) {
	t.Helper()
	require.NoError(t, f.c.CheckInvariants())
}

type memJournal struct {
	mu       sync.Mutex
	events   []journal.EventRecord
	reserves []journal.ReserveSnapshot
	fail     bool
}

func (j *memJournal) RecordEvent(e journal.EventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	j.events = append(j.events, e)
	return nil
}

func (j *memJournal) RecordReserve(s journal.ReserveSnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("disk full")
	}
	j.reserves = append(j.reserves, s)
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) kinds() []journal.EventKind {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.EventKind, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.Kind)
	}
	return out
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	rates, err := schedule.New()
	require.NoError(t, err)

	_, err = New(Config{}, Deps{Rates: rates})
	assert.Error(t, err)

	_, err = New(Config{}, Deps{
		Rates:    rates,
		Auth:     policy.NewAccessList(),
		Flags:    policy.NewSwitches(nil, time.Time{}),
		Transfer: vault.New(nil),
	})
	assert.NoError(t, err)
}

func TestPendingRewardAfterThirtyDays(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.open(t, alice, tokens(100), 30*day)

	f.clock.Advance(30 * day)
	got, err := f.c.PendingReward(id)
	require.NoError(t, err)

	// 100 * 10% * 30/365 tokens
	want := new(uint256.Int).Div(tokens(300), uint256.NewInt(365))
	diff := new(uint256.Int)
	if got.Gt(want) {
		diff.Sub(got, want)
	} else {
		diff.Sub(want, got)
	}
	assert.True(t, diff.LtUint64(2), "got %s want %s", got.Dec(), want.Dec())
}

func TestPendingRewardCapsAtMaturity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.open(t, alice, tokens(100), 180*day)

	full, err := accrual.FullTerm(tokens(100), 180*day, 700)
	require.NoError(t, err)

	f.clock.Advance(400 * day)
	got, err := f.c.PendingReward(id)
	require.NoError(t, err)
	assert.Equal(t, full.Dec(), got.Dec())
}

func TestOpenRejectedWhenPoolCannotCover(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withPool(tokens(50)))

	// 600 at 10% for a year projects 60
	_, err := f.c.OpenPosition(context.Background(), alice, tokens(600), 365*day)
	require.Error(t, err)
	assert.ErrorIs(t, err, stakeerr.ErrInsufficientPool)
	assert.Equal(t, stakeerr.KindSolvency, stakeerr.KindOf(err))

	rs := f.c.ReserveState()
	assert.True(t, rs.TotalPendingReward.IsZero())
	assert.Equal(t, tokens(50).Dec(), rs.PoolBalance.Dec())
	assert.True(t, f.c.TotalStaked().IsZero())
	assert.Empty(t, f.c.PositionsOf(alice))
	assert.Empty(t, f.journal.kinds())
}

func TestCloseHonoursLockAndGrace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)

	f.clock.Advance(30*day - ledger.DefaultGracePeriod - time.Second)
	_, _, err := f.c.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrStillLocked)
	assert.Equal(t, stakeerr.KindState, stakeerr.KindOf(err))

	pos, err := f.c.Position(id)
	require.NoError(t, err)
	assert.False(t, pos.Closed)

	f.clock.Set(pos.MaturesAt())
	principal, reward, err := f.c.ClosePosition(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, tokens(100).Dec(), principal.Dec())

	full, err := accrual.FullTerm(tokens(100), 30*day, 1000)
	require.NoError(t, err)
	assert.Equal(t, full.Dec(), reward.Dec())

	paid := new(uint256.Int).Add(principal, reward)
	assert.Equal(t, paid.Dec(), f.vault.BalanceOf(alice).Dec())

	rs := f.c.ReserveState()
	assert.True(t, rs.TotalPendingReward.IsZero())
	assert.Equal(t, new(uint256.Int).Sub(tokens(1000), full).Dec(), rs.PoolBalance.Dec())
	assert.True(t, f.c.TotalStaked().IsZero())
	assert.Equal(t, tokens(100).Dec(), f.c.HistoricalStaked().Dec())
	f.requireSound(t)
}

func TestCloseWithinGraceWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.open(t, alice, tokens(100), 30*day)

	f.clock.Advance(30*day - ledger.DefaultGracePeriod)
	_, reward, err := f.c.ClosePosition(context.Background(), alice, id)
	require.NoError(t, err)

	// the final slice stops short of maturity; the rest of the
	// reservation goes back to the pool
	full, err := accrual.FullTerm(tokens(100), 30*day, 1000)
	require.NoError(t, err)
	assert.True(t, reward.Lt(full))
	assert.True(t, f.c.ReserveState().TotalPendingReward.IsZero())
	f.requireSound(t)
}

func TestFailedTransferLeavesPositionOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)

	before := f.c.ReserveState()
	beforePos, err := f.c.Position(id)
	require.NoError(t, err)

	boom := errors.New("custodian offline")
	f.vault.SetHook(func(context.Context, ledger.AccountID, *uint256.Int) error { return boom })

	f.clock.Advance(31 * day)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, stakeerr.ErrTransferFailed)
	assert.ErrorIs(t, err, boom)

	pos, err := f.c.Position(id)
	require.NoError(t, err)
	assert.False(t, pos.Closed)
	assert.Equal(t, beforePos.LastAccrualAt, pos.LastAccrualAt)
	assert.Equal(t, beforePos.Reserved.Dec(), pos.Reserved.Dec())

	after := f.c.ReserveState()
	assert.Equal(t, before.PoolBalance.Dec(), after.PoolBalance.Dec())
	assert.Equal(t, before.TotalPendingReward.Dec(), after.TotalPendingReward.Dec())
	assert.Equal(t, tokens(100).Dec(), f.c.TotalStaked().Dec())
	assert.Equal(t, 1, f.c.Account(alice).PositionCount)
	assert.Equal(t, []journal.EventKind{journal.EventOpen}, f.journal.kinds())
	f.requireSound(t)

	f.vault.SetHook(nil)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	require.NoError(t, err)
	f.requireSound(t)
}

func TestFailedClaimTransferRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 180*day)
	f.clock.Advance(10 * day)

	f.vault.SetHook(func(context.Context, ledger.AccountID, *uint256.Int) error {
		return errors.New("nope")
	})
	before := f.c.ReserveState()
	pending, err := f.c.PendingReward(id)
	require.NoError(t, err)

	_, err = f.c.ClaimReward(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrTransferFailed)

	again, err := f.c.PendingReward(id)
	require.NoError(t, err)
	assert.Equal(t, pending.Dec(), again.Dec())
	assert.Equal(t, before.TotalPendingReward.Dec(), f.c.ReserveState().TotalPendingReward.Dec())
}

func TestClaimPaysAccruedSlices(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 180*day)

	full, err := accrual.FullTerm(tokens(100), 180*day, 700)
	require.NoError(t, err)

	paid := new(uint256.Int)
	for i := 0; i < 4; i++ {
		f.clock.Advance(45 * day)
		owed, err := f.c.ClaimReward(ctx, alice, id)
		require.NoError(t, err)
		paid.Add(paid, owed)
		f.requireSound(t)
	}
	assert.True(t, paid.Cmp(full) <= 0)
	assert.Equal(t, paid.Dec(), f.vault.BalanceOf(alice).Dec())

	// matured and fully claimed
	f.clock.Advance(day)
	_, err = f.c.ClaimReward(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrNoReward)

	principal, reward, err := f.c.ClosePosition(ctx, alice, id)
	require.NoError(t, err)
	assert.True(t, reward.IsZero())
	assert.Equal(t, tokens(100).Dec(), principal.Dec())
	assert.True(t, f.c.ReserveState().TotalPendingReward.IsZero())

	assert.Equal(t, []journal.EventKind{
		journal.EventOpen,
		journal.EventClaim, journal.EventClaim, journal.EventClaim, journal.EventClaim,
		journal.EventClose,
	}, f.journal.kinds())
}

func TestFrequentClaimsPayTheWholeSpan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)

	const claims = 200
	step := 1900 * time.Millisecond
	paid := new(uint256.Int)
	for i := 0; i < claims; i++ {
		f.clock.Advance(step)
		owed, err := f.c.ClaimReward(ctx, alice, id)
		require.NoError(t, err)
		paid.Add(paid, owed)
	}

	want, err := accrual.Reward(tokens(100), claims*step, 30*day, 1000)
	require.NoError(t, err)
	require.False(t, paid.Gt(want))
	lost := new(uint256.Int).Sub(want, paid)
	assert.False(t, lost.Gt(uint256.NewInt(claims)), "lost %s", lost.Dec())
	assert.Equal(t, paid.Dec(), f.vault.BalanceOf(alice).Dec())
	f.requireSound(t)
}

func TestClaimImmediatelyHasNothing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.open(t, alice, tokens(100), 30*day)

	_, err := f.c.ClaimReward(context.Background(), alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrNoReward)

	pos, err := f.c.Position(id)
	require.NoError(t, err)
	assert.Equal(t, t0, pos.LastAccrualAt)
}

func TestOwnershipAndLifecycleErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)
	f.clock.Advance(30 * day)

	_, _, err := f.c.ClosePosition(ctx, bob, id)
	assert.ErrorIs(t, err, stakeerr.ErrNotOwner)
	_, err = f.c.ClaimReward(ctx, bob, id)
	assert.ErrorIs(t, err, stakeerr.ErrNotOwner)
	_, _, err = f.c.ClosePosition(ctx, alice, 99)
	assert.ErrorIs(t, err, stakeerr.ErrPositionNotFound)

	_, _, err = f.c.ClosePosition(ctx, alice, id)
	require.NoError(t, err)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)
	_, err = f.c.ClaimReward(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)
}

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.c.OpenPosition(ctx, alice, nil, 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrInvalidAmount)
	_, err = f.c.OpenPosition(ctx, alice, new(uint256.Int), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrInvalidAmount)
	_, err = f.c.OpenPosition(ctx, alice, amount.MustParse("0.5", 18), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrInvalidAmount)
	_, err = f.c.OpenPosition(ctx, alice, tokens(10), 45*day)
	assert.ErrorIs(t, err, stakeerr.ErrInvalidLockDuration)

	assert.True(t, f.c.ReserveState().TotalPendingReward.IsZero())
	assert.True(t, f.c.TotalStaked().IsZero())
}

func TestOpenPolicy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	f.access.Blacklist(bob)
	_, err := f.c.OpenPosition(ctx, bob, tokens(10), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrBlacklisted)

	f.access.SetWhitelistOnly(true)
	_, err = f.c.OpenPosition(ctx, alice, tokens(10), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrNotWhitelisted)
	f.access.Whitelist(alice)
	f.open(t, alice, tokens(10), 30*day)

	f.switches.SetCapacity(tokens(15))
	_, err = f.c.OpenPosition(ctx, alice, tokens(10), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrCapacityExceeded)
	assert.Equal(t, tokens(5).Dec(), f.c.RemainingCapacity().Dec())
	f.open(t, alice, tokens(5), 30*day)

	f.switches.SetCapacity(nil)
	assert.Nil(t, f.c.RemainingCapacity())

	f.switches.SetWindowEnd(t0.Add(day))
	f.clock.Advance(2 * day)
	_, err = f.c.OpenPosition(ctx, alice, tokens(10), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrStakingWindowClosed)
}

func TestPauseBlocksAllButEmergencyExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)
	f.clock.Advance(31 * day)

	f.switches.SetPaused(true)
	_, err := f.c.OpenPosition(ctx, alice, tokens(10), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrPaused)
	_, err = f.c.ClaimReward(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrPaused)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrPaused)

	f.switches.SetEmergency(true)
	principal, err := f.c.EmergencyExit(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, tokens(100).Dec(), principal.Dec())
}

func TestEmergencyExit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 180*day)
	f.clock.Advance(10 * day)

	_, err := f.c.EmergencyExit(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrNotEmergencyMode)

	f.switches.SetEmergency(true)
	_, err = f.c.OpenPosition(ctx, bob, tokens(10), 30*day)
	assert.ErrorIs(t, err, stakeerr.ErrEmergencyMode)
	_, err = f.c.ClaimReward(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrEmergencyMode)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrEmergencyMode)
	_, err = f.c.EmergencyExit(ctx, bob, id)
	assert.ErrorIs(t, err, stakeerr.ErrNotOwner)

	before := f.c.ReserveState()
	principal, err := f.c.EmergencyExit(ctx, alice, id)
	require.NoError(t, err)
	assert.Equal(t, tokens(100).Dec(), principal.Dec())
	assert.Equal(t, tokens(100).Dec(), f.vault.BalanceOf(alice).Dec())

	// forfeited reward stays reserved
	after := f.c.ReserveState()
	assert.Equal(t, before.TotalPendingReward.Dec(), after.TotalPendingReward.Dec())
	assert.Equal(t, before.PoolBalance.Dec(), after.PoolBalance.Dec())
	assert.True(t, f.c.TotalStaked().IsZero())
	assert.Empty(t, f.c.OpenPositionsOf(alice))

	pending, err := f.c.PendingReward(id)
	require.NoError(t, err)
	assert.True(t, pending.IsZero())

	_, err = f.c.EmergencyExit(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)
	f.requireSound(t)
}

func TestClosedPositionStaysTerminalUnderModeSwitches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)
	f.clock.Advance(30 * day)
	_, _, err := f.c.ClosePosition(ctx, alice, id)
	require.NoError(t, err)

	f.switches.SetEmergency(true)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)
	assert.Equal(t, stakeerr.KindState, stakeerr.KindOf(err))
	_, err = f.c.ClaimReward(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)

	f.switches.SetEmergency(false)
	f.switches.SetPaused(true)
	_, _, err = f.c.ClosePosition(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)
	_, err = f.c.EmergencyExit(ctx, alice, id)
	assert.ErrorIs(t, err, stakeerr.ErrAlreadyClosed)
}

func TestReentrantTransferIsRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, alice, tokens(100), 30*day)
	b := f.open(t, alice, tokens(50), 30*day)
	f.clock.Advance(30 * day)

	var inner []error
	f.vault.SetHook(func(ctx context.Context, to ledger.AccountID, _ *uint256.Int) error {
		_, _, err := f.c.ClosePosition(ctx, to, b)
		inner = append(inner, err)
		_, err = f.c.ClaimReward(ctx, to, b)
		inner = append(inner, err)
		_, err = f.c.OpenPosition(ctx, to, tokens(1), 30*day)
		inner = append(inner, err)
		return nil
	})

	_, _, err := f.c.ClosePosition(ctx, alice, a)
	require.NoError(t, err)

	require.Len(t, inner, 3)
	for _, err := range inner {
		assert.ErrorIs(t, err, stakeerr.ErrReentrantCall)
	}

	pos, err := f.c.Position(b)
	require.NoError(t, err)
	assert.False(t, pos.Closed)
	assert.Equal(t, 1, f.c.Account(alice).PositionCount)
	f.requireSound(t)
}

func TestReentryWithFreshContextFailsFast(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	a := f.open(t, alice, tokens(100), 30*day)
	b := f.open(t, alice, tokens(50), 30*day)
	f.clock.Advance(10 * day)
	poolBefore := f.c.ReserveState().PoolBalance

	var (
		inner      []error
		pending    *uint256.Int
		pendingErr error
		staked     *uint256.Int
	)
	f.vault.SetHook(func(_ context.Context, to ledger.AccountID, _ *uint256.Int) error {
		bg := context.Background()
		_, err := f.c.ClaimReward(bg, to, b)
		inner = append(inner, err)
		_, err = f.c.OpenPosition(bg, to, tokens(1), 30*day)
		inner = append(inner, err)
		inner = append(inner, f.c.Deposit(bg, admin, tokens(1)))

		pending, pendingErr = f.c.PendingReward(b)
		staked = f.c.TotalStaked()
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := f.c.ClaimReward(context.Background(), alice, a)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("claim did not return while its transfer called back in")
	}

	require.Len(t, inner, 3)
	for _, err := range inner {
		assert.ErrorIs(t, err, stakeerr.ErrReentrantCall)
	}

	require.NoError(t, pendingErr)
	want, err := accrual.Reward(tokens(50), 10*day, 30*day, 1000)
	require.NoError(t, err)
	assert.Equal(t, want.Dec(), pending.Dec())
	assert.Equal(t, tokens(150).Dec(), staked.Dec())

	pos, err := f.c.Position(b)
	require.NoError(t, err)
	assert.Equal(t, t0, pos.LastAccrualAt)
	assert.Len(t, f.c.PositionsOf(alice), 2)

	f.vault.SetHook(nil)
	owed, err := f.c.ClaimReward(context.Background(), alice, b)
	require.NoError(t, err)
	assert.Equal(t, want.Dec(), owed.Dec())

	paidA, err := accrual.Reward(tokens(100), 10*day, 30*day, 1000)
	require.NoError(t, err)
	pool := new(uint256.Int).Sub(poolBefore, paidA)
	pool.Sub(pool, owed)
	assert.Equal(t, pool.Dec(), f.c.ReserveState().PoolBalance.Dec())
	f.requireSound(t)
}

func TestDepositAndWithdrawExcess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withPool(tokens(100)))
	ctx := context.Background()

	require.NoError(t, f.c.Deposit(ctx, admin, tokens(50)))
	assert.Equal(t, tokens(150).Dec(), f.c.ReserveState().PoolBalance.Dec())
	assert.ErrorIs(t, f.c.Deposit(ctx, admin, nil), stakeerr.ErrInvalidAmount)

	// reserves 60
	f.open(t, alice, tokens(600), 365*day)

	excess, err := f.c.ExcessBalance()
	require.NoError(t, err)
	assert.Equal(t, tokens(90).Dec(), excess.Dec())

	err = f.c.WithdrawExcess(ctx, alice, alice, tokens(1))
	assert.ErrorIs(t, err, stakeerr.ErrUnauthorized)

	err = f.c.WithdrawExcess(ctx, admin, bob, tokens(91))
	assert.ErrorIs(t, err, stakeerr.ErrInsufficientExcess)
	assert.Equal(t, stakeerr.KindSolvency, stakeerr.KindOf(err))

	require.NoError(t, f.c.WithdrawExcess(ctx, admin, bob, tokens(90)))
	assert.Equal(t, tokens(90).Dec(), f.vault.BalanceOf(bob).Dec())

	rs := f.c.ReserveState()
	assert.Equal(t, tokens(60).Dec(), rs.PoolBalance.Dec())
	assert.Equal(t, tokens(60).Dec(), rs.TotalPendingReward.Dec())
	f.requireSound(t)

	assert.Equal(t, []journal.EventKind{
		journal.EventDeposit, journal.EventOpen, journal.EventWithdraw,
	}, f.journal.kinds())
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.vault.SetHook(func(context.Context, ledger.AccountID, *uint256.Int) error {
		return errors.New("frozen")
	})

	err := f.c.WithdrawExcess(context.Background(), admin, admin, tokens(10))
	assert.ErrorIs(t, err, stakeerr.ErrTransferFailed)
	assert.Equal(t, tokens(1000).Dec(), f.c.ReserveState().PoolBalance.Dec())
}

func TestRateChangesDoNotTouchOpenPositions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	id := f.open(t, alice, tokens(100), 30*day)

	assert.ErrorIs(t, f.c.SetLockRate(alice, 30*day, 5000), stakeerr.ErrUnauthorized)
	require.NoError(t, f.c.SetLockRate(admin, 30*day, 5000))
	require.NoError(t, f.c.RemoveLockOption(admin, 180*day))
	require.NoError(t, f.c.AddLockOption(admin, schedule.LockOption{Duration: 90 * day, RateBps: 800}))

	pos, err := f.c.Position(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, pos.RateBps)

	rate, err := f.c.RateFor(180 * day)
	require.NoError(t, err)
	assert.EqualValues(t, 700, rate)

	_, err = f.c.OpenPosition(ctx, alice, tokens(10), 180*day)
	assert.ErrorIs(t, err, stakeerr.ErrInvalidLockDuration)

	id2 := f.open(t, alice, tokens(10), 30*day)
	pos2, err := f.c.Position(id2)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, pos2.RateBps)

	var durations []time.Duration
	for _, o := range f.c.LockOptions() {
		durations = append(durations, o.Duration)
	}
	assert.Equal(t, []time.Duration{30 * day, 90 * day, 365 * day}, durations)
}

func TestWhitelistBonus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *Config) { c.WhitelistBonusBps = 250 })
	f.access.Whitelist(alice)

	a := f.open(t, alice, tokens(10), 30*day)
	b := f.open(t, bob, tokens(10), 30*day)

	pa, err := f.c.Position(a)
	require.NoError(t, err)
	pb, err := f.c.Position(b)
	require.NoError(t, err)
	assert.EqualValues(t, 1250, pa.RateBps)
	assert.EqualValues(t, 1000, pb.RateBps)
}

func TestJournalFailureDoesNotFailOperation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.journal.fail = true

	id := f.open(t, alice, tokens(10), 30*day)
	pos, err := f.c.Position(id)
	require.NoError(t, err)
	assert.False(t, pos.Closed)
}

func TestConservationAcrossLifecycles(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withPool(tokens(10_000)))
	ctx := context.Background()

	owners := []ledger.AccountID{alice, bob}
	locks := []time.Duration{30 * day, 180 * day, 365 * day}
	var ids []uint64
	for i := 0; i < 12; i++ {
		ids = append(ids, f.open(t, owners[i%2], tokens(uint64(10*(i+1))), locks[i%3]))
		f.clock.Advance(3 * day)
	}

	lastPending := map[uint64]*uint256.Int{}
	for step := 0; step < 20; step++ {
		f.clock.Advance(20 * day)
		for _, id := range ids {
			p, err := f.c.PendingReward(id)
			require.NoError(t, err)
			if prev, ok := lastPending[id]; ok {
				assert.True(t, prev.Cmp(p) <= 0, "pending went down for %d", id)
			}
			lastPending[id] = p
		}
		if step%5 == 4 {
			for _, id := range ids {
				pos, err := f.c.Position(id)
				require.NoError(t, err)
				if pos.Closed {
					continue
				}
				if _, err := f.c.ClaimReward(ctx, pos.Owner, id); err == nil {
					lastPending[id] = new(uint256.Int)
				}
			}
		}
		f.requireSound(t)
		rs := f.c.ReserveState()
		require.False(t, rs.PoolBalance.Lt(rs.TotalPendingReward))
	}

	for _, id := range ids {
		pos, err := f.c.Position(id)
		require.NoError(t, err)
		_, _, err = f.c.ClosePosition(ctx, pos.Owner, id)
		require.NoError(t, err)
	}

	rs := f.c.ReserveState()
	assert.True(t, rs.TotalPendingReward.IsZero())
	assert.True(t, f.c.TotalStaked().IsZero())
	assert.Equal(t, 0, f.c.Totals().OpenPositions)

	// everything paid came out of the pool or was principal
	paid := new(uint256.Int).Add(f.vault.BalanceOf(alice), f.vault.BalanceOf(bob))
	out := new(uint256.Int).Sub(tokens(10_000), rs.PoolBalance)
	assert.Equal(t, new(uint256.Int).Add(f.c.HistoricalStaked(), out).Dec(), paid.Dec())
}

func TestConcurrentCallers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withPool(tokens(100_000)))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := alice
			if i%2 == 1 {
				owner = bob
			}
			for j := 0; j < 25; j++ {
				_, err := f.c.OpenPosition(ctx, owner, tokens(10), 30*day)
				assert.NoError(t, err)
				_ = f.c.TotalStaked()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, tokens(2000).Dec(), f.c.TotalStaked().Dec())
	assert.Len(t, f.c.PositionsOf(alice), 100)
	assert.Len(t, f.c.PositionsOf(bob), 100)
	f.requireSound(t)
}

func TestAdminSwitches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	assert.ErrorIs(t, f.c.SetPaused(alice, true), stakeerr.ErrUnauthorized)
	require.NoError(t, f.c.SetPaused(admin, true))
	assert.True(t, f.switches.Paused())
	require.NoError(t, f.c.SetEmergency(admin, true))
	assert.True(t, f.switches.EmergencyModeActive())
	require.NoError(t, f.c.SetPaused(admin, false))
	assert.False(t, f.switches.Paused())
}
