// Package staking is the public face of the ledger. A Coordinator runs
// each operation as validate, mutate, transfer. If the transfer fails,
// every counter it touched is put back.
package staking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/stakeledger/clock"
	"github.com/rustyeddy/stakeledger/journal"
	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/policy"
	"github.com/rustyeddy/stakeledger/reserve"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/stakeerr"
)

// ValueTransfer pays out of custody. It must return synchronously.
// Operations it calls back into fail with stakeerr.ErrReentrantCall
// whatever context they carry. Queries answer from the state the
// payment is being made against.
type ValueTransfer interface {
	Transfer(ctx context.Context, to ledger.AccountID, amt *uint256.Int) error
}

// Observer is told about every committed and rejected operation.
type Observer interface {
	Committed(op string, t Totals)
	Rejected(op, code string)
}

// Totals is the ledger-wide state after an operation.
type Totals struct {
	PoolBalance        *uint256.Int
	TotalPendingReward *uint256.Int
	TotalStaked        *uint256.Int
	HistoricalStaked   *uint256.Int
	OpenPositions      int
}

type Config struct {
	MinStake    *uint256.Int
	GracePeriod time.Duration
	InitialPool *uint256.Int
	// WhitelistBonusBps is added to the base rate of positions opened by
	// whitelisted accounts and snapshotted with it.
	WhitelistBonusBps uint32
}

// Deps are the collaborators a Coordinator cannot work without.
type Deps struct {
	Rates    *schedule.Table
	Auth     policy.Authorization
	Flags    policy.Flags
	Clock    clock.Clock
	Transfer ValueTransfer
}

type Option func(*Coordinator)

func WithJournal(j journal.Journal) Option {
	return func(c *Coordinator) {
		if j != nil {
			c.journal = j
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

type Coordinator struct {
	// op serializes operations and is held across the transfer. mu guards
	// state and is released while the transfer runs, so queries made from
	// inside it do not block.
	op     sync.Mutex
	mu     sync.RWMutex
	paying atomic.Bool

	cfg      Config
	rates    *schedule.Table
	ledger   *ledger.Ledger
	reserve  *reserve.Reserve
	auth     policy.Authorization
	flags    policy.Flags
	clock    clock.Clock
	transfer ValueTransfer

	journal  journal.Journal
	observer Observer
	log      zerolog.Logger
}

func New(cfg Config, d Deps, opts ...Option) (*Coordinator, error) {
	switch {
	case d.Rates == nil:
		return nil, errors.New("staking: rate table is required")
	case d.Auth == nil:
		return nil, errors.New("staking: authorization is required")
	case d.Flags == nil:
		return nil, errors.New("staking: operational flags are required")
	case d.Transfer == nil:
		return nil, errors.New("staking: value transfer is required")
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = ledger.DefaultGracePeriod
	}

	c := &Coordinator{
		cfg:   cfg,
		rates: d.Rates,
		ledger: ledger.New(ledger.Config{
			MinStake:    cfg.MinStake,
			GracePeriod: cfg.GracePeriod,
		}, d.Rates),
		reserve:  reserve.New(cfg.InitialPool),
		auth:     d.Auth,
		flags:    d.Flags,
		clock:    d.Clock,
		transfer: d.Transfer,
		journal:  journal.Discard,
		observer: nopObserver{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type opKey struct{}

// enter takes the operation and state locks. It fails fast instead when
// ctx shows the caller is already inside one of this coordinator's
// operations, or when a transfer is in flight. A concurrent caller that
// arrives mid-transfer is indistinguishable from a callback and is
// turned away too.
func (c *Coordinator) enter(ctx context.Context) (context.Context, error) {
	if owner, _ := ctx.Value(opKey{}).(*Coordinator); owner == c {
		return nil, stakeerr.ErrReentrantCall
	}
	if c.paying.Load() {
		return nil, stakeerr.Wrap(stakeerr.ErrReentrantCall, "transfer in flight")
	}
	c.op.Lock()
	c.mu.Lock()
	return context.WithValue(ctx, opKey{}, c), nil
}

func (c *Coordinator) exit() {
	c.mu.Unlock()
	c.op.Unlock()
}

// checkNotClosed runs ahead of the mode gates so a retired position
// always reports its terminal state.
func (c *Coordinator) checkNotClosed(id uint64) error {
	if pos, err := c.ledger.Position(id); err == nil && pos.Closed {
		return stakeerr.Wrap(stakeerr.ErrAlreadyClosed, "position %d", id)
	}
	return nil
}

func (c *Coordinator) checkOwner(id uint64, owner ledger.AccountID) error {
	actual, err := c.ledger.OwnerOf(id)
	if err != nil {
		return err
	}
	if actual != owner {
		return stakeerr.Wrap(stakeerr.ErrNotOwner, "position %d", id)
	}
	return nil
}

// pay runs the transfer with the state lock released and the operation
// lock still held. The caller restores state when it fails.
func (c *Coordinator) pay(ctx context.Context, to ledger.AccountID, amt *uint256.Int) error {
	c.paying.Store(true)
	c.mu.Unlock()
	err := c.transfer.Transfer(ctx, to, amt)
	c.mu.Lock()
	c.paying.Store(false)

	if err != nil {
		return fmt.Errorf("%w: %w", stakeerr.ErrTransferFailed, err)
	}
	return nil
}

func (c *Coordinator) reject(op string, err error) error {
	code := stakeerr.CodeOf(err)
	c.observer.Rejected(op, code)
	c.log.Debug().Str("op", op).Str("code", code).Err(err).Msg("operation rejected")
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Coordinator) rollback(op string, id uint64, snap ledger.Snapshot, rs reserve.State, err error) error {
	c.ledger.Restore(snap)
	c.reserve.Restore(rs)
	c.log.Warn().Str("op", op).Uint64("position", id).Err(err).Msg("rolled back")
	return c.reject(op, err)
}

// commit records a committed operation. The state change has happened,
// so journal failures are logged and swallowed.
func (c *Coordinator) commit(op string, ev journal.EventRecord) {
	t := c.totalsLocked()
	if err := c.journal.RecordEvent(ev); err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("journal event")
	}
	err := c.journal.RecordReserve(journal.ReserveSnapshot{
		Time:               ev.Time,
		PoolBalance:        t.PoolBalance,
		TotalPendingReward: t.TotalPendingReward,
		TotalStaked:        t.TotalStaked,
		HistoricalStaked:   t.HistoricalStaked,
	})
	if err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("journal reserve snapshot")
	}
	c.observer.Committed(op, t)
}

func (c *Coordinator) totalsLocked() Totals {
	rs := c.reserve.State()
	return Totals{
		PoolBalance:        rs.PoolBalance,
		TotalPendingReward: rs.TotalPendingReward,
		TotalStaked:        c.ledger.TotalStaked(),
		HistoricalStaked:   c.ledger.HistoricalStaked(),
		OpenPositions:      c.ledger.OpenCount(),
	}
}

type nopObserver struct{}

func (nopObserver) Committed(string, Totals) {}
func (nopObserver) Rejected(string, string)  {}
