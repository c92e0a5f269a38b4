package sim

import (
	"context"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/clock"
	"github.com/rustyeddy/stakeledger/config"
	"github.com/rustyeddy/stakeledger/journal"
	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/stakeerr"
	"github.com/rustyeddy/stakeledger/staking"
	"github.com/rustyeddy/stakeledger/vault"
)

// Outcome is the result of one step.
type Outcome struct {
	Step   int
	Action string
	Detail string
	Err    error
	// Unexpected is set when the step's result did not match ExpectError.
	Unexpected bool
}

func (o Outcome) String() string {
	status := "ok"
	if o.Err != nil {
		status = "rejected " + stakeerr.CodeOf(o.Err)
	}
	if o.Unexpected {
		status += " (UNEXPECTED)"
	}
	if o.Detail == "" {
		return fmt.Sprintf("%3d %-13s %s", o.Step, o.Action, status)
	}
	return fmt.Sprintf("%3d %-13s %s  %s", o.Step, o.Action, status, o.Detail)
}

// Runner owns one simulated deployment.
type Runner struct {
	Coordinator *staking.Coordinator
	Vault       *vault.Vault
	Clock       *clock.Manual

	decimals int32
	accounts map[string]ledger.AccountID
}

type Options struct {
	Journal  journal.Journal
	Observer staking.Observer
	Logger   zerolog.Logger
}

// NewRunner builds a coordinator from cfg starting at the scenario's
// start time.
func NewRunner(cfg *config.Config, sc *Scenario, opts Options) (*Runner, error) {
	start, err := sc.StartTime()
	if err != nil {
		return nil, err
	}

	accounts := make(map[string]ledger.AccountID, len(sc.Accounts))
	for name, hex := range sc.Accounts {
		if !common.IsHexAddress(hex) {
			return nil, fmt.Errorf("account %s: %q is not a hex address", name, hex)
		}
		accounts[name] = common.HexToAddress(hex)
	}

	rates, err := cfg.Rates()
	if err != nil {
		return nil, err
	}
	acl, err := cfg.Access()
	if err != nil {
		return nil, err
	}
	switches, err := cfg.Switches()
	if err != nil {
		return nil, err
	}
	stakingCfg, err := cfg.Staking()
	if err != nil {
		return nil, err
	}
	treasury, err := cfg.TreasuryBalance()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		Vault:    vault.New(treasury),
		Clock:    clock.NewManual(start),
		decimals: cfg.Ledger.TokenDecimals,
		accounts: accounts,
	}
	r.Coordinator, err = staking.New(stakingCfg, staking.Deps{
		Rates:    rates,
		Auth:     acl,
		Flags:    switches,
		Clock:    r.Clock,
		Transfer: r.Vault,
	},
		staking.WithJournal(opts.Journal),
		staking.WithObserver(opts.Observer),
		staking.WithLogger(opts.Logger),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Run executes every step. Rejections are outcomes, not errors; the
// returned error counts steps that did not match their expectation.
func (r *Runner) Run(ctx context.Context, sc *Scenario, out io.Writer) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(sc.Steps))
	unexpected := 0
	for i, st := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		o := r.step(ctx, i+1, st)
		if o.Unexpected {
			unexpected++
		}
		if out != nil {
			fmt.Fprintln(out, o)
		}
		outcomes = append(outcomes, o)
	}
	if unexpected > 0 {
		return outcomes, fmt.Errorf("%d of %d steps did not go as expected", unexpected, len(sc.Steps))
	}
	return outcomes, nil
}

func (r *Runner) step(ctx context.Context, n int, st Step) Outcome {
	o := Outcome{Step: n, Action: st.Action}
	o.Detail, o.Err = r.apply(ctx, st)

	switch {
	case st.ExpectError == "" && o.Err != nil:
		o.Unexpected = true
	case st.ExpectError != "" && stakeerr.CodeOf(o.Err) != st.ExpectError:
		o.Unexpected = true
	}
	return o
}

func (r *Runner) apply(ctx context.Context, st Step) (string, error) {
	c := r.Coordinator
	switch st.Action {
	case ActionAdvance:
		d, _ := ParseSpan(st.By)
		now := r.Clock.Advance(d)
		return "now " + now.Format("2006-01-02 15:04"), nil

	case ActionOpen:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		amt, err := r.amount(st.Amount)
		if err != nil {
			return "", err
		}
		lock, _ := ParseSpan(st.Lock)
		id, err := c.OpenPosition(ctx, who, amt, lock)
		if err != nil {
			return "", err
		}
		// the principal is now in custody
		r.Vault.Fund(amt)
		pos, _ := c.Position(id)
		return fmt.Sprintf("position %d, %s at %s",
			id, r.tokens(amt), schedule.LockOption{Duration: lock, RateBps: pos.RateBps}), nil

	case ActionClaim:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		owed, err := c.ClaimReward(ctx, who, st.Position)
		if err != nil {
			return "", err
		}
		return "reward " + r.tokens(owed), nil

	case ActionClose:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		principal, reward, err := c.ClosePosition(ctx, who, st.Position)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("principal %s, reward %s", r.tokens(principal), r.tokens(reward)), nil

	case ActionExit:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		principal, err := c.EmergencyExit(ctx, who, st.Position)
		if err != nil {
			return "", err
		}
		return "principal " + r.tokens(principal), nil

	case ActionDeposit:
		from := ledger.AccountID{}
		if st.Account != "" {
			var err error
			if from, err = r.account(st.Account); err != nil {
				return "", err
			}
		}
		amt, err := r.amount(st.Amount)
		if err != nil {
			return "", err
		}
		if err := c.Deposit(ctx, from, amt); err != nil {
			return "", err
		}
		r.Vault.Fund(amt)
		return "pool " + r.tokens(c.ReserveState().PoolBalance), nil

	case ActionWithdraw:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		to, err := r.account(st.To)
		if err != nil {
			return "", err
		}
		amt, err := r.amount(st.Amount)
		if err != nil {
			return "", err
		}
		if err := c.WithdrawExcess(ctx, who, to, amt); err != nil {
			return "", err
		}
		return "pool " + r.tokens(c.ReserveState().PoolBalance), nil

	case ActionEmergency:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("emergency=%t", st.On), c.SetEmergency(who, st.On)

	case ActionPause:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("paused=%t", st.On), c.SetPaused(who, st.On)

	case ActionSetRate, ActionAddOption, ActionRemoveOption:
		who, err := r.account(st.Account)
		if err != nil {
			return "", err
		}
		lock, _ := ParseSpan(st.Lock)
		opt := schedule.LockOption{Duration: lock, RateBps: st.RateBps}
		switch st.Action {
		case ActionSetRate:
			err = c.SetLockRate(who, lock, st.RateBps)
		case ActionAddOption:
			err = c.AddLockOption(who, opt)
		default:
			err = c.RemoveLockOption(who, lock)
		}
		return opt.String(), err

	case ActionCheck:
		if err := c.CheckInvariants(); err != nil {
			return "", err
		}
		t := c.Totals()
		return fmt.Sprintf("pool %s, pending %s, staked %s, open %d",
			r.tokens(t.PoolBalance), r.tokens(t.TotalPendingReward), r.tokens(t.TotalStaked), t.OpenPositions), nil
	}
	return "", fmt.Errorf("unknown action %q", st.Action)
}

// account resolves a scenario name, falling back to a literal address.
func (r *Runner) account(name string) (ledger.AccountID, error) {
	if a, ok := r.accounts[name]; ok {
		return a, nil
	}
	if common.IsHexAddress(name) {
		return common.HexToAddress(name), nil
	}
	return ledger.AccountID{}, fmt.Errorf("unknown account %q", name)
}

func (r *Runner) amount(s string) (*uint256.Int, error) {
	return amount.Parse(s, r.decimals)
}

func (r *Runner) tokens(a *uint256.Int) string {
	return amount.Format(a, r.decimals)
}

// Account looks up a scenario account by name.
func (r *Runner) Account(name string) (ledger.AccountID, error) { return r.account(name) }
