// Package sim replays scripted scenarios against a coordinator running on
// a manual clock and an in-memory vault.
package sim

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/stakeledger/schedule"
)

const (
	ActionAdvance      = "advance"
	ActionOpen         = "open"
	ActionClaim        = "claim"
	ActionClose        = "close"
	ActionExit         = "exit"
	ActionDeposit      = "deposit"
	ActionWithdraw     = "withdraw"
	ActionEmergency    = "emergency"
	ActionPause        = "pause"
	ActionSetRate      = "set_rate"
	ActionAddOption    = "add_option"
	ActionRemoveOption = "remove_option"
	ActionCheck        = "check"
)

// Scenario is a named account book plus the steps to run.
type Scenario struct {
	Name string `yaml:"name"`
	// Start is RFC3339; empty means 2025-01-01T00:00:00Z.
	Start string `yaml:"start,omitempty"`
	// Accounts maps short names used in steps to hex addresses.
	Accounts map[string]string `yaml:"accounts"`
	Steps    []Step            `yaml:"steps"`
}

// Step is one action. Which fields matter depends on Action.
type Step struct {
	Action   string `yaml:"action"`
	Account  string `yaml:"account,omitempty"`
	To       string `yaml:"to,omitempty"`
	Amount   string `yaml:"amount,omitempty"`
	Lock     string `yaml:"lock,omitempty"` // "30d" or a Go duration
	Position uint64 `yaml:"position,omitempty"`
	RateBps  uint32 `yaml:"rate_bps,omitempty"`
	By       string `yaml:"by,omitempty"` // "30d" or a Go duration, for advance
	On       bool   `yaml:"on,omitempty"`

	// ExpectError is the error code the step must fail with; empty
	// means it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	sc := &Scenario{}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %q has no steps", sc.Name)
	}
	for i, st := range sc.Steps {
		if err := st.validate(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}
	return sc, nil
}

// StartTime parses Start.
func (sc *Scenario) StartTime() (time.Time, error) {
	if sc.Start == "" {
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339, sc.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("scenario start: %w", err)
	}
	return t.UTC(), nil
}

func (st Step) validate() error {
	switch st.Action {
	case ActionAdvance:
		if _, err := ParseSpan(st.By); err != nil {
			return err
		}
	case ActionOpen:
		if st.Account == "" || st.Amount == "" {
			return fmt.Errorf("account and amount are required")
		}
		if _, err := ParseSpan(st.Lock); err != nil {
			return err
		}
	case ActionClaim, ActionClose, ActionExit:
		if st.Account == "" || st.Position == 0 {
			return fmt.Errorf("account and position are required")
		}
	case ActionDeposit:
		if st.Amount == "" {
			return fmt.Errorf("amount is required")
		}
	case ActionWithdraw:
		if st.Account == "" || st.To == "" || st.Amount == "" {
			return fmt.Errorf("account, to and amount are required")
		}
	case ActionEmergency, ActionPause:
		if st.Account == "" {
			return fmt.Errorf("account is required")
		}
	case ActionSetRate, ActionAddOption, ActionRemoveOption:
		if st.Account == "" {
			return fmt.Errorf("account is required")
		}
		if _, err := ParseSpan(st.Lock); err != nil {
			return err
		}
	case ActionCheck:
	default:
		return fmt.Errorf("unknown action")
	}
	return nil
}

// ParseSpan accepts whole days ("30d") or anything time.ParseDuration
// accepts.
func ParseSpan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("bad day count %q", s)
		}
		return time.Duration(n) * schedule.Day, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}
