package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/stakeledger/amount"
	"github.com/rustyeddy/stakeledger/journal"
	"github.com/rustyeddy/stakeledger/ledger"
	"github.com/rustyeddy/stakeledger/logging"
	"github.com/rustyeddy/stakeledger/policy"
	"github.com/rustyeddy/stakeledger/schedule"
	"github.com/rustyeddy/stakeledger/staking"
)

// EnvPrefix prefixes environment overrides, e.g. STAKELEDGER_LEDGER_MIN_STAKE.
const EnvPrefix = "STAKELEDGER"

// Config represents a complete ledger deployment. Amounts are strings in
// whole tokens ("1000", "0.5") and converted with Ledger.TokenDecimals.
type Config struct {
	Ledger      LedgerConfig       `json:"ledger" yaml:"ledger" mapstructure:"ledger"`
	LockOptions []LockOptionConfig `json:"lock_options" yaml:"lock_options" mapstructure:"lock_options"`
	Pool        PoolConfig         `json:"pool" yaml:"pool" mapstructure:"pool"`
	Treasury    string             `json:"treasury" yaml:"treasury" mapstructure:"treasury"`
	Accounts    AccountsConfig     `json:"accounts" yaml:"accounts" mapstructure:"accounts"`
	Journal     JournalConfig      `json:"journal" yaml:"journal" mapstructure:"journal"`
	Logging     logging.Config     `json:"logging" yaml:"logging" mapstructure:"logging"`
}

type LedgerConfig struct {
	MinStake    string        `json:"min_stake" yaml:"min_stake" mapstructure:"min_stake"`
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period" mapstructure:"grace_period"`
	// Capacity caps total staked principal; empty or "0" means no cap.
	Capacity string `json:"capacity,omitempty" yaml:"capacity,omitempty" mapstructure:"capacity"`
	// StakingWindowEnd is RFC3339; empty keeps the window open.
	StakingWindowEnd  string `json:"staking_window_end,omitempty" yaml:"staking_window_end,omitempty" mapstructure:"staking_window_end"`
	WhitelistBonusBps uint32 `json:"whitelist_bonus_bps" yaml:"whitelist_bonus_bps" mapstructure:"whitelist_bonus_bps"`
	TokenDecimals     int32  `json:"token_decimals" yaml:"token_decimals" mapstructure:"token_decimals"`
}

// LockOptionConfig is one offered lock length, in days.
type LockOptionConfig struct {
	Days    int    `json:"days" yaml:"days" mapstructure:"days"`
	RateBps uint32 `json:"rate_bps" yaml:"rate_bps" mapstructure:"rate_bps"`
}

type PoolConfig struct {
	InitialBalance string `json:"initial_balance" yaml:"initial_balance" mapstructure:"initial_balance"`
}

// AccountsConfig holds hex addresses.
type AccountsConfig struct {
	Admins        []string `json:"admins" yaml:"admins" mapstructure:"admins"`
	Whitelist     []string `json:"whitelist,omitempty" yaml:"whitelist,omitempty" mapstructure:"whitelist"`
	Blacklist     []string `json:"blacklist,omitempty" yaml:"blacklist,omitempty" mapstructure:"blacklist"`
	WhitelistOnly bool     `json:"whitelist_only" yaml:"whitelist_only" mapstructure:"whitelist_only"`
}

type JournalConfig struct {
	Type        string `json:"type" yaml:"type" mapstructure:"type"` // "csv", "sqlite" or "none"
	EventsFile  string `json:"events_file,omitempty" yaml:"events_file,omitempty" mapstructure:"events_file"`
	ReserveFile string `json:"reserve_file,omitempty" yaml:"reserve_file,omitempty" mapstructure:"reserve_file"`
	DBPath      string `json:"db_path,omitempty" yaml:"db_path,omitempty" mapstructure:"db_path"`
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load layers defaults, an optional file and STAKELEDGER_* environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stakeledger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("ledger.min_stake", d.Ledger.MinStake)
	v.SetDefault("ledger.grace_period", d.Ledger.GracePeriod.String())
	v.SetDefault("ledger.capacity", "")
	v.SetDefault("ledger.staking_window_end", "")
	v.SetDefault("ledger.whitelist_bonus_bps", 0)
	v.SetDefault("ledger.token_decimals", d.Ledger.TokenDecimals)

	opts := make([]map[string]any, 0, len(d.LockOptions))
	for _, o := range d.LockOptions {
		opts = append(opts, map[string]any{"days": o.Days, "rate_bps": o.RateBps})
	}
	v.SetDefault("lock_options", opts)

	v.SetDefault("pool.initial_balance", d.Pool.InitialBalance)
	v.SetDefault("treasury", d.Treasury)

	v.SetDefault("accounts.admins", d.Accounts.Admins)
	v.SetDefault("accounts.whitelist", []string{})
	v.SetDefault("accounts.blacklist", []string{})
	v.SetDefault("accounts.whitelist_only", false)

	v.SetDefault("journal.type", d.Journal.Type)
	v.SetDefault("journal.events_file", "")
	v.SetDefault("journal.reserve_file", "")
	v.SetDefault("journal.db_path", "")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.caller", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// SaveToFile saves configuration as YAML or, for any other extension, JSON.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks that every value parses and the combination is usable.
func (c *Config) Validate() error {
	if c.Ledger.TokenDecimals < 0 || c.Ledger.TokenDecimals > 36 {
		return fmt.Errorf("ledger.token_decimals must be between 0 and 36")
	}
	if minStake, err := c.tokens("ledger.min_stake", c.Ledger.MinStake); err != nil {
		return err
	} else if minStake.IsZero() {
		return fmt.Errorf("ledger.min_stake must be positive")
	}
	if c.Ledger.GracePeriod < 0 {
		return fmt.Errorf("ledger.grace_period cannot be negative")
	}
	if _, err := c.tokens("ledger.capacity", c.Ledger.Capacity); err != nil {
		return err
	}
	if _, err := c.WindowEnd(); err != nil {
		return err
	}
	if c.Ledger.WhitelistBonusBps > schedule.MaxRateBps {
		return fmt.Errorf("ledger.whitelist_bonus_bps must be at most %d", schedule.MaxRateBps)
	}
	if len(c.LockOptions) == 0 {
		return fmt.Errorf("at least one lock option is required")
	}
	if _, err := c.Rates(); err != nil {
		return err
	}
	if _, err := c.tokens("pool.initial_balance", c.Pool.InitialBalance); err != nil {
		return err
	}
	if _, err := c.tokens("treasury", c.Treasury); err != nil {
		return err
	}
	if _, err := c.Access(); err != nil {
		return err
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.EventsFile == "" || c.Journal.ReserveFile == "" {
			return fmt.Errorf("journal events_file and reserve_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return fmt.Errorf("journal db_path required for SQLite type")
		}
	default:
		return fmt.Errorf("journal.type must be 'csv', 'sqlite' or 'none'")
	}
	return nil
}

func (c *Config) tokens(key, s string) (*uint256.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(uint256.Int), nil
	}
	a, err := amount.Parse(s, c.Ledger.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return a, nil
}

// Amount parses s in whole tokens using the configured decimals.
func (c *Config) Amount(s string) (*uint256.Int, error) {
	return c.tokens("amount", s)
}

// WindowEnd returns the zero time when no window is configured.
func (c *Config) WindowEnd() (time.Time, error) {
	if c.Ledger.StakingWindowEnd == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Ledger.StakingWindowEnd)
	if err != nil {
		return time.Time{}, fmt.Errorf("ledger.staking_window_end: %w", err)
	}
	return t.UTC(), nil
}

// Rates builds the lock option table.
func (c *Config) Rates() (*schedule.Table, error) {
	opts := make([]schedule.LockOption, 0, len(c.LockOptions))
	for _, o := range c.LockOptions {
		opts = append(opts, schedule.LockOption{
			Duration: time.Duration(o.Days) * schedule.Day,
			RateBps:  o.RateBps,
		})
	}
	t, err := schedule.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("lock_options: %w", err)
	}
	return t, nil
}

// Access builds the access list from the configured addresses.
func (c *Config) Access() (*policy.AccessList, error) {
	admins, err := addresses("accounts.admins", c.Accounts.Admins)
	if err != nil {
		return nil, err
	}
	white, err := addresses("accounts.whitelist", c.Accounts.Whitelist)
	if err != nil {
		return nil, err
	}
	black, err := addresses("accounts.blacklist", c.Accounts.Blacklist)
	if err != nil {
		return nil, err
	}

	a := policy.NewAccessList(admins...)
	a.Whitelist(white...)
	a.Blacklist(black...)
	a.SetWhitelistOnly(c.Accounts.WhitelistOnly)
	return a, nil
}

func addresses(key string, in []string) ([]ledger.AccountID, error) {
	out := make([]ledger.AccountID, 0, len(in))
	for _, s := range in {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%s: %q is not a hex address", key, s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// Switches builds the operational flags, unpaused and out of emergency.
func (c *Config) Switches() (*policy.Switches, error) {
	capacity, err := c.tokens("ledger.capacity", c.Ledger.Capacity)
	if err != nil {
		return nil, err
	}
	end, err := c.WindowEnd()
	if err != nil {
		return nil, err
	}
	return policy.NewSwitches(capacity, end), nil
}

// Staking returns the coordinator settings.
func (c *Config) Staking() (staking.Config, error) {
	minStake, err := c.tokens("ledger.min_stake", c.Ledger.MinStake)
	if err != nil {
		return staking.Config{}, err
	}
	pool, err := c.tokens("pool.initial_balance", c.Pool.InitialBalance)
	if err != nil {
		return staking.Config{}, err
	}
	return staking.Config{
		MinStake:          minStake,
		GracePeriod:       c.Ledger.GracePeriod,
		InitialPool:       pool,
		WhitelistBonusBps: c.Ledger.WhitelistBonusBps,
	}, nil
}

// TreasuryBalance is the reference vault's starting balance.
func (c *Config) TreasuryBalance() (*uint256.Int, error) {
	return c.tokens("treasury", c.Treasury)
}

// OpenJournal opens the configured journal; "none" yields journal.Discard.
func (c *Config) OpenJournal() (journal.Journal, error) {
	switch c.Journal.Type {
	case "csv":
		j, err := journal.NewCSV(c.Journal.EventsFile, c.Journal.ReserveFile)
		if err != nil {
			return nil, fmt.Errorf("open csv journal: %w", err)
		}
		return j, nil
	case "sqlite":
		j, err := journal.NewSQLite(c.Journal.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		return j, nil
	default:
		return journal.Discard, nil
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Ledger: LedgerConfig{
			MinStake:      "1",
			GracePeriod:   ledger.DefaultGracePeriod,
			TokenDecimals: amount.DefaultDecimals,
		},
		LockOptions: []LockOptionConfig{
			{Days: 30, RateBps: 500},
			{Days: 90, RateBps: 800},
			{Days: 180, RateBps: 1200},
			{Days: 365, RateBps: 2000},
		},
		Pool:     PoolConfig{InitialBalance: "100000"},
		Treasury: "1000000",
		Accounts: AccountsConfig{
			Admins: []string{"0x000000000000000000000000000000000000ad01"},
		},
		Journal: JournalConfig{Type: "none"},
		Logging: logging.Config{Level: "info", Format: "console"},
	}
}
