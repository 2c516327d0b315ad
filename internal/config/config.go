package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	General   GeneralConfig   `toml:"general" yaml:"general"`
	Exchange  ExchangeConfig  `toml:"exchange" yaml:"exchange"`
	Schedule  ScheduleConfig  `toml:"schedule" yaml:"schedule"`
	Catalog   CatalogConfig   `toml:"catalog" yaml:"catalog"`
	Tracker   TrackerConfig   `toml:"tracker" yaml:"tracker"`
	Execution ExecutionConfig `toml:"execution" yaml:"execution"`
	Staking   StakingConfig   `toml:"staking" yaml:"staking"`
	Strategy  StrategyConfig  `toml:"strategy" yaml:"strategy"`
	Notify    NotifyConfig    `toml:"notify" yaml:"notify"`
	Winners   WinnersConfig   `toml:"winners" yaml:"winners"`
}

type GeneralConfig struct {
	DBDriver    string   `toml:"db_driver" yaml:"db_driver"` // "sqlite" or "postgres"
	DBPath      string   `toml:"db_path" yaml:"db_path"`
	DatabaseURL string   `toml:"database_url" yaml:"database_url"`
	RedisURL    string   `toml:"redis_url" yaml:"redis_url"`
	CacheTTL    Duration `toml:"cache_ttl" yaml:"cache_ttl"`
	LogLevel    string   `toml:"log_level" yaml:"log_level"`
	LogFormat   string   `toml:"log_format" yaml:"log_format"`
	LiveMode    bool     `toml:"live_mode" yaml:"live_mode"`
	HTTPAddr    string   `toml:"http_addr" yaml:"http_addr"`
}

type ExchangeConfig struct {
	IdentityURL       string   `toml:"identity_url" yaml:"identity_url"`
	BettingURL        string   `toml:"betting_url" yaml:"betting_url"`
	AccountURL        string   `toml:"account_url" yaml:"account_url"`
	AppKey            string   `toml:"app_key" yaml:"app_key"`
	Username          string   `toml:"username" yaml:"username"`
	Password          string   `toml:"password" yaml:"password"`
	Wallet            string   `toml:"wallet" yaml:"wallet"`
	RequestsPerSecond float64  `toml:"requests_per_second" yaml:"requests_per_second"`
	Timeout           Duration `toml:"timeout" yaml:"timeout"`
}

type ScheduleConfig struct {
	SessionRenew      Duration `toml:"session_renew" yaml:"session_renew"`
	CatalogInterval   Duration `toml:"catalog_interval" yaml:"catalog_interval"`
	CatalogBackoff    Duration `toml:"catalog_backoff" yaml:"catalog_backoff"`
	PlayGuard         Duration `toml:"play_guard" yaml:"play_guard"`
	PlayWindow        Duration `toml:"play_window" yaml:"play_window"`
	IdlePoll          Duration `toml:"idle_poll" yaml:"idle_poll"`
	ReconcileInterval Duration `toml:"reconcile_interval" yaml:"reconcile_interval"`
	FundsInterval     Duration `toml:"funds_interval" yaml:"funds_interval"`
	NightlyHour       int      `toml:"nightly_hour" yaml:"nightly_hour"`
	WorkerCooldown    Duration `toml:"worker_cooldown" yaml:"worker_cooldown"`
}

type CatalogConfig struct {
	EventTypeIDs []string `toml:"event_type_ids" yaml:"event_type_ids"`
	MarketTypes  []string `toml:"market_types" yaml:"market_types"`
	Countries    []string `toml:"countries" yaml:"countries"`
	MaxResults   int      `toml:"max_results" yaml:"max_results"`
}

type TrackerConfig struct {
	Mode                string   `toml:"mode" yaml:"mode"` // "snapshot" or "indicative"
	Trigger             Duration `toml:"trigger" yaml:"trigger"`
	Fallback            Duration `toml:"fallback" yaml:"fallback"`
	PreStartPoll        Duration `toml:"pre_start_poll" yaml:"pre_start_poll"`
	FinalPoll           Duration `toml:"final_poll" yaml:"final_poll"`
	FinalWindow         Duration `toml:"final_window" yaml:"final_window"`
	InPlayPoll          Duration `toml:"in_play_poll" yaml:"in_play_poll"`
	ClosingPoll         Duration `toml:"closing_poll" yaml:"closing_poll"`
	IndicativeLead      Duration `toml:"indicative_lead" yaml:"indicative_lead"`
	IndicativePoll      Duration `toml:"indicative_poll" yaml:"indicative_poll"`
	IndicativeThreshold float64  `toml:"indicative_threshold" yaml:"indicative_threshold"`
	MaxWatch            Duration `toml:"max_watch" yaml:"max_watch"`
}

type ExecutionConfig struct {
	LimitAttempts int      `toml:"limit_attempts" yaml:"limit_attempts"`
	LimitThrottle Duration `toml:"limit_throttle" yaml:"limit_throttle"`
}

type StakingConfig struct {
	MinimumStake       float64   `toml:"minimum_stake" yaml:"minimum_stake"`
	StakeMultiplier    float64   `toml:"stake_multiplier" yaml:"stake_multiplier"`
	StakeLadder        []float64 `toml:"stake_ladder" yaml:"stake_ladder"`
	WeightLadder       []float64 `toml:"weight_ladder" yaml:"weight_ladder"`
	GroupSize          int       `toml:"group_size" yaml:"group_size"`
	GroupLadder        []float64 `toml:"group_ladder" yaml:"group_ladder"`
	GroupStartingStake float64   `toml:"group_starting_stake" yaml:"group_starting_stake"`
	PriceBandLow       float64   `toml:"price_band_low" yaml:"price_band_low"`
	PriceBandHigh      float64   `toml:"price_band_high" yaml:"price_band_high"`
}

type StrategyConfig struct {
	Enabled []string `toml:"enabled" yaml:"enabled"`
	Live    []string `toml:"live" yaml:"live"`
}

type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token" yaml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id" yaml:"telegram_chat_id"`
	MaxRetries     int    `toml:"max_retries" yaml:"max_retries"`
}

type WinnersConfig struct {
	FeedURL string `toml:"feed_url" yaml:"feed_url"`
}

// Duration wraps time.Duration for TOML and YAML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Load reads defaults, then the TOML or YAML file at path, then environment overrides.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Exchange.Username, "BETBOT_USERNAME")
	setString(&cfg.Exchange.Password, "BETBOT_PASSWORD")
	setString(&cfg.Exchange.AppKey, "BETBOT_APP_KEY")
	setString(&cfg.General.DatabaseURL, "DATABASE_URL")
	setString(&cfg.General.RedisURL, "REDIS_URL")
	setString(&cfg.Notify.TelegramToken, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")
	setString(&cfg.Winners.FeedURL, "BETBOT_WINNER_FEED")
	if v := os.Getenv("BETBOT_LIVE_MODE"); v != "" {
		if live, err := strconv.ParseBool(v); err == nil {
			cfg.General.LiveMode = live
		}
	}
}

// Validate checks the cadence and staking constraints the workers rely on.
func (c *Config) Validate() error {
	renew := c.Schedule.SessionRenew.Duration
	if renew <= 7*time.Minute || renew >= 20*time.Minute {
		return fmt.Errorf("session_renew %s must be between the 7m rate limit and the 20m idle expiry", renew)
	}
	if c.Tracker.Trigger.Duration <= c.Schedule.PlayWindow.Duration {
		return fmt.Errorf("tracker trigger %s must exceed play window %s", c.Tracker.Trigger.Duration, c.Schedule.PlayWindow.Duration)
	}
	if c.Execution.LimitAttempts < 1 {
		return fmt.Errorf("limit_attempts must be at least 1")
	}
	if len(c.Staking.StakeLadder) == 0 || len(c.Staking.WeightLadder) == 0 {
		return fmt.Errorf("stake and weight ladders must not be empty")
	}
	if c.Staking.GroupSize < 1 || len(c.Staking.GroupLadder) < c.Staking.GroupSize {
		return fmt.Errorf("group ladder needs at least group_size (%d) rungs", c.Staking.GroupSize)
	}
	if c.Staking.MinimumStake <= 0 {
		return fmt.Errorf("minimum_stake must be positive")
	}
	switch c.General.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown db_driver %q", c.General.DBDriver)
	}
	switch c.Tracker.Mode {
	case "snapshot", "indicative":
	default:
		return fmt.Errorf("unknown tracker mode %q", c.Tracker.Mode)
	}
	return nil
}

// IsLive reports whether ref is configured to place real bets.
func (c StrategyConfig) IsLive(ref string) bool {
	for _, r := range c.Live {
		if r == ref {
			return true
		}
	}
	return false
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBDriver:  "sqlite",
			DBPath:    "./data/betbot.db",
			CacheTTL:  Duration{30 * time.Second},
			LogLevel:  "info",
			LogFormat: "json",
			HTTPAddr:  ":9090",
		},
		Exchange: ExchangeConfig{
			IdentityURL:       "https://identitysso.betfair.com",
			BettingURL:        "https://api.betfair.com/exchange/betting",
			AccountURL:        "https://api.betfair.com/exchange/account",
			Wallet:            "UK",
			RequestsPerSecond: 5,
			Timeout:           Duration{10 * time.Second},
		},
		Schedule: ScheduleConfig{
			SessionRenew:      Duration{15 * time.Minute},
			CatalogInterval:   Duration{15 * time.Minute},
			CatalogBackoff:    Duration{5 * time.Minute},
			PlayGuard:         Duration{60 * time.Second},
			PlayWindow:        Duration{60 * time.Second},
			IdlePoll:          Duration{60 * time.Second},
			ReconcileInterval: Duration{20 * time.Second},
			FundsInterval:     Duration{10 * time.Minute},
			NightlyHour:       1,
			WorkerCooldown:    Duration{60 * time.Second},
		},
		Catalog: CatalogConfig{
			EventTypeIDs: []string{"7"},
			MarketTypes:  []string{"WIN"},
			Countries:    []string{"GB"},
			MaxResults:   1000,
		},
		Tracker: TrackerConfig{
			Mode:                "snapshot",
			Trigger:             Duration{70 * time.Second},
			Fallback:            Duration{60 * time.Second},
			PreStartPoll:        Duration{5 * time.Second},
			FinalPoll:           Duration{1 * time.Second},
			FinalWindow:         Duration{5 * time.Second},
			InPlayPoll:          Duration{5 * time.Second},
			ClosingPoll:         Duration{30 * time.Second},
			IndicativeLead:      Duration{5 * time.Second},
			IndicativePoll:      Duration{1 * time.Second},
			IndicativeThreshold: 1.05,
			MaxWatch:            Duration{3 * time.Hour},
		},
		Execution: ExecutionConfig{
			LimitAttempts: 5,
			LimitThrottle: Duration{1 * time.Second},
		},
		Staking: StakingConfig{
			MinimumStake:       2.0,
			StakeMultiplier:    1.0,
			StakeLadder:        []float64{1, 1, 2, 4, 8, 16},
			WeightLadder:       []float64{1, 1, 2, 4, 8, 16},
			GroupSize:          5,
			GroupLadder:        []float64{1, 1, 2, 2, 4},
			GroupStartingStake: 2.0,
			PriceBandLow:       2.0,
			PriceBandHigh:      3.0,
		},
		Strategy: StrategyConfig{
			Enabled: []string{"B12S1", "G5B12", "BMS1", "BOS1", "ALS1"},
		},
		Notify: NotifyConfig{
			MaxRetries: 3,
		},
	}
}
