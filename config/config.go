// config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Strategy names accepted in the strategies block.
const (
	StrategyMomentum      = "momentum"
	StrategyMeanReversion = "mean_reversion"
	StrategyBreakout      = "breakout"
	StrategyModel         = "model"
)

// Aggregation modes for combining same-direction signals.
const (
	AggregateMax  = "max"
	AggregateMean = "mean"
)

// TierCount is the number of take-profit tiers a position walks through.
const TierCount = 5

// CycleConfig controls the trading loop cadence and per-call timeouts.
type CycleConfig struct {
	IntervalSeconds     int `yaml:"interval_seconds"`
	SourceTimeoutMs     int `yaml:"source_timeout_ms"`
	DataTimeoutMs       int `yaml:"data_timeout_ms"`
	OrderTimeoutSeconds int `yaml:"order_timeout_seconds"`
	ScanWorkers         int `yaml:"scan_workers"`
	HistoryLength       int `yaml:"history_length"`
}

func (c *CycleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c *CycleConfig) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutMs) * time.Millisecond
}

func (c *CycleConfig) DataTimeout() time.Duration {
	return time.Duration(c.DataTimeoutMs) * time.Millisecond
}

func (c *CycleConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutSeconds) * time.Second
}

// SessionConfig describes regular market hours and the entry/flatten offsets.
type SessionConfig struct {
	Timezone                  string `yaml:"timezone"`
	Open                      string `yaml:"open"`  // "09:30"
	Close                     string `yaml:"close"` // "16:00"
	WarmupMinutes             int    `yaml:"warmup_minutes"`
	FlattenMinutesBeforeClose int    `yaml:"flatten_minutes_before_close"`
}

// PolicyConfig holds the meta-policy arbitration knobs.
type PolicyConfig struct {
	Aggregation         string  `yaml:"aggregation"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// LevelThresholds is the minimum intent confidence required at each risk level.
type LevelThresholds struct {
	Normal   float64 `yaml:"normal"`
	Elevated float64 `yaml:"elevated"`
	Danger   float64 `yaml:"danger"`
}

// RiskConfig holds the guardrail limits.
type RiskConfig struct {
	MaxOpenPositions     int             `yaml:"max_open_positions"`
	DailyLossFraction    float64         `yaml:"daily_loss_fraction"`
	DrawdownFraction     float64         `yaml:"drawdown_fraction"`
	MaxLossStreak        int             `yaml:"max_loss_streak"`
	ConfidenceThresholds LevelThresholds `yaml:"confidence_thresholds"`
	MaxIVRank            float64         `yaml:"max_iv_rank"`
	VolIndexSymbol       string          `yaml:"vol_index_symbol"`
	MaxVolIndex          float64         `yaml:"max_vol_index"`
	MaxSpreadFraction    float64         `yaml:"max_spread_fraction"`
	AuthFailureCycles    int             `yaml:"auth_failure_cycles"`
}

// LifecycleConfig holds the take-profit ladder and stop parameters.
type LifecycleConfig struct {
	TierThresholds    []float64 `yaml:"tier_thresholds"`
	TierExitFractions []float64 `yaml:"tier_exit_fractions"`
	StopLossFraction  float64   `yaml:"stop_loss_fraction"`
	TrailingFraction  float64   `yaml:"trailing_fraction"`
	QuantityPrecision int       `yaml:"quantity_precision"`
}

// SizingConfig controls how much equity an entry commits.
type SizingConfig struct {
	AllocationFraction float64 `yaml:"allocation_fraction"`
	MaxQuantity        float64 `yaml:"max_quantity"`
}

// MomentumConfig configures the rate-of-change source.
type MomentumConfig struct {
	Lookback   int     `yaml:"lookback"`
	Threshold  float64 `yaml:"threshold"`
	Saturation float64 `yaml:"saturation"`
}

// MeanReversionConfig configures the z-score source.
type MeanReversionConfig struct {
	Window      int     `yaml:"window"`
	ZEntry      float64 `yaml:"z_entry"`
	ZSaturation float64 `yaml:"z_saturation"`
}

// BreakoutConfig configures the channel breakout source.
type BreakoutConfig struct {
	Window     int     `yaml:"window"`
	Saturation float64 `yaml:"saturation"`
}

// ModelConfig configures the external model scorer source.
type ModelConfig struct {
	MinScore float64 `yaml:"min_score"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds       int    `yaml:"http_timeout_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	LogDirectory             string `yaml:"log_directory"`
	StateDirectory           string `yaml:"state_directory"`
}

// AdminConfig configures the HTTP control surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// SimulationConfig drives the paper simulator used when use_simulation is set.
type SimulationConfig struct {
	InitialPrice  float64 `yaml:"initial_price"`
	Volatility    float64 `yaml:"volatility"`
	SpreadFrac    float64 `yaml:"spread_fraction"`
	StartEquity   float64 `yaml:"start_equity"`
	Seed          int64   `yaml:"seed"`
	IVRank        float64 `yaml:"iv_rank"`
	VolIndexLevel float64 `yaml:"vol_index_level"`
}

// StrategyConfig is a generic container for a single strategy's configuration.
type StrategyConfig struct {
	Name    string      `yaml:"name"`
	Enabled bool        `yaml:"enabled"`
	Config  interface{} `yaml:"config"`
}

// Config is the top-level configuration structure.
type Config struct {
	Universe      []string          `yaml:"universe"`
	UseSimulation bool              `yaml:"use_simulation"`
	Cycle         *CycleConfig      `yaml:"cycle"`
	Session       *SessionConfig    `yaml:"session"`
	Policy        *PolicyConfig     `yaml:"policy"`
	Risk          *RiskConfig       `yaml:"risk"`
	Lifecycle     *LifecycleConfig  `yaml:"lifecycle"`
	Sizing        *SizingConfig     `yaml:"sizing"`
	Simulation    *SimulationConfig `yaml:"simulation"`
	Normal        *NormalConfig     `yaml:"normal_config"`
	Admin         *AdminConfig      `yaml:"admin"`
	Logs          *LogConfig        `yaml:"logs"`

	// Enabled strategy blocks; nil means the strategy is not configured.
	Momentum      *MomentumConfig      `yaml:"-"`
	MeanReversion *MeanReversionConfig `yaml:"-"`
	Breakout      *BreakoutConfig      `yaml:"-"`
	Model         *ModelConfig         `yaml:"-"`
}

// NewConfig returns a Config carrying the documented defaults.
// Limits that decide money at risk still have to validate after the file is applied.
func NewConfig() *Config {
	return &Config{
		Cycle: &CycleConfig{
			IntervalSeconds:     30,
			SourceTimeoutMs:     2000,
			DataTimeoutMs:       2000,
			OrderTimeoutSeconds: 10,
			ScanWorkers:         4,
			HistoryLength:       120,
		},
		Session: &SessionConfig{
			Timezone:                  "America/New_York",
			Open:                      "09:30",
			Close:                     "16:00",
			WarmupMinutes:             15,
			FlattenMinutesBeforeClose: 15,
		},
		Policy: &PolicyConfig{
			Aggregation:         AggregateMax,
			ConfidenceThreshold: 0.20,
		},
		Risk: &RiskConfig{
			MaxOpenPositions:  5,
			DailyLossFraction: 0.03,
			DrawdownFraction:  0.06,
			MaxLossStreak:     3,
			ConfidenceThresholds: LevelThresholds{
				Normal:   0.20,
				Elevated: 0.50,
				Danger:   0.80,
			},
			MaxIVRank:         0.90,
			VolIndexSymbol:    "VIX",
			MaxVolIndex:       35,
			MaxSpreadFraction: 0.10,
			AuthFailureCycles: 3,
		},
		Lifecycle: &LifecycleConfig{
			TierThresholds:    []float64{0.40, 0.60, 1.00, 1.50, 2.00},
			TierExitFractions: []float64{0.50, 0.20, 0.25, 0.50, 1.00},
			StopLossFraction:  0.15,
			TrailingFraction:  0.20,
			QuantityPrecision: 0,
		},
		Sizing: &SizingConfig{
			AllocationFraction: 0.05,
			MaxQuantity:        10,
		},
		Simulation: &SimulationConfig{
			InitialPrice:  5,
			Volatility:    0.02,
			SpreadFrac:    0.02,
			StartEquity:   100000,
			Seed:          1,
			IVRank:        0.40,
			VolIndexLevel: 18,
		},
		Normal: &NormalConfig{
			HTTPTimeoutSeconds:       10,
			HeartbeatIntervalMinutes: 10,
			LogDirectory:             "logs",
			StateDirectory:           "state",
		},
		Admin: &AdminConfig{Listen: "127.0.0.1:8090"},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s, program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse applies YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := NewConfig()

	var raw struct {
		Config     `yaml:",inline"`
		Strategies []StrategyConfig `yaml:"strategies"`
	}
	raw.Config = *cfg

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	*cfg = raw.Config

	for _, s := range raw.Strategies {
		if !s.Enabled {
			continue
		}

		configBytes, err := yaml.Marshal(s.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to re-marshal strategy config '%s': %w", s.Name, err)
		}

		var target interface{}
		switch s.Name {
		case StrategyMomentum:
			cfg.Momentum = &MomentumConfig{Lookback: 10, Threshold: 0.01, Saturation: 0.05}
			target = cfg.Momentum
		case StrategyMeanReversion:
			cfg.MeanReversion = &MeanReversionConfig{Window: 30, ZEntry: 1.5, ZSaturation: 3}
			target = cfg.MeanReversion
		case StrategyBreakout:
			cfg.Breakout = &BreakoutConfig{Window: 20, Saturation: 0.03}
			target = cfg.Breakout
		case StrategyModel:
			cfg.Model = &ModelConfig{MinScore: 0.05}
			target = cfg.Model
		default:
			return nil, fmt.Errorf("unknown strategy '%s'", s.Name)
		}
		if err := yaml.Unmarshal(configBytes, target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s config: %w", s.Name, err)
		}
	}

	for i, sym := range cfg.Universe {
		cfg.Universe[i] = strings.ToUpper(strings.TrimSpace(sym))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// EnabledStrategies reports how many strategy blocks are active.
func (c *Config) EnabledStrategies() int {
	n := 0
	if c.Momentum != nil {
		n++
	}
	if c.MeanReversion != nil {
		n++
	}
	if c.Breakout != nil {
		n++
	}
	if c.Model != nil {
		n++
	}
	return n
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if len(c.Universe) == 0 {
		return fmt.Errorf("critical config missing: 'universe' must list at least one instrument")
	}
	seen := make(map[string]bool, len(c.Universe))
	for _, sym := range c.Universe {
		if sym == "" {
			return fmt.Errorf("config error: 'universe' contains an empty instrument")
		}
		if seen[sym] {
			return fmt.Errorf("config error: instrument %s listed twice in 'universe'", sym)
		}
		seen[sym] = true
	}
	if c.EnabledStrategies() == 0 {
		return fmt.Errorf("critical config missing: at least one entry in 'strategies' must be enabled")
	}

	if c.Cycle == nil || c.Session == nil || c.Policy == nil || c.Risk == nil ||
		c.Lifecycle == nil || c.Sizing == nil || c.Normal == nil || c.Logs == nil {
		return fmt.Errorf("critical config missing: a top-level configuration block was set to null")
	}

	if c.Cycle.IntervalSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'cycle.interval_seconds' must be positive")
	}
	if c.Cycle.SourceTimeoutMs <= 0 || c.Cycle.DataTimeoutMs <= 0 || c.Cycle.OrderTimeoutSeconds <= 0 {
		return fmt.Errorf("config error: cycle timeouts must all be positive")
	}
	if c.Cycle.ScanWorkers <= 0 {
		return fmt.Errorf("config error: 'cycle.scan_workers' must be positive")
	}
	if c.Cycle.HistoryLength < 2 {
		return fmt.Errorf("config error: 'cycle.history_length' must be at least 2")
	}

	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return fmt.Errorf("config error: 'session.timezone' %q: %w", c.Session.Timezone, err)
	}
	open, err := ParseClock(c.Session.Open)
	if err != nil {
		return fmt.Errorf("config error: 'session.open': %w", err)
	}
	closeAt, err := ParseClock(c.Session.Close)
	if err != nil {
		return fmt.Errorf("config error: 'session.close': %w", err)
	}
	if closeAt <= open {
		return fmt.Errorf("config error: session.close must be after session.open")
	}
	if c.Session.WarmupMinutes < 0 || c.Session.FlattenMinutesBeforeClose < 0 {
		return fmt.Errorf("config error: session offsets cannot be negative")
	}
	if time.Duration(c.Session.WarmupMinutes+c.Session.FlattenMinutesBeforeClose)*time.Minute >= closeAt-open {
		return fmt.Errorf("config error: warm-up and flatten offsets leave no entry window")
	}

	if c.Policy.Aggregation != AggregateMax && c.Policy.Aggregation != AggregateMean {
		return fmt.Errorf("config error: 'policy.aggregation' must be '%s' or '%s'", AggregateMax, AggregateMean)
	}
	if c.Policy.ConfidenceThreshold < 0 || c.Policy.ConfidenceThreshold > 1 {
		return fmt.Errorf("config error: 'policy.confidence_threshold' must be within [0,1]")
	}

	r := c.Risk
	if r.MaxOpenPositions <= 0 {
		return fmt.Errorf("critical config missing: 'risk.max_open_positions' must be positive")
	}
	if r.DailyLossFraction <= 0 || r.DailyLossFraction >= 1 {
		return fmt.Errorf("config error: 'risk.daily_loss_fraction' must be within (0,1)")
	}
	if r.DrawdownFraction <= r.DailyLossFraction || r.DrawdownFraction >= 1 {
		return fmt.Errorf("config error: 'risk.drawdown_fraction' must be larger than daily_loss_fraction and below 1")
	}
	if r.MaxLossStreak <= 0 {
		return fmt.Errorf("config error: 'risk.max_loss_streak' must be positive")
	}
	lt := r.ConfidenceThresholds
	if lt.Normal < 0 || lt.Normal > lt.Elevated || lt.Elevated > lt.Danger || lt.Danger > 1 {
		return fmt.Errorf("config error: 'risk.confidence_thresholds' must tighten normal <= elevated <= danger within [0,1]")
	}
	if r.MaxIVRank < 0 || r.MaxVolIndex < 0 || r.MaxSpreadFraction < 0 {
		return fmt.Errorf("config error: risk ceilings cannot be negative")
	}
	if r.AuthFailureCycles <= 0 {
		return fmt.Errorf("config error: 'risk.auth_failure_cycles' must be positive")
	}

	l := c.Lifecycle
	if len(l.TierThresholds) != TierCount || len(l.TierExitFractions) != TierCount {
		return fmt.Errorf("config error: lifecycle needs exactly %d tier thresholds and %d exit fractions", TierCount, TierCount)
	}
	prev := 0.0
	for i, th := range l.TierThresholds {
		if th <= prev {
			return fmt.Errorf("config error: lifecycle.tier_thresholds must be positive and strictly ascending (tier %d)", i+1)
		}
		prev = th
	}
	for i, f := range l.TierExitFractions {
		if f <= 0 || f > 1 {
			return fmt.Errorf("config error: lifecycle.tier_exit_fractions[%d] must be within (0,1]", i)
		}
	}
	if l.StopLossFraction <= 0 || l.StopLossFraction >= 1 {
		return fmt.Errorf("config error: 'lifecycle.stop_loss_fraction' must be within (0,1)")
	}
	if l.TrailingFraction <= 0 || l.TrailingFraction >= 1 {
		return fmt.Errorf("config error: 'lifecycle.trailing_fraction' must be within (0,1)")
	}
	if l.QuantityPrecision < 0 {
		return fmt.Errorf("config error: 'lifecycle.quantity_precision' cannot be negative")
	}

	if c.Sizing.AllocationFraction <= 0 || c.Sizing.AllocationFraction > 1 {
		return fmt.Errorf("config error: 'sizing.allocation_fraction' must be within (0,1]")
	}
	if c.Sizing.MaxQuantity < 0 {
		return fmt.Errorf("config error: 'sizing.max_quantity' cannot be negative")
	}

	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("critical config missing: 'normal_config.http_timeout_seconds' must be positive")
	}
	if c.Normal.LogDirectory == "" || c.Normal.StateDirectory == "" {
		return fmt.Errorf("critical config missing: 'normal_config.log_directory' and 'state_directory' must be set")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be set (e.g., 'info', 'debug')")
	}
	if c.Admin != nil && c.Admin.Enabled && c.Admin.Listen == "" {
		return fmt.Errorf("config error: 'admin.listen' is required when the admin server is enabled")
	}
	if c.UseSimulation && (c.Simulation == nil || c.Simulation.InitialPrice <= 0 || c.Simulation.StartEquity <= 0) {
		return fmt.Errorf("config error: simulation mode needs 'simulation.initial_price' and 'simulation.start_equity'")
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock time into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// EnvConfig carries secrets and endpoints read from the environment.
type EnvConfig struct {
	ApiKey        string
	ApiSecret     string
	BaseURL       string
	MarketDataURL string
	AnalyticsURL  string
	ModelURL      string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ApiKey:        os.Getenv("BROKER_API_KEY"),
		ApiSecret:     os.Getenv("BROKER_API_SECRET"),
		BaseURL:       os.Getenv("BROKER_BASE_URL"),
		MarketDataURL: os.Getenv("MARKET_DATA_URL"),
		AnalyticsURL:  os.Getenv("ANALYTICS_URL"),
		ModelURL:      os.Getenv("MODEL_SCORE_URL"),
	}
}
