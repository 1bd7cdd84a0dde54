package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	TickSeconds int      `yaml:"tick_seconds"`
	APIAddr     string   `yaml:"api_addr"`
	Symbols     []string `yaml:"symbols"`
	Database    struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Purity struct {
		DivergenceTolerancePct float64 `yaml:"divergence_tolerance_pct"`
		QualityFloor           int     `yaml:"quality_floor"`
		MaxJumpFactor          float64 `yaml:"max_jump_factor"`
		FreshnessWindowMinutes int     `yaml:"freshness_window_minutes"`
	} `yaml:"purity"`
	Sources struct {
		AdapterTimeoutSeconds int      `yaml:"adapter_timeout_seconds"`
		PhaseDeadlineSeconds  int      `yaml:"phase_deadline_seconds"`
		RateLimitPerSecond    float64  `yaml:"rate_limit_per_second"`
		MarketTiers           []string `yaml:"market_tiers"`
	} `yaml:"sources"`
	Cache struct {
		DefaultTTLSeconds    int `yaml:"default_ttl_seconds"`
		SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
		SweepGraceMinutes    int `yaml:"sweep_grace_minutes"`
	} `yaml:"cache"`
	Jobs struct {
		DedupeWindowMinutes int `yaml:"dedupe_window_minutes"`
		ReclaimGraceMinutes int `yaml:"reclaim_grace_minutes"`
	} `yaml:"jobs"`
	Retry struct {
		MaxAttempts int `yaml:"max_attempts"`
		BaseDelayMs int `yaml:"base_delay_ms"`
		MaxDelayMs  int `yaml:"max_delay_ms"`
	} `yaml:"retry"`
	LLM struct {
		Provider    string  `yaml:"provider"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		System      string  `yaml:"system"`
	} `yaml:"llm"`
}

func (c *Config) Validate() error {
	if c.Purity.QualityFloor < 0 || c.Purity.QualityFloor > 100 {
		return fmt.Errorf("purity.quality_floor must be within 0-100, got %d", c.Purity.QualityFloor)
	}
	if c.Purity.DivergenceTolerancePct <= 0 {
		return fmt.Errorf("purity.divergence_tolerance_pct must be positive, got %.3f", c.Purity.DivergenceTolerancePct)
	}
	if len(c.Sources.MarketTiers) == 0 {
		return errors.New("sources.market_tiers cannot be empty")
	}
	if len(c.Symbols) == 0 {
		return errors.New("symbols cannot be empty")
	}
	switch c.LLM.Provider {
	case "CLAUDE", "OPENAI", "NOOP", "":
	default:
		return fmt.Errorf("llm.provider must be 'CLAUDE', 'OPENAI' or 'NOOP', got '%s'", c.LLM.Provider)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.TickSeconds == 0 {
		c.TickSeconds = 60
	}
	if c.APIAddr == "" {
		c.APIAddr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "marketlens.db"
	}
	if c.Purity.DivergenceTolerancePct == 0 {
		c.Purity.DivergenceTolerancePct = 0.5
	}
	if c.Purity.QualityFloor == 0 {
		c.Purity.QualityFloor = 70
	}
	if c.Purity.MaxJumpFactor == 0 {
		c.Purity.MaxJumpFactor = 3
	}
	if c.Purity.FreshnessWindowMinutes == 0 {
		c.Purity.FreshnessWindowMinutes = 15
	}
	if c.Sources.AdapterTimeoutSeconds == 0 {
		c.Sources.AdapterTimeoutSeconds = 10
	}
	if c.Sources.PhaseDeadlineSeconds == 0 {
		c.Sources.PhaseDeadlineSeconds = 45
	}
	if c.Sources.RateLimitPerSecond == 0 {
		c.Sources.RateLimitPerSecond = 2
	}
	if c.Cache.DefaultTTLSeconds == 0 {
		c.Cache.DefaultTTLSeconds = 900
	}
	if c.Cache.SweepIntervalMinutes == 0 {
		c.Cache.SweepIntervalMinutes = 10
	}
	if c.Cache.SweepGraceMinutes == 0 {
		c.Cache.SweepGraceMinutes = 30
	}
	if c.Jobs.DedupeWindowMinutes == 0 {
		c.Jobs.DedupeWindowMinutes = 30
	}
	if c.Jobs.ReclaimGraceMinutes == 0 {
		c.Jobs.ReclaimGraceMinutes = 5
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMs == 0 {
		c.Retry.BaseDelayMs = 200
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 2000
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}

// Duration accessors so callers never re-derive units from the raw yaml ints.

func (c *Config) Tick() time.Duration            { return time.Duration(c.TickSeconds) * time.Second }
func (c *Config) AdapterTimeout() time.Duration  { return time.Duration(c.Sources.AdapterTimeoutSeconds) * time.Second }
func (c *Config) PhaseDeadline() time.Duration   { return time.Duration(c.Sources.PhaseDeadlineSeconds) * time.Second }
func (c *Config) CacheTTL() time.Duration        { return time.Duration(c.Cache.DefaultTTLSeconds) * time.Second }
func (c *Config) SweepInterval() time.Duration   { return time.Duration(c.Cache.SweepIntervalMinutes) * time.Minute }
func (c *Config) SweepGrace() time.Duration      { return time.Duration(c.Cache.SweepGraceMinutes) * time.Minute }
func (c *Config) DedupeWindow() time.Duration    { return time.Duration(c.Jobs.DedupeWindowMinutes) * time.Minute }
func (c *Config) ReclaimGrace() time.Duration    { return time.Duration(c.Jobs.ReclaimGraceMinutes) * time.Minute }
func (c *Config) FreshnessWindow() time.Duration { return time.Duration(c.Purity.FreshnessWindowMinutes) * time.Minute }
func (c *Config) RetryBaseDelay() time.Duration  { return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond }
func (c *Config) RetryMaxDelay() time.Duration   { return time.Duration(c.Retry.MaxDelayMs) * time.Millisecond }
