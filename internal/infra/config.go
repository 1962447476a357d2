package infra

import (
	"fmt"
	"os"
	"strings"
	"time"

	"optionclear/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// AssetConfig is one allow-listed underlying in the config file.
type AssetConfig struct {
	Symbol     string          `yaml:"symbol"`
	MinPremium decimal.Decimal `yaml:"min_premium"`
}

// Config holds all application settings. Sensitive values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Clearing struct {
		Owner                    string        `yaml:"owner"`
		QuoteAsset               string        `yaml:"quote_asset"`
		Treasury                 string        `yaml:"treasury"`
		FeeRateBps               int64         `yaml:"fee_rate_bps"`
		ReferralRateBps          int64         `yaml:"referral_rate_bps"`
		PriceValiditySec         int           `yaml:"price_validity_sec"`
		MinDurationSec           int           `yaml:"min_duration_sec"`
		MaxDurationSec           int           `yaml:"max_duration_sec"`
		DefaultExerciseWindowSec int           `yaml:"default_exercise_window_sec"`
		CrankPollIntervalSec     int           `yaml:"crank_poll_interval_sec"`
		Assets                   []AssetConfig `yaml:"assets"`
		Publishers               []string      `yaml:"publishers"`
	} `yaml:"clearing"`

	Feed struct {
		WSURL     string   `yaml:"ws_url"`
		Symbols   []string `yaml:"symbols"`
		Publisher string   `yaml:"publisher"`
	} `yaml:"feed"`

	API struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"api"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Clearing.Owner == "" {
		return fmt.Errorf("clearing owner account is required")
	}
	if _, err := c.ClearingParams(); err != nil {
		return err
	}
	if c.Feed.WSURL != "" {
		if !strings.HasPrefix(c.Feed.WSURL, "ws://") && !strings.HasPrefix(c.Feed.WSURL, "wss://") {
			return fmt.Errorf("invalid feed WS URL: %s", c.Feed.WSURL)
		}
		if c.Feed.Publisher == "" {
			return fmt.Errorf("feed publisher account is required when the feed is enabled")
		}
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api listen address is required")
	}
	return nil
}

// ClearingParams maps the config into the domain parameter block,
// applying defaults where the file is silent.
func (c *Config) ClearingParams() (domain.ClearingParams, error) {
	p := domain.ClearingParams{
		QuoteAsset:            c.Clearing.QuoteAsset,
		Treasury:              c.Clearing.Treasury,
		FeeRateBps:            c.Clearing.FeeRateBps,
		ReferralRateBps:       c.Clearing.ReferralRateBps,
		PriceValidity:         time.Duration(c.Clearing.PriceValiditySec) * time.Second,
		MinDuration:           time.Duration(c.Clearing.MinDurationSec) * time.Second,
		MaxDuration:           time.Duration(c.Clearing.MaxDurationSec) * time.Second,
		DefaultExerciseWindow: time.Duration(c.Clearing.DefaultExerciseWindowSec) * time.Second,
		Assets:                make(map[string]domain.AssetListing, len(c.Clearing.Assets)),
	}
	if p.PriceValidity == 0 {
		p.PriceValidity = time.Hour
	}
	if p.DefaultExerciseWindow == 0 {
		p.DefaultExerciseWindow = 24 * time.Hour
	}
	for _, a := range c.Clearing.Assets {
		p.Assets[a.Symbol] = domain.AssetListing{Symbol: a.Symbol, MinPremium: a.MinPremium}
	}
	if err := p.Validate(); err != nil {
		return domain.ClearingParams{}, err
	}
	return p, nil
}

// overrideWithEnv applies environment overrides where present.
func overrideWithEnv(cfg *Config) {
	if owner := os.Getenv("OPTIONCLEAR_OWNER"); owner != "" {
		cfg.Clearing.Owner = owner
	}
	if treasury := os.Getenv("OPTIONCLEAR_TREASURY"); treasury != "" {
		cfg.Clearing.Treasury = treasury
	}
	if addr := os.Getenv("OPTIONCLEAR_API_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if url := os.Getenv("OPTIONCLEAR_FEED_URL"); url != "" {
		cfg.Feed.WSURL = url
	}
}
