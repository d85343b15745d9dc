// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
}

// Pair names the two legs of a candidate pair; y is regressed on x.
type Pair struct {
	X string `yaml:"x" validate:"required"`
	Y string `yaml:"y" validate:"required,nefield=X"`
}

func (p Pair) String() string { return p.X + "/" + p.Y }

// Strategy holds the candidate pairs, the selected index and the model/trading tunables.
type Strategy struct {
	Pairs           []Pair  `yaml:"pairs" validate:"required,min=1,dive"`
	PairIndex       int     `yaml:"pair_index" validate:"gte=0"`
	EntryNotional   float64 `yaml:"entry_notional" validate:"gt=0"`
	EntryThreshold  float64 `yaml:"entry_threshold" validate:"gt=0"`
	ExitThreshold   float64 `yaml:"exit_threshold" validate:"gte=0,ltfield=EntryThreshold"`
	ADFSignificance float64 `yaml:"adf_significance" validate:"gt=0,lt=1"`
	Lookback        int     `yaml:"lookback" validate:"gte=8"`
	BarSize         string  `yaml:"bar_size" validate:"required"`
	PriceField      string  `yaml:"price_field" validate:"required"`
	// ReuseExitModel lets the entry check reuse a model already fitted earlier in the same tick.
	ReuseExitModel bool `yaml:"reuse_exit_model"`
}

// Synthetic configures the offline cointegrated pair generator.
type Synthetic struct {
	Seed       int64   `yaml:"seed"`
	Slope      float64 `yaml:"slope"`
	Intercept  float64 `yaml:"intercept"`
	Noise      float64 `yaml:"noise" validate:"gte=0"`
	StartPrice float64 `yaml:"start_price" validate:"gt=0"`
	Bars       int     `yaml:"bars" validate:"gte=0"`
}

// Exchange selects the price source.
type Exchange struct {
	Provider  string    `yaml:"provider" validate:"oneof=synthetic binance"`
	BaseURL   string    `yaml:"base_url"`
	StreamURL string    `yaml:"stream_url"`
	Stream    bool      `yaml:"stream"`
	Synthetic Synthetic `yaml:"synthetic"`
}

// Risk encodes guard-rails for how much size the engine may take on.
type Risk struct {
	MaxNotionalPerLeg float64 `yaml:"max_notional_per_leg" validate:"gte=0"`
	MaxGrossNotional  float64 `yaml:"max_gross_notional" validate:"gte=0"`
}

// Schedule controls how often the engine is invoked.
type Schedule struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	// RunAt delays the first tick to the next HH:MM wall-clock time; empty starts immediately.
	RunAt string `yaml:"run_at" validate:"omitempty,datetime=15:04"`
}

// Paper captures paper-broker settings.
type Paper struct {
	StartingCash       float64 `yaml:"starting_cash" validate:"gt=0"`
	CommissionPerShare float64 `yaml:"commission_per_share" validate:"gte=0"`
	Slippage           float64 `yaml:"slippage" validate:"gte=0"`
	JournalPath        string  `yaml:"journal_path"`
	DBPath             string  `yaml:"db_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Strategy Strategy `yaml:"strategy"`
	Risk     Risk     `yaml:"risk"`
	Schedule Schedule `yaml:"schedule"`
	Paper    Paper    `yaml:"paper"`
}

var validate = validator.New()

// Default returns the configuration used when a key is absent from the YAML file.
func Default() *Config {
	return &Config{
		App: App{Name: "pairsbot", Env: "dev", MetricsAddr: ":9102", LogLevel: "info"},
		Exchange: Exchange{
			Provider: "synthetic",
			Synthetic: Synthetic{
				Seed:       618,
				Slope:      1.5,
				Noise:      1,
				StartPrice: 100,
				Bars:       1000,
			},
		},
		Strategy: Strategy{
			Pairs: []Pair{
				{X: "CAT", Y: "DE"},
				{X: "PEP", Y: "COKE"},
				{X: "C", Y: "BAC"},
				{X: "INFY", Y: "WIT"},
			},
			PairIndex:       3,
			EntryNotional:   10000,
			EntryThreshold:  1.5,
			ExitThreshold:   0,
			ADFSignificance: 0.05,
			Lookback:        250,
			BarSize:         "1d",
			PriceField:      "price",
		},
		Schedule: Schedule{Interval: 24 * time.Hour, RunAt: "09:45"},
		Paper: Paper{
			StartingCash:       100000,
			CommissionPerShare: 0.15,
			Slippage:           0.25,
		},
	}
}

// Validate checks field constraints and the selected pair index.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if c.Strategy.PairIndex >= len(c.Strategy.Pairs) {
		return fmt.Errorf("validate config: pair_index %d out of range (%d pairs)", c.Strategy.PairIndex, len(c.Strategy.Pairs))
	}
	return nil
}

// SelectedPair returns the pair chosen by PairIndex.
func (c *Config) SelectedPair() (Pair, error) {
	if c.Strategy.PairIndex < 0 || c.Strategy.PairIndex >= len(c.Strategy.Pairs) {
		return Pair{}, errors.New("pair_index out of range")
	}
	return c.Strategy.Pairs[c.Strategy.PairIndex], nil
}

// Load reads a YAML file from disk over the defaults and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
