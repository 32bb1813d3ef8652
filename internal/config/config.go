// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	PriceSourceOffchain = "offchain"
	PriceSourceOnchain  = "onchain"

	BackoffNone  = "none"
	BackoffFixed = "fixed"
)

type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Debug     DebugConfig     `yaml:"debug"`
	Api       ApiConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers ProvidersConfig `yaml:"providers"`
	Balance   BalanceConfig   `yaml:"balance"`
	Price     PriceConfig     `yaml:"price"`
	Retry     RetryConfig     `yaml:"retry"`
	Verify    VerifyConfig    `yaml:"verify"`
	Explorer  ExplorerConfig  `yaml:"explorer"`
	Network   string          `yaml:"network" envconfig:"NETWORK"`
}

type LoggingConfig struct {
	Level string `yaml:"level" envconfig:"LOGGING_LEVEL"`
	// Optional path for a rotated log file in addition to stdout
	File       string `yaml:"file" envconfig:"LOGGING_FILE"`
	MaxSizeMB  int    `yaml:"maxSizeMb" envconfig:"LOGGING_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" envconfig:"LOGGING_MAX_BACKUPS"`
}

type DebugConfig struct {
	ListenAddress string `yaml:"address" envconfig:"DEBUG_ADDRESS"`
	ListenPort    uint   `yaml:"port" envconfig:"DEBUG_PORT"`
}

type ApiConfig struct {
	ListenAddress string `yaml:"address" envconfig:"API_ADDRESS"`
	ListenPort    uint   `yaml:"port" envconfig:"API_PORT"`
}

type StorageConfig struct {
	Directory string `yaml:"dir" envconfig:"STORAGE_DIR"`
}

type ProvidersConfig struct {
	BalanceUrl string        `yaml:"balanceUrl" envconfig:"PROVIDER_BALANCE_URL"`
	MarketUrl  string        `yaml:"marketUrl" envconfig:"PROVIDER_MARKET_URL"`
	ChainUrl   string        `yaml:"chainUrl" envconfig:"PROVIDER_CHAIN_URL"`
	BuilderUrl string        `yaml:"builderUrl" envconfig:"PROVIDER_BUILDER_URL"`
	WalletUrl  string        `yaml:"walletUrl" envconfig:"PROVIDER_WALLET_URL"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"PROVIDER_TIMEOUT"`
	// Requests per second allowed against each provider
	RateLimit float64 `yaml:"rateLimit" envconfig:"PROVIDER_RATE_LIMIT"`
}

type BalanceConfig struct {
	TTL time.Duration `yaml:"ttl" envconfig:"BALANCE_TTL"`
}

type PriceConfig struct {
	CacheTTL time.Duration `yaml:"cacheTtl" envconfig:"PRICE_CACHE_TTL"`
	// Source order used for venues without an explicit entry
	DefaultOrder []string `yaml:"defaultOrder"`
	// Per-venue source order, e.g. {"cetus": ["onchain", "offchain"]}
	Venues map[string][]string `yaml:"venues"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts" envconfig:"RETRY_MAX_ATTEMPTS"`
	Backoff     string        `yaml:"backoff" envconfig:"RETRY_BACKOFF"`
	Delay       time.Duration `yaml:"delay" envconfig:"RETRY_DELAY"`
	// User-triggered retries per second across all keys
	RateLimit float64 `yaml:"rateLimit" envconfig:"RETRY_RATE_LIMIT"`
}

type VerifyConfig struct {
	Delay    time.Duration `yaml:"delay" envconfig:"VERIFY_DELAY"`
	Interval time.Duration `yaml:"interval" envconfig:"VERIFY_INTERVAL"`
	TTL      time.Duration `yaml:"ttl" envconfig:"VERIFY_TTL"`
}

type ExplorerConfig struct {
	BaseUrl string `yaml:"baseUrl" envconfig:"EXPLORER_BASE_URL"`
}

// Singleton config instance with default values
var globalConfig = &Config{
	Network: "mainnet",
	Logging: LoggingConfig{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 3,
	},
	Debug: DebugConfig{
		ListenAddress: "localhost",
		ListenPort:    0,
	},
	Api: ApiConfig{
		ListenAddress: "localhost",
		ListenPort:    8080,
	},
	Storage: StorageConfig{
		Directory: "./.tally",
	},
	Providers: ProvidersConfig{
		Timeout:   10 * time.Second,
		RateLimit: 5,
	},
	Balance: BalanceConfig{
		TTL: 30 * time.Second,
	},
	Price: PriceConfig{
		CacheTTL:     10 * time.Second,
		DefaultOrder: []string{PriceSourceOffchain, PriceSourceOnchain},
	},
	Retry: RetryConfig{
		MaxAttempts: 3,
		Backoff:     BackoffNone,
		RateLimit:   1,
	},
	Verify: VerifyConfig{
		Delay:    3 * time.Second,
		Interval: 2 * time.Second,
		TTL:      time.Minute,
	},
	Explorer: ExplorerConfig{
		BaseUrl: "https://suiscan.xyz/mainnet",
	},
}

func Load(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Load config values from environment variables
	// We use "dummy" as the app name here to (mostly) prevent picking up env
	// vars that we hadn't explicitly specified in annotations above
	err := envconfig.Process("dummy", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := globalConfig.Validate(); err != nil {
		return nil, err
	}
	return globalConfig, nil
}

// Validate checks the config for values the rest of the program cannot use
func (cfg *Config) Validate() error {
	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry.maxAttempts must be greater than zero")
	}
	switch cfg.Retry.Backoff {
	case BackoffNone, BackoffFixed:
	default:
		return fmt.Errorf("unknown retry backoff: %s", cfg.Retry.Backoff)
	}
	if err := validateSourceOrder(cfg.Price.DefaultOrder); err != nil {
		return fmt.Errorf("price.defaultOrder: %w", err)
	}
	for venue, order := range cfg.Price.Venues {
		if err := validateSourceOrder(order); err != nil {
			return fmt.Errorf("price.venues[%s]: %w", venue, err)
		}
	}
	return nil
}

// SourceOrder returns the price source order for the given venue. Explicit
// config wins over the built-in venue profile
func (cfg *Config) SourceOrder(venue string) []string {
	if order, ok := cfg.Price.Venues[venue]; ok && len(order) > 0 {
		return order
	}
	if profile, ok := VenueProfiles[cfg.Network][venue]; ok {
		return profile.SourceOrder
	}
	return cfg.Price.DefaultOrder
}

func validateSourceOrder(order []string) error {
	if len(order) == 0 {
		return errors.New("empty source order")
	}
	for _, source := range order {
		switch source {
		case PriceSourceOffchain, PriceSourceOnchain:
		default:
			return fmt.Errorf("unknown price source: %s", source)
		}
	}
	return nil
}

// Return global config instance
func GetConfig() *Config {
	return globalConfig
}
