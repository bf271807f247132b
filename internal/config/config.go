// Package config loads the worker process configuration from a YAML file,
// a .env file and the environment, in increasing precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/settings"
	"solana-volume-engine/internal/workers"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "config.yaml"

// Config is the worker process configuration.
type Config struct {
	UseMemory  bool             `yaml:"use_memory"`
	Log        LogConfig        `yaml:"log"`
	Solana     SolanaConfig     `yaml:"solana"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Clickhouse ClickhouseConfig `yaml:"clickhouse"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	NATS       NATSConfig       `yaml:"nats"`
	Keys       KeysConfig       `yaml:"keys"`
	Jito       JitoConfig       `yaml:"jito"`
	Swap       SwapConfig       `yaml:"swap"`
	Trading    TradingConfig    `yaml:"trading"`
	Workers    WorkersConfig    `yaml:"workers"`
	Ops        OpsConfig        `yaml:"ops"`
	Sentry     SentryConfig     `yaml:"sentry"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// SolanaConfig configures the RPC and websocket endpoints.
type SolanaConfig struct {
	RPCEndpoint       string `yaml:"rpc_endpoint"`
	WSEndpoint        string `yaml:"ws_endpoint"`
	Commitment        string `yaml:"commitment"`
	ConfirmTimeoutSec int    `yaml:"confirm_timeout_sec"`
	MaxRetries        int    `yaml:"max_retries"`
}

// PostgresConfig configures the primary store.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// ClickhouseConfig configures the optional execution archive.
type ClickhouseConfig struct {
	DSN string `yaml:"dsn"`
}

// RabbitMQConfig configures the broker.
type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

// NATSConfig configures the status notifier. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	TimeoutSec    int    `yaml:"timeout_sec"`
}

// KeysConfig selects the keyring. A KMS service URL takes precedence over
// the local master key.
type KeysConfig struct {
	KMSServiceURL string `yaml:"kms_service_url"`
	KMSAuthToken  string `yaml:"kms_auth_token"`
	KMSKeyAlias   string `yaml:"kms_key_alias"`
	MasterKey     string `yaml:"master_key"` // base64, 32 bytes
}

// JitoConfig holds environment-level relay defaults.
type JitoConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RelayURL      string `yaml:"relay_url"`
	AuthKey       string `yaml:"auth_key"`
	TipLamports   uint64 `yaml:"tip_lamports"`
	MaxBundleSize int    `yaml:"max_bundle_size"`
}

// SwapConfig configures the swap instruction service.
type SwapConfig struct {
	ServiceURL string `yaml:"service_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// TradingConfig holds the lowest-precedence trading defaults.
type TradingConfig struct {
	MinAmountSOL        string `yaml:"min_amount_sol"`
	MaxAmountSOL        string `yaml:"max_amount_sol"`
	MinIntervalSec      int    `yaml:"min_interval_sec"`
	MaxIntervalSec      int    `yaml:"max_interval_sec"`
	SlippageBps         int    `yaml:"slippage_bps"`
	SellTimes           int    `yaml:"sell_times"`
	StepDelaySec        int    `yaml:"step_delay_sec"`
	PriorityFee         uint64 `yaml:"priority_fee_micro_lamports"`
	StrictPairing       bool   `yaml:"strict_pairing"`
	SellOffsetSec       int    `yaml:"sell_offset_sec"`
	FeeReserveLamports  uint64 `yaml:"fee_reserve_lamports"`
	FundingReserve      uint64 `yaml:"funding_reserve_lamports"`
	GatherBufferLamport uint64 `yaml:"gather_buffer_lamports"`
	TransfersPerTx      int    `yaml:"transfers_per_tx"`
}

// WorkersConfig sizes the runners.
type WorkersConfig struct {
	Concurrency           map[string]int `yaml:"concurrency"`
	MaxAttempts           map[string]int `yaml:"max_attempts"`
	IdempotencyCacheSize  int            `yaml:"idempotency_cache_size"`
	AggregatorIntervalSec int            `yaml:"aggregator_interval_sec"`
}

// OpsConfig configures the health and metrics server.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// SentryConfig enables dead-letter alerts when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Solana: SolanaConfig{
			RPCEndpoint:       "https://api.mainnet-beta.solana.com",
			Commitment:        "confirmed",
			ConfirmTimeoutSec: 60,
			MaxRetries:        3,
		},
		NATS: NATSConfig{SubjectPrefix: "campaign", TimeoutSec: 5},
		Jito: JitoConfig{
			TipLamports:   10_000,
			MaxBundleSize: settings.DefaultMaxBundleSize,
		},
		Swap: SwapConfig{TimeoutSec: 10},
		Trading: TradingConfig{
			MinAmountSOL:        "0.01",
			MaxAmountSOL:        "0.05",
			MinIntervalSec:      30,
			MaxIntervalSec:      120,
			SlippageBps:         100,
			SellTimes:           5,
			StepDelaySec:        10,
			SellOffsetSec:       3,
			FeeReserveLamports:  5_000_000,
			FundingReserve:      10_000_000,
			GatherBufferLamport: 5_000,
			TransfersPerTx:      workers.DefaultTransfersPerTx,
		},
		Workers: WorkersConfig{
			Concurrency: map[string]int{
				domain.QueueTradeBuy:    3,
				domain.QueueTradeSell:   3,
				domain.QueueDistribute:  2,
				domain.QueueFundsGather: 1,
				domain.QueueStatus:      5,
			},
			MaxAttempts:           map[string]int{},
			IdempotencyCacheSize:  10_000,
			AggregatorIntervalSec: 15,
		},
		Ops: OpsConfig{Addr: ":8080"},
	}
}

// Load reads .env (if present), the YAML file at path (if present) and the
// environment, applies overrides (command line flags) and validates the
// result. An empty path means DefaultPath.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = DefaultPath
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	overrideFromEnv(cfg)
	for _, o := range overrides {
		o(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	setString(&cfg.Solana.RPCEndpoint, "SOLANA_RPC_ENDPOINT")
	setString(&cfg.Solana.WSEndpoint, "SOLANA_WS_ENDPOINT")
	setString(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setString(&cfg.Clickhouse.DSN, "CLICKHOUSE_DSN")
	setString(&cfg.RabbitMQ.URL, "RABBITMQ_URL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Keys.KMSServiceURL, "KMS_SERVICE_URL")
	setString(&cfg.Keys.KMSAuthToken, "KMS_AUTH_TOKEN")
	setString(&cfg.Keys.KMSKeyAlias, "KMS_KEY_ALIAS")
	setString(&cfg.Keys.MasterKey, "WALLET_MASTER_KEY")
	setString(&cfg.Jito.RelayURL, "JITO_RELAY_URL")
	setString(&cfg.Jito.AuthKey, "JITO_AUTH_KEY")
	setString(&cfg.Swap.ServiceURL, "SWAP_SERVICE_URL")
	setString(&cfg.Swap.APIKey, "SWAP_API_KEY")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Ops.Addr, "OPS_ADDR")
	setString(&cfg.Sentry.DSN, "SENTRY_DSN")
	setString(&cfg.Sentry.Environment, "SENTRY_ENVIRONMENT")

	if v := os.Getenv("USE_JITO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Jito.Enabled = b
		}
	}
	if v := os.Getenv("USE_MEMORY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.UseMemory = b
		}
	}
	if v := os.Getenv("STRICT_PAIRING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trading.StrictPairing = b
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration for a runnable process.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Solana.RPCEndpoint == "" {
		errs = append(errs, errors.New("solana.rpc_endpoint is required"))
	}
	if !c.UseMemory {
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required"))
		}
		if c.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("rabbitmq.url is required"))
		}
	}
	if c.Keys.KMSServiceURL == "" {
		if _, err := c.MasterKey(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Swap.ServiceURL == "" {
		errs = append(errs, errors.New("swap.service_url is required"))
	}
	if _, err := c.TradingDefaults(); err != nil {
		errs = append(errs, err)
	}
	for q, n := range c.Workers.Concurrency {
		if n < 1 {
			errs = append(errs, fmt.Errorf("workers.concurrency.%s must be positive", q))
		}
	}

	return errors.Join(errs...)
}

// MasterKey decodes the local secretbox master key.
func (c *Config) MasterKey() ([]byte, error) {
	if c.Keys.MasterKey == "" {
		return nil, errors.New("keys.master_key or keys.kms_service_url is required")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.Keys.MasterKey))
	if err != nil {
		return nil, fmt.Errorf("keys.master_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("keys.master_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// TradingDefaults returns the environment tier of settings resolution.
func (c *Config) TradingDefaults() (settings.Defaults, error) {
	lo, err := decimal.NewFromString(c.Trading.MinAmountSOL)
	if err != nil {
		return settings.Defaults{}, fmt.Errorf("trading.min_amount_sol: %w", err)
	}
	hi, err := decimal.NewFromString(c.Trading.MaxAmountSOL)
	if err != nil {
		return settings.Defaults{}, fmt.Errorf("trading.max_amount_sol: %w", err)
	}
	if !lo.IsPositive() || hi.LessThan(lo) {
		return settings.Defaults{}, fmt.Errorf("trading amounts must satisfy 0 < min <= max, got %s..%s", lo, hi)
	}
	if c.Trading.MinIntervalSec < 0 || c.Trading.MaxIntervalSec < c.Trading.MinIntervalSec {
		return settings.Defaults{}, fmt.Errorf("trading intervals must satisfy 0 <= min <= max, got %d..%d",
			c.Trading.MinIntervalSec, c.Trading.MaxIntervalSec)
	}

	return settings.Defaults{
		MinAmountSOL:  lo,
		MaxAmountSOL:  hi,
		MinInterval:   seconds(c.Trading.MinIntervalSec),
		MaxInterval:   seconds(c.Trading.MaxIntervalSec),
		SlippageBps:   c.Trading.SlippageBps,
		SellTimes:     c.Trading.SellTimes,
		StepDelay:     seconds(c.Trading.StepDelaySec),
		UseJito:       c.Jito.Enabled,
		TipLamports:   c.Jito.TipLamports,
		PriorityFee:   c.Trading.PriorityFee,
		RelayURL:      c.Jito.RelayURL,
		AuthKey:       c.Jito.AuthKey,
		MaxBundleSize: c.Jito.MaxBundleSize,
		StrictPairing: c.Trading.StrictPairing,
	}, nil
}

// Timing returns the worker scheduling constants.
func (c *Config) Timing() workers.Timing {
	return workers.Timing{
		SellOffset:             seconds(c.Trading.SellOffsetSec),
		FeeReserveLamports:     c.Trading.FeeReserveLamports,
		FundingReserveLamports: c.Trading.FundingReserve,
		FeeBufferLamports:      c.Trading.GatherBufferLamport,
		TransfersPerTx:         c.Trading.TransfersPerTx,
	}
}

// Concurrency returns the runner concurrency for a queue, at least 1.
func (c *Config) Concurrency(queue string) int {
	if n := c.Workers.Concurrency[queue]; n > 0 {
		return n
	}
	return 1
}

// AggregatorInterval returns the status aggregator tick.
func (c *Config) AggregatorInterval() time.Duration {
	return seconds(c.Workers.AggregatorIntervalSec)
}

// Logger builds the process logger.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
