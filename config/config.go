package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Chain and network settings
	ChainID     uint64 `json:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint"`

	// Deployment addresses live in a separate YAML book so the same binary
	// moves between networks without a config rewrite
	AddressBookPath string `json:"address_book_path"`

	// Execution thresholds
	MinProfit   *big.Int `json:"min_profit"`
	MaxGasPrice *big.Int `json:"max_gas_price"`

	// Submission settings
	ReceiptPollInterval time.Duration `json:"receipt_poll_interval"`
	InclusionTimeout    time.Duration `json:"inclusion_timeout"`
	SwapDeadline        time.Duration `json:"swap_deadline"`
	NetworkTimeout      time.Duration `json:"network_timeout"`

	// Rate limiting toward the RPC provider
	RPCRateLimit RateLimitConfig `json:"rpc_rate_limit"`

	// Audit store
	AuditDBPath string `json:"audit_db_path"`

	// Feature flags
	PrometheusEnabled  bool   `json:"prometheus_enabled"`
	PrometheusEndpoint string `json:"prometheus_endpoint"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
}

// SecureConfig holds material that never touches the JSON file.
type SecureConfig struct {
	PrivateKey string
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errors = append(errors, "rpc_endpoint must be specified")
	}
	if c.AddressBookPath == "" {
		errors = append(errors, "address_book_path must be specified")
	}
	if c.MinProfit == nil || c.MinProfit.Sign() < 0 {
		errors = append(errors, "min_profit must be zero or positive")
	}
	if c.MaxGasPrice == nil || c.MaxGasPrice.Sign() <= 0 {
		errors = append(errors, "max_gas_price must be positive")
	}
	if c.ReceiptPollInterval <= 0 {
		errors = append(errors, "receipt_poll_interval must be positive")
	}
	if c.InclusionTimeout <= 0 {
		errors = append(errors, "inclusion_timeout must be positive")
	}
	if c.SwapDeadline <= 0 {
		errors = append(errors, "swap_deadline must be positive")
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}

	return nil
}

func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".arbot.json")
	}

	file, err := os.Open(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	config := NewConfig()
	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	return &SecureConfig{PrivateKey: privateKey}, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, ".arbot.json")
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

// NewConfig returns mainnet defaults; LoadConfig decodes on top of them.
func NewConfig() *Config {
	return &Config{
		ChainID:             1,
		RPCEndpoint:         "http://localhost:8545",
		AddressBookPath:     "addresses.yaml",
		MinProfit:           big.NewInt(100000000000000000), // 0.1 of an 18-decimal asset
		MaxGasPrice:         big.NewInt(500000000000),       // 500 Gwei
		ReceiptPollInterval: 500 * time.Millisecond,
		InclusionTimeout:    90 * time.Second,
		SwapDeadline:        5 * time.Minute,
		NetworkTimeout:      5 * time.Second,
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			BurstSize:         40,
		},
		AuditDBPath:        "arbot_audit.db",
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
	}
}
