package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the complete configuration for the order block bot
type Config struct {
	// Trading universe
	Trading TradingConfig `json:"trading"`

	// Order block detection parameters
	Detection DetectionConfig `json:"detection"`

	// Risk management configuration
	Risk RiskConfig `json:"risk"`

	// Engine loop timing
	Engine EngineConfig `json:"engine"`

	// Reconciliation behavior
	Reconciliation ReconciliationConfig `json:"reconciliation"`

	// State persistence
	State StateConfig `json:"state"`

	// Monitoring endpoints
	Monitoring MonitoringConfig `json:"monitoring"`

	// Exchange environment selection (credentials come from env vars)
	Exchange ExchangeConfig `json:"exchange"`
}

// TradingConfig holds the trading universe configuration
type TradingConfig struct {
	Symbols     []string `json:"symbols"`      // Trading symbols (e.g., BTCUSDT)
	Timeframe   string   `json:"timeframe"`    // Candle interval (e.g., 30m)
	CandleLimit int      `json:"candle_limit"` // Candles fetched per detection pass
}

// DetectionConfig holds order block detector parameters
type DetectionConfig struct {
	PivotLength int `json:"pivot_length"` // Candles on each side of a pivot
}

// RiskConfig holds position sizing configuration
type RiskConfig struct {
	RiskPerTradePercent float64 `json:"risk_per_trade_percent"` // % of free equity risked per trade
	RewardRiskRatio     float64 `json:"reward_risk_ratio"`      // TP distance as multiple of SL distance
	StopLossBuffer      float64 `json:"stop_loss_buffer"`       // Fractional buffer beyond the zone boundary
	FallbackStopPercent float64 `json:"fallback_stop_percent"`  // SL distance when no tracked levels exist
}

// EngineConfig holds main loop timing configuration
type EngineConfig struct {
	CycleSeconds             int `json:"cycle_seconds"`               // Main cycle interval
	PendingOrderStaleSeconds int `json:"pending_order_stale_seconds"` // Age before an unfilled entry is cancelled
}

// ReconciliationConfig holds reconciliation tolerances and timing
type ReconciliationConfig struct {
	IntervalSeconds        int     `json:"interval_seconds"`         // Periodic TP/SL pass interval
	QuantityTolerance      float64 `json:"quantity_tolerance"`       // Relative TP/SL quantity mismatch tolerance
	AdoptionPriceTolerance float64 `json:"adoption_price_tolerance"` // Relative price distance for orphan adoption
}

// StateConfig holds persistence configuration
type StateConfig struct {
	DataDir           string `json:"data_dir"`            // Directory for JSON state files
	LogDir            string `json:"log_dir"`             // Directory for log files
	BalanceHistoryCap int    `json:"balance_history_cap"` // Max balance history entries kept
	ReconLogCap       int    `json:"recon_log_cap"`       // Max reconciliation log entries kept
}

// MonitoringConfig holds metrics and health endpoint configuration
type MonitoringConfig struct {
	Enabled     bool `json:"enabled"`
	MetricsPort int  `json:"metrics_port"`
	HealthPort  int  `json:"health_port"`
}

// ExchangeConfig selects the exchange environment
type ExchangeConfig struct {
	Name    string `json:"name"`    // Exchange name, bybit only for now
	Demo    bool   `json:"demo"`    // Demo trading environment
	Testnet bool   `json:"testnet"` // Testnet environment
}

// Credentials holds API credentials loaded from the environment
type Credentials struct {
	APIKey    string
	APISecret string
}

// Load loads configuration from a JSON file with defaults and validation
func Load(configFile string) (*Config, error) {
	// Bare names resolve under configs/
	if !strings.ContainsAny(configFile, "/\\") {
		configFile = filepath.Join("configs", configFile)
	}
	if !strings.HasSuffix(configFile, ".json") {
		configFile += ".json"
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns the built-in configuration used when no file is given
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// setDefaults sets default values for missing configuration
func (c *Config) setDefaults() {
	if len(c.Trading.Symbols) == 0 {
		c.Trading.Symbols = []string{
			"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT",
			"DOGEUSDT", "ADAUSDT", "LINKUSDT", "AVAXUSDT", "DOTUSDT", "LTCUSDT",
		}
	}
	if c.Trading.Timeframe == "" {
		c.Trading.Timeframe = "30m"
	}
	if c.Trading.CandleLimit == 0 {
		c.Trading.CandleLimit = 500
	}

	if c.Detection.PivotLength == 0 {
		c.Detection.PivotLength = 5
	}

	if c.Risk.RiskPerTradePercent == 0 {
		c.Risk.RiskPerTradePercent = 1.0
	}
	if c.Risk.RewardRiskRatio == 0 {
		c.Risk.RewardRiskRatio = 2.0
	}
	if c.Risk.StopLossBuffer == 0 {
		c.Risk.StopLossBuffer = 0.001 // 0.1% beyond the zone
	}
	if c.Risk.FallbackStopPercent == 0 {
		c.Risk.FallbackStopPercent = 1.0
	}

	if c.Engine.CycleSeconds == 0 {
		c.Engine.CycleSeconds = 120
	}
	if c.Engine.PendingOrderStaleSeconds == 0 {
		c.Engine.PendingOrderStaleSeconds = 900
	}

	if c.Reconciliation.IntervalSeconds == 0 {
		c.Reconciliation.IntervalSeconds = 600
	}
	if c.Reconciliation.QuantityTolerance == 0 {
		c.Reconciliation.QuantityTolerance = 0.01
	}
	if c.Reconciliation.AdoptionPriceTolerance == 0 {
		c.Reconciliation.AdoptionPriceTolerance = 0.005
	}

	if c.State.DataDir == "" {
		c.State.DataDir = "data"
	}
	if c.State.LogDir == "" {
		c.State.LogDir = "logs"
	}
	if c.State.BalanceHistoryCap == 0 {
		c.State.BalanceHistoryCap = 5000
	}
	if c.State.ReconLogCap == 0 {
		c.State.ReconLogCap = 50
	}

	if c.Monitoring.MetricsPort == 0 {
		c.Monitoring.MetricsPort = 9090
	}
	if c.Monitoring.HealthPort == 0 {
		c.Monitoring.HealthPort = 8081
	}

	if c.Exchange.Name == "" {
		c.Exchange.Name = "bybit"
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}
	seen := make(map[string]bool)
	for _, s := range c.Trading.Symbols {
		if s == "" {
			return fmt.Errorf("empty trading symbol")
		}
		if seen[s] {
			return fmt.Errorf("duplicate trading symbol: %s", s)
		}
		seen[s] = true
	}

	if c.Detection.PivotLength < 1 {
		return fmt.Errorf("pivot length must be at least 1")
	}
	if c.Trading.CandleLimit < c.Detection.PivotLength*10+c.Detection.PivotLength+1 {
		return fmt.Errorf("candle limit %d too small for pivot length %d", c.Trading.CandleLimit, c.Detection.PivotLength)
	}

	if c.Risk.RiskPerTradePercent <= 0 || c.Risk.RiskPerTradePercent > 100 {
		return fmt.Errorf("risk per trade must be between 0 and 100 percent")
	}
	if c.Risk.RewardRiskRatio <= 0 {
		return fmt.Errorf("reward risk ratio must be greater than 0")
	}
	if c.Risk.StopLossBuffer < 0 || c.Risk.StopLossBuffer >= 1 {
		return fmt.Errorf("stop loss buffer must be in [0, 1)")
	}

	if c.Engine.CycleSeconds <= 0 {
		return fmt.Errorf("cycle interval must be greater than 0")
	}
	if c.Reconciliation.IntervalSeconds <= 0 {
		return fmt.Errorf("reconciliation interval must be greater than 0")
	}
	if c.Reconciliation.QuantityTolerance <= 0 || c.Reconciliation.QuantityTolerance >= 1 {
		return fmt.Errorf("quantity tolerance must be in (0, 1)")
	}
	if c.Reconciliation.AdoptionPriceTolerance <= 0 || c.Reconciliation.AdoptionPriceTolerance >= 1 {
		return fmt.Errorf("adoption price tolerance must be in (0, 1)")
	}

	if strings.ToLower(c.Exchange.Name) != "bybit" {
		return fmt.Errorf("unsupported exchange: %s", c.Exchange.Name)
	}

	return nil
}

// CycleInterval returns the main loop interval as a duration
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleSeconds) * time.Second
}

// ReconciliationInterval returns the periodic TP/SL pass interval as a duration
func (c *Config) ReconciliationInterval() time.Duration {
	return time.Duration(c.Reconciliation.IntervalSeconds) * time.Second
}

// PendingOrderMaxAge returns the stale pending order cutoff as a duration
func (c *Config) PendingOrderMaxAge() time.Duration {
	return time.Duration(c.Engine.PendingOrderStaleSeconds) * time.Second
}

// LoadCredentials reads exchange API credentials from the environment
func LoadCredentials() (*Credentials, error) {
	apiKey := os.Getenv("BYBIT_API_KEY")
	apiSecret := os.Getenv("BYBIT_API_SECRET")

	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("BYBIT_API_KEY and BYBIT_API_SECRET environment variables are required")
	}

	return &Credentials{APIKey: apiKey, APISecret: apiSecret}, nil
}
