package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Len(t, cfg.Trading.Symbols, 11)
	assert.Equal(t, "30m", cfg.Trading.Timeframe)
	assert.Equal(t, 500, cfg.Trading.CandleLimit)
	assert.Equal(t, 5, cfg.Detection.PivotLength)
	assert.Equal(t, 1.0, cfg.Risk.RiskPerTradePercent)
	assert.Equal(t, 2.0, cfg.Risk.RewardRiskRatio)
	assert.Equal(t, 0.001, cfg.Risk.StopLossBuffer)
	assert.Equal(t, 120, cfg.Engine.CycleSeconds)
	assert.Equal(t, 600, cfg.Reconciliation.IntervalSeconds)
	assert.Equal(t, 0.01, cfg.Reconciliation.QuantityTolerance)
	assert.Equal(t, 0.005, cfg.Reconciliation.AdoptionPriceTolerance)
	assert.Equal(t, "bybit", cfg.Exchange.Name)

	require.NoError(t, cfg.validate())
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	content := `{
		"trading": {"symbols": ["BTCUSDT"], "timeframe": "1h", "candle_limit": 300},
		"detection": {"pivot_length": 3},
		"risk": {"risk_per_trade_percent": 0.5}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, "1h", cfg.Trading.Timeframe)
	assert.Equal(t, 3, cfg.Detection.PivotLength)
	assert.Equal(t, 0.5, cfg.Risk.RiskPerTradePercent)

	// Unset fields fall back to defaults
	assert.Equal(t, 2.0, cfg.Risk.RewardRiskRatio)
	assert.Equal(t, 120, cfg.Engine.CycleSeconds)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }},
		{"duplicate symbol", func(c *Config) { c.Trading.Symbols = []string{"BTCUSDT", "BTCUSDT"} }},
		{"empty symbol", func(c *Config) { c.Trading.Symbols = []string{""} }},
		{"candle limit too small", func(c *Config) { c.Trading.CandleLimit = 10 }},
		{"risk over 100", func(c *Config) { c.Risk.RiskPerTradePercent = 150 }},
		{"negative reward ratio", func(c *Config) { c.Risk.RewardRiskRatio = -1 }},
		{"stop buffer out of range", func(c *Config) { c.Risk.StopLossBuffer = 1.5 }},
		{"quantity tolerance out of range", func(c *Config) { c.Reconciliation.QuantityTolerance = 1.2 }},
		{"unsupported exchange", func(c *Config) { c.Exchange.Name = "kraken" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "2m0s", cfg.CycleInterval().String())
	assert.Equal(t, "10m0s", cfg.ReconciliationInterval().String())
	assert.Equal(t, "15m0s", cfg.PendingOrderMaxAge().String())
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("BYBIT_API_SECRET", "secret")

	creds, err := LoadCredentials()
	require.NoError(t, err)
	assert.Equal(t, "key", creds.APIKey)
	assert.Equal(t, "secret", creds.APISecret)
}

func TestLoadCredentials_Missing(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	_, err := LoadCredentials()
	assert.Error(t, err)
}
