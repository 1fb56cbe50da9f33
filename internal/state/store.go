package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haiminh-dev/orderblock-bot/internal/logger"
)

// State file names under the data directory. All four are human-readable
// indented JSON so the dashboard can consume them directly.
const (
	pendingOrdersFile  = "pending_orders.json"
	metricsFile        = "metrics.json"
	tradeHistoryFile   = "trade_history.json"
	balanceHistoryFile = "balance_history.json"
)

// Store persists BotState snapshots as JSON files. Writes go to a
// temporary file first and are renamed into place, so a crash mid-write
// never leaves a truncated state file.
type Store struct {
	dataDir string
	log     *logger.Logger
}

// NewStore creates a store rooted at dataDir
func NewStore(dataDir string, log *logger.Logger) *Store {
	return &Store{dataDir: dataDir, log: log}
}

// Initialize creates the data directory
func (st *Store) Initialize() error {
	if err := os.MkdirAll(st.dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Load populates the bot state from disk. A missing file yields an empty
// section; a corrupt file is logged and treated as empty rather than
// stopping the bot.
func (st *Store) Load(state *BotState) error {
	var orders []PendingOrder
	if st.loadFile(pendingOrdersFile, &orders) {
		state.SetPendingOrders(orders)
	}

	var metrics Metrics
	if st.loadFile(metricsFile, &metrics) {
		state.SetMetrics(metrics)
	}

	var trades []TradeRecord
	if st.loadFile(tradeHistoryFile, &trades) {
		state.SetTradeHistory(trades)
	}

	var balances []BalancePoint
	if st.loadFile(balanceHistoryFile, &balances) {
		state.SetBalanceHistory(balances)
	}

	return nil
}

// Save writes all four state files
func (st *Store) Save(state *BotState) error {
	if err := st.SavePendingOrders(state); err != nil {
		return err
	}
	if err := st.SaveMetrics(state); err != nil {
		return err
	}
	if err := st.SaveTradeHistory(state); err != nil {
		return err
	}
	return st.SaveBalanceHistory(state)
}

// SavePendingOrders writes the tracked order snapshot
func (st *Store) SavePendingOrders(state *BotState) error {
	return st.writeFile(pendingOrdersFile, state.PendingOrders())
}

// SaveMetrics writes the metrics snapshot
func (st *Store) SaveMetrics(state *BotState) error {
	return st.writeFile(metricsFile, state.MetricsSnapshot())
}

// SaveTradeHistory writes the trade ledger
func (st *Store) SaveTradeHistory(state *BotState) error {
	return st.writeFile(tradeHistoryFile, state.TradeHistory())
}

// SaveBalanceHistory writes the balance samples
func (st *Store) SaveBalanceHistory(state *BotState) error {
	return st.writeFile(balanceHistoryFile, state.BalanceHistory())
}

// loadFile reads one JSON file into dst. Returns false when the file is
// missing or unreadable.
func (st *Store) loadFile(name string, dst interface{}) bool {
	path := filepath.Join(st.dataDir, name)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) && st.log != nil {
			st.log.LogWarning("State Load", "failed to read %s: %v", name, err)
		}
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		if st.log != nil {
			st.log.LogWarning("State Load", "corrupt state file %s, starting empty: %v", name, err)
		}
		return false
	}

	return true
}

// writeFile marshals v and atomically replaces the target file
func (st *Store) writeFile(name string, v interface{}) error {
	path := filepath.Join(st.dataDir, name)

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file for %s: %w", name, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}

	return nil
}
