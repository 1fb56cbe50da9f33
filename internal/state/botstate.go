package state

import (
	"sort"
	"sync"
	"time"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
)

// BotState holds everything the bot knows between cycles: tracked pending
// orders, the trade ledger, balance history, metrics, and the runtime view
// of positions. One instance is created at startup and passed explicitly
// to the components that need it.
type BotState struct {
	mu sync.RWMutex

	pendingOrders  map[string]PendingOrder
	tradeHistory   []TradeRecord
	balanceHistory []BalancePoint
	reconLog       []ReconciliationLogEntry
	metrics        Metrics

	// Runtime-only, rebuilt every cycle from the exchange
	positions  map[string]exchange.Position
	protection map[string]ProtectionLevels

	balanceHistoryCap int
	reconLogCap       int
}

// NewBotState creates an empty bot state with the given history caps
func NewBotState(balanceHistoryCap, reconLogCap int) *BotState {
	return &BotState{
		pendingOrders:     make(map[string]PendingOrder),
		positions:         make(map[string]exchange.Position),
		protection:        make(map[string]ProtectionLevels),
		balanceHistoryCap: balanceHistoryCap,
		reconLogCap:       reconLogCap,
		metrics:           Metrics{StartedAt: time.Now()},
	}
}

// UpsertPendingOrder adds or replaces a tracked pending order
func (s *BotState) UpsertPendingOrder(order PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingOrders[order.OrderID] = order
}

// RemovePendingOrder drops a pending order from tracking
func (s *BotState) RemovePendingOrder(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingOrders[orderID]; !ok {
		return false
	}
	delete(s.pendingOrders, orderID)
	return true
}

// PendingOrder returns a tracked order by exchange order ID
func (s *BotState) PendingOrder(orderID string) (PendingOrder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.pendingOrders[orderID]
	return order, ok
}

// PendingOrders returns all tracked orders ordered by creation time
func (s *BotState) PendingOrders() []PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]PendingOrder, 0, len(s.pendingOrders))
	for _, o := range s.pendingOrders {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

// PendingForSymbol returns tracked orders for one symbol
func (s *BotState) PendingForSymbol(symbol string) []PendingOrder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []PendingOrder
	for _, o := range s.pendingOrders {
		if o.Symbol == symbol {
			orders = append(orders, o)
		}
	}
	return orders
}

// HasPendingForSymbol reports whether any order is tracked for the symbol
func (s *BotState) HasPendingForSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.pendingOrders {
		if o.Symbol == symbol {
			return true
		}
	}
	return false
}

// HasPendingForBlock reports whether an order is already tracked against
// the given order block.
func (s *BotState) HasPendingForBlock(blockID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.pendingOrders {
		if o.BlockID == blockID {
			return true
		}
	}
	return false
}

// SetPendingOrders replaces the tracked set, used when loading from disk
func (s *BotState) SetPendingOrders(orders []PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingOrders = make(map[string]PendingOrder, len(orders))
	for _, o := range orders {
		s.pendingOrders[o.OrderID] = o
	}
}

// AppendTrade adds an entry to the trade ledger
func (s *BotState) AppendTrade(trade TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeHistory = append(s.tradeHistory, trade)
}

// TradeHistory returns a copy of the trade ledger
func (s *BotState) TradeHistory() []TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trades := make([]TradeRecord, len(s.tradeHistory))
	copy(trades, s.tradeHistory)
	return trades
}

// HasTradeForOrder reports whether the ledger already records a trade for
// the order ID. Keeps reconciliation synthesis idempotent.
func (s *BotState) HasTradeForOrder(orderID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tradeHistory {
		if t.OrderID == orderID {
			return true
		}
	}
	return false
}

// HasTradeForSymbol reports whether the ledger has any trade for a symbol
func (s *BotState) HasTradeForSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tradeHistory {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// HasOpenTradeForSymbol reports whether the ledger holds a trade for the
// symbol that has not closed yet.
func (s *BotState) HasOpenTradeForSymbol(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.tradeHistory {
		if s.tradeHistory[i].Symbol == symbol && s.tradeHistory[i].IsOpen() {
			return true
		}
	}
	return false
}

// OpenTradeSymbols returns the symbols with at least one open ledger entry
func (s *BotState) OpenTradeSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var symbols []string
	for i := range s.tradeHistory {
		t := &s.tradeHistory[i]
		if t.IsOpen() && !seen[t.Symbol] {
			seen[t.Symbol] = true
			symbols = append(symbols, t.Symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// CloseTrades closes every open ledger entry for the symbol at the given
// exit price, computing pnl per side. Returns how many entries closed.
func (s *BotState) CloseTrades(symbol string, exitPrice float64, exitTime time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := 0
	for i := range s.tradeHistory {
		t := &s.tradeHistory[i]
		if t.Symbol != symbol || !t.IsOpen() {
			continue
		}
		t.ExitPrice = exitPrice
		t.ExitTime = exitTime
		t.Status = TradeStatusClosed
		if t.Side == exchange.OrderSideBuy {
			t.PnL = (exitPrice - t.EntryPrice) * t.Quantity
		} else {
			t.PnL = (t.EntryPrice - exitPrice) * t.Quantity
		}
		closed++
	}
	return closed
}

// SetTradeHistory replaces the ledger, used when loading from disk
func (s *BotState) SetTradeHistory(trades []TradeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tradeHistory = append([]TradeRecord(nil), trades...)
}

// RecordBalance appends a balance sample, evicting the oldest entries
// beyond the cap.
func (s *BotState) RecordBalance(point BalancePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceHistory = append(s.balanceHistory, point)
	if s.balanceHistoryCap > 0 && len(s.balanceHistory) > s.balanceHistoryCap {
		overflow := len(s.balanceHistory) - s.balanceHistoryCap
		s.balanceHistory = append([]BalancePoint(nil), s.balanceHistory[overflow:]...)
	}
}

// BalanceHistory returns a copy of the balance samples
func (s *BotState) BalanceHistory() []BalancePoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := make([]BalancePoint, len(s.balanceHistory))
	copy(points, s.balanceHistory)
	return points
}

// SetBalanceHistory replaces the samples, used when loading from disk
func (s *BotState) SetBalanceHistory(points []BalancePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceHistoryCap > 0 && len(points) > s.balanceHistoryCap {
		points = points[len(points)-s.balanceHistoryCap:]
	}
	s.balanceHistory = append([]BalancePoint(nil), points...)
}

// AppendReconEntry records a reconciliation action, keeping only the most
// recent entries.
func (s *BotState) AppendReconEntry(entry ReconciliationLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconLog = append(s.reconLog, entry)
	if s.reconLogCap > 0 && len(s.reconLog) > s.reconLogCap {
		overflow := len(s.reconLog) - s.reconLogCap
		s.reconLog = append([]ReconciliationLogEntry(nil), s.reconLog[overflow:]...)
	}
}

// ReconLog returns a copy of the reconciliation audit trail
func (s *BotState) ReconLog() []ReconciliationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]ReconciliationLogEntry, len(s.reconLog))
	copy(entries, s.reconLog)
	return entries
}

// UpdateMetrics applies a mutation under the state lock
func (s *BotState) UpdateMetrics(fn func(*Metrics)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.metrics)
}

// MetricsSnapshot returns a copy of the current metrics. The pending order
// gauge is refreshed from the tracked set at snapshot time.
func (s *BotState) MetricsSnapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.metrics
	m.PendingOrdersCount = len(s.pendingOrders)
	return m
}

// SetMetrics replaces the metrics, used when loading from disk
func (s *BotState) SetMetrics(m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := s.metrics.StartedAt
	s.metrics = m
	// A restart keeps the persisted counters but the session start is now
	s.metrics.StartedAt = started
}

// SetPositions replaces the runtime position view
func (s *BotState) SetPositions(positions []exchange.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]exchange.Position, len(positions))
	for _, p := range positions {
		s.positions[p.Symbol] = p
	}
}

// PositionFor returns the open position for a symbol, if any
func (s *BotState) PositionFor(symbol string) (exchange.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	return p, ok
}

// Positions returns a copy of the runtime position view
func (s *BotState) Positions() []exchange.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	positions := make([]exchange.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Symbol < positions[j].Symbol
	})
	return positions
}

// SetProtection stores the derived TP/SL levels for a symbol this cycle
func (s *BotState) SetProtection(symbol string, levels ProtectionLevels) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protection[symbol] = levels
}

// ClearProtection wipes the derived levels before re-deriving them
func (s *BotState) ClearProtection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protection = make(map[string]ProtectionLevels)
}

// ProtectionFor returns the derived TP/SL levels for a symbol
func (s *BotState) ProtectionFor(symbol string) (ProtectionLevels, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels, ok := s.protection[symbol]
	return levels, ok
}
