package state

import (
	"time"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
)

// PendingStatus is the lifecycle state of a tracked entry order
type PendingStatus string

const (
	PendingStatusNew             PendingStatus = "new"
	PendingStatusPartiallyFilled PendingStatus = "partially_filled"
	PendingStatusFilled          PendingStatus = "filled"
	PendingStatusCancelled       PendingStatus = "cancelled"
)

// PendingOrder is an entry limit order the bot placed and tracks until it
// fills or is cancelled. StopLoss and TakeProfit are the intended
// protective levels, applied once the order fills.
type PendingOrder struct {
	OrderID    string             `json:"order_id"`
	LinkID     string             `json:"link_id,omitempty"`
	Symbol     string             `json:"symbol"`
	Side       exchange.OrderSide `json:"side"`
	Quantity   float64            `json:"quantity"`
	Price      float64            `json:"price"`
	FilledQty  float64            `json:"filled_qty"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	BlockID    string             `json:"block_id"`
	Status     PendingStatus      `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Open reports whether the order is still working
func (p *PendingOrder) Open() bool {
	return p.Status == PendingStatusNew || p.Status == PendingStatusPartiallyFilled
}

// RemainingQty returns the unfilled portion
func (p *PendingOrder) RemainingQty() float64 {
	remaining := p.Quantity - p.FilledQty
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TradeSource records how a trade entered the ledger
type TradeSource string

const (
	TradeSourceFill           TradeSource = "fill"
	TradeSourceReconciliation TradeSource = "reconciliation"
)

// TradeStatus is the lifecycle state of a ledger entry. A trade opens when
// the entry fills and closes when the position behind it is gone.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// TradeRecord is one entry in the trade ledger. Exit fields stay zero
// while the trade is open and are written exactly once on closure.
type TradeRecord struct {
	Symbol     string             `json:"symbol"`
	Side       exchange.OrderSide `json:"side"`
	Quantity   float64            `json:"quantity"`
	EntryPrice float64            `json:"entry_price"`
	ExitPrice  float64            `json:"exit_price,omitempty"`
	PnL        float64            `json:"pnl"`
	Status     TradeStatus        `json:"status"`
	OrderID    string             `json:"order_id"`
	BlockID    string             `json:"block_id,omitempty"`
	Source     TradeSource        `json:"source"`
	Timestamp  time.Time          `json:"timestamp"`
	ExitTime   time.Time          `json:"exit_time,omitempty"`
}

// IsOpen reports whether the trade has not closed yet. Records persisted
// before the status field existed have an empty status and count as open.
func (t *TradeRecord) IsOpen() bool {
	return t.Status != TradeStatusClosed
}

// BalancePoint is one sample of the account balance over time. TotalPnl is
// the unrealized pnl across open positions at sampling time.
type BalancePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Total     float64   `json:"total"`
	Available float64   `json:"available"`
	Used      float64   `json:"used"`
	TotalPnl  float64   `json:"total_pnl"`
}

// ReconciliationLogEntry records one reconciliation action for the
// dashboard's audit trail.
type ReconciliationLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Symbol    string    `json:"symbol,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Metrics aggregates bot activity counters. PendingOrdersCount and
// OpenExchangeOrdersCount are point-in-time gauges, not monotonic
// counters: the first tracks the pending set, the second the open order
// count observed by the last reconciliation pass.
type Metrics struct {
	StartedAt               time.Time `json:"started_at"`
	PendingOrdersCount      int       `json:"pending_orders_count"`
	OpenExchangeOrdersCount int       `json:"open_exchange_orders_count"`
	CyclesCompleted         int       `json:"cycles_completed"`
	OrdersPlaced            int       `json:"orders_placed"`
	OrdersFilled            int       `json:"orders_filled"`
	OrdersCancelled         int       `json:"orders_cancelled"`
	PartialFills            int       `json:"partial_fills"`
	ProtectiveOrdersPlaced  int       `json:"protective_orders_placed"`
	ReconciliationRuns      int       `json:"reconciliation_runs"`
	OrphansCancelled        int       `json:"orphans_cancelled"`
	BlocksAdopted           int       `json:"blocks_adopted"`
	TradesSynthesized       int       `json:"trades_synthesized"`
	TradesClosed            int       `json:"trades_closed"`
	ForcedClosures          int       `json:"forced_closures"`
	LastCycleAt             time.Time `json:"last_cycle_at"`
	LastReconciliationAt    time.Time `json:"last_reconciliation_at"`
}

// ProtectionLevels are the TP/SL levels currently protecting a position,
// derived each cycle from the exchange's protective orders. Never
// persisted and never cached across cycles.
type ProtectionLevels struct {
	StopLoss      float64
	StopLossQty   float64
	TakeProfit    float64
	TakeProfitQty float64
}
