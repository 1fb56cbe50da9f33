package exchange

import (
	"context"
	"time"

	"github.com/haiminh-dev/orderblock-bot/pkg/types"
)

// Gateway defines the exchange operations the bot depends on.
// Implementations normalize exchange-specific payloads into the canonical
// types below; nothing outside the adapter ever sees raw exchange fields.
type Gateway interface {
	// Exchange identification
	GetName() string
	GetEnvironment() string

	// Market data operations
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error)

	// Account management
	GetBalance(ctx context.Context, asset string) (*BalanceInfo, error)
	GetPositions(ctx context.Context, symbols []string) ([]Position, error)

	// Order management. GetOpenOrders includes untriggered conditional
	// stop orders alongside regular limit orders.
	GetOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	PlaceLimitOrder(ctx context.Context, req LimitOrderRequest) (*Order, error)
	PlaceStopLoss(ctx context.Context, req ProtectiveOrderRequest) (*Order, error)
	PlaceTakeProfit(ctx context.Context, req ProtectiveOrderRequest) (*Order, error)
	ClosePositionMarket(ctx context.Context, req MarketCloseRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// Exchange constraints
	GetInstrumentLimits(ctx context.Context, symbol string) (*InstrumentLimits, error)

	// Connection management
	Connect(ctx context.Context) error
	Disconnect() error
}

// OrderSide represents the direction of an order
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the reverse side, used for protective orders
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType represents the execution type of an order
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus represents the normalized lifecycle state of an exchange order
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusUntriggered     OrderStatus = "untriggered"
)

// StopOrderType classifies conditional protective orders
type StopOrderType string

const (
	StopOrderTypeNone       StopOrderType = ""
	StopOrderTypeStopLoss   StopOrderType = "stop_loss"
	StopOrderTypeTakeProfit StopOrderType = "take_profit"
)

// Order is the canonical representation of an exchange order.
// All numeric fields are normalized to float64.
type Order struct {
	ID            string        `json:"id"`
	LinkID        string        `json:"link_id"` // client order ID
	Symbol        string        `json:"symbol"`
	Side          OrderSide     `json:"side"`
	Type          OrderType     `json:"type"`
	Status        OrderStatus   `json:"status"`
	Price         float64       `json:"price"`
	Quantity      float64       `json:"quantity"`
	FilledQty     float64       `json:"filled_qty"`
	AvgFillPrice  float64       `json:"avg_fill_price"`
	TriggerPrice  float64       `json:"trigger_price"`
	ReduceOnly    bool          `json:"reduce_only"`
	StopOrderType StopOrderType `json:"stop_order_type"`
	CreatedTime   time.Time     `json:"created_time"`
	UpdatedTime   time.Time     `json:"updated_time"`
}

// IsOpen reports whether the order is still working on the exchange
func (o *Order) IsOpen() bool {
	switch o.Status {
	case OrderStatusNew, OrderStatusPartiallyFilled, OrderStatusUntriggered:
		return true
	}
	return false
}

// IsProtective reports whether the order is a reduce-only conditional stop
func (o *Order) IsProtective() bool {
	return o.ReduceOnly && o.StopOrderType != StopOrderTypeNone
}

// LimitOrderRequest holds the parameters for an entry limit order
type LimitOrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity float64
	Price    float64
	LinkID   string
}

// ProtectiveOrderRequest holds the parameters for a reduce-only conditional
// market order (take profit or stop loss) protecting an open position.
type ProtectiveOrderRequest struct {
	Symbol       string
	Side         OrderSide // closing side, opposite of the position
	Quantity     float64
	TriggerPrice float64
	LinkID       string
}

// MarketCloseRequest holds the parameters for a reduce-only market order
// that closes an open position immediately.
type MarketCloseRequest struct {
	Symbol   string
	Side     OrderSide // closing side, opposite of the position
	Quantity float64
	LinkID   string
}

// PositionSide represents the direction of an open position
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// ClosingOrderSide returns the order side that reduces this position
func (s PositionSide) ClosingOrderSide() OrderSide {
	if s == PositionSideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Position is the canonical representation of an open futures position
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Size          float64      `json:"size"`
	EntryPrice    float64      `json:"entry_price"`
	MarkPrice     float64      `json:"mark_price"`
	UnrealisedPnl float64      `json:"unrealised_pnl"`
	Leverage      float64      `json:"leverage"`
	UpdatedTime   time.Time    `json:"updated_time"`
}

// BalanceInfo holds the normalized account balance for the margin asset
type BalanceInfo struct {
	Asset     string  `json:"asset"`
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
}

// InstrumentLimits represents exchange trading constraints for a symbol
type InstrumentLimits struct {
	Symbol      string  `json:"symbol"`
	MinOrderQty float64 `json:"min_order_qty"`
	MaxOrderQty float64 `json:"max_order_qty"`
	QtyStep     float64 `json:"qty_step"`
	TickSize    float64 `json:"tick_size"`
	MinNotional float64 `json:"min_notional"`
}

// ExchangeError represents standardized errors from exchanges
type ExchangeError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
}

func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Common error types
var (
	ErrInsufficientBalance = &ExchangeError{
		Code:        "INSUFFICIENT_BALANCE",
		Message:     "Insufficient balance for trade",
		IsRetryable: false,
	}

	ErrInvalidSymbol = &ExchangeError{
		Code:        "INVALID_SYMBOL",
		Message:     "Invalid trading symbol",
		IsRetryable: false,
	}

	ErrOrderNotFound = &ExchangeError{
		Code:        "ORDER_NOT_FOUND",
		Message:     "Order not found on exchange",
		IsRetryable: false,
	}

	ErrOrderSizeTooSmall = &ExchangeError{
		Code:        "ORDER_SIZE_TOO_SMALL",
		Message:     "Order size below minimum requirements",
		IsRetryable: false,
	}

	ErrRateLimitExceeded = &ExchangeError{
		Code:        "RATE_LIMIT_EXCEEDED",
		Message:     "API rate limit exceeded",
		IsRetryable: true,
	}

	ErrConnectionFailed = &ExchangeError{
		Code:        "CONNECTION_FAILED",
		Message:     "Failed to connect to exchange",
		IsRetryable: true,
	}
)
