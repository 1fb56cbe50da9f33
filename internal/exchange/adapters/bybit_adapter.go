package adapters

import (
	"context"
	"strconv"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/exchange/bybit"
	"github.com/haiminh-dev/orderblock-bot/pkg/types"
)

const category = "linear"

// BybitGateway implements the exchange.Gateway interface for Bybit USDT
// perpetual futures. All Bybit-specific field names and string-typed
// numbers are normalized here; the rest of the bot only sees canonical
// types.
type BybitGateway struct {
	client      *bybit.Client
	instruments *bybit.InstrumentManager
	connected   bool
}

// GatewayConfig holds the settings for building a Bybit gateway
type GatewayConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
}

// NewBybitGateway creates a gateway backed by the Bybit v5 API
func NewBybitGateway(config GatewayConfig) *BybitGateway {
	client := bybit.NewClient(bybit.Config{
		APIKey:    config.APIKey,
		APISecret: config.APISecret,
		Testnet:   config.Testnet,
		Demo:      config.Demo,
	})

	return &BybitGateway{
		client:      client,
		instruments: bybit.NewInstrumentManager(client),
	}
}

// GetName returns the exchange name
func (g *BybitGateway) GetName() string {
	return "Bybit"
}

// GetEnvironment returns the current environment string
func (g *BybitGateway) GetEnvironment() string {
	return g.client.GetEnvironment()
}

// Connect verifies connectivity with a lightweight public request
func (g *BybitGateway) Connect(ctx context.Context) error {
	if _, err := g.client.GetLatestPrice(ctx, category, "BTCUSDT"); err != nil {
		return &exchange.ExchangeError{
			Code:        "CONNECTION_FAILED",
			Message:     "Failed to connect to Bybit",
			Details:     err.Error(),
			IsRetryable: true,
		}
	}
	g.connected = true
	return nil
}

// Disconnect marks the gateway as disconnected
func (g *BybitGateway) Disconnect() error {
	g.connected = false
	return nil
}

// GetLatestPrice retrieves the latest traded price for a symbol
func (g *BybitGateway) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return g.client.GetLatestPrice(ctx, category, symbol)
}

// GetCandles retrieves candlestick data, oldest first
func (g *BybitGateway) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	interval, err := bybit.IntervalFromTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	klines, err := g.client.GetKlines(ctx, bybit.KlineParams{
		Category: category,
		Symbol:   symbol,
		Interval: interval,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	candles := make([]types.OHLCV, len(klines))
	for i, k := range klines {
		candles[i] = types.OHLCV{
			Timestamp: k.StartTime,
			Open:      k.OpenPrice,
			High:      k.HighPrice,
			Low:       k.LowPrice,
			Close:     k.ClosePrice,
			Volume:    k.Volume,
		}
	}

	return candles, nil
}

// GetBalance retrieves the unified account balance for an asset
func (g *BybitGateway) GetBalance(ctx context.Context, asset string) (*exchange.BalanceInfo, error) {
	balance, err := g.client.GetCoinBalance(ctx, bybit.AccountTypeUnified, asset)
	if err != nil {
		return nil, err
	}

	return &exchange.BalanceInfo{
		Asset:     balance.Coin,
		Total:     balance.WalletBalance,
		Available: balance.AvailableToTrade,
	}, nil
}

// GetPositions retrieves open positions for the given symbols. An empty
// slice queries all USDT-settled positions.
func (g *BybitGateway) GetPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	raw, err := g.client.GetPositions(ctx, category, "")
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	var positions []exchange.Position
	for _, p := range raw {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		if len(symbols) > 0 && !wanted[p.Symbol] {
			continue
		}

		side := exchange.PositionSideLong
		if p.Side == "Sell" {
			side = exchange.PositionSideShort
		}

		positions = append(positions, exchange.Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealisedPnl: parseFloat(p.UnrealisedPnl),
			Leverage:      parseFloat(p.Leverage),
			UpdatedTime:   p.UpdatedTime,
		})
	}

	return positions, nil
}

// GetOpenOrders retrieves open orders, including untriggered conditional stops
func (g *BybitGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	raw, err := g.client.GetOpenOrders(ctx, category, symbol)
	if err != nil {
		return nil, err
	}

	orders := make([]exchange.Order, 0, len(raw))
	for i := range raw {
		orders = append(orders, *normalizeOrder(&raw[i]))
	}

	return orders, nil
}

// GetOrder retrieves a single order by ID
func (g *BybitGateway) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	raw, err := g.client.GetOrder(ctx, category, symbol, orderID)
	if err != nil {
		if bybit.IsOrderNotFoundError(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, err
	}

	return normalizeOrder(raw), nil
}

// PlaceLimitOrder places a GTC limit entry order
func (g *BybitGateway) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.Order, error) {
	raw, err := g.client.PlaceLimitOrder(ctx, bybit.LimitOrderParams{
		Category:    category,
		Symbol:      req.Symbol,
		Side:        bybitSide(req.Side),
		Qty:         formatAmount(req.Quantity),
		Price:       formatAmount(req.Price),
		OrderLinkID: req.LinkID,
	})
	if err != nil {
		return nil, err
	}

	order := normalizeOrder(raw)
	// The placement response omits most fields; fill in what we know.
	order.Side = req.Side
	order.Type = exchange.OrderTypeLimit
	order.Price = req.Price
	order.Quantity = req.Quantity
	if order.Status == "" {
		order.Status = exchange.OrderStatusNew
	}
	return order, nil
}

// PlaceStopLoss places a reduce-only conditional market order that closes
// the position at a loss. Triggers when price moves against the position.
func (g *BybitGateway) PlaceStopLoss(ctx context.Context, req exchange.ProtectiveOrderRequest) (*exchange.Order, error) {
	direction := bybit.TriggerDirectionFall
	if req.Side == exchange.OrderSideBuy {
		// Closing a short: stop loss sits above, triggers on a rise
		direction = bybit.TriggerDirectionRise
	}
	return g.placeConditional(ctx, req, direction, exchange.StopOrderTypeStopLoss)
}

// PlaceTakeProfit places a reduce-only conditional market order that closes
// the position in profit. Triggers when price moves with the position.
func (g *BybitGateway) PlaceTakeProfit(ctx context.Context, req exchange.ProtectiveOrderRequest) (*exchange.Order, error) {
	direction := bybit.TriggerDirectionRise
	if req.Side == exchange.OrderSideBuy {
		// Closing a short: take profit sits below, triggers on a fall
		direction = bybit.TriggerDirectionFall
	}
	return g.placeConditional(ctx, req, direction, exchange.StopOrderTypeTakeProfit)
}

func (g *BybitGateway) placeConditional(ctx context.Context, req exchange.ProtectiveOrderRequest, direction int, stopType exchange.StopOrderType) (*exchange.Order, error) {
	var raw *bybit.Order
	err := g.client.Retry(ctx, func() error {
		var placeErr error
		raw, placeErr = g.client.PlaceConditionalOrder(ctx, bybit.ConditionalOrderParams{
			Category:         category,
			Symbol:           req.Symbol,
			Side:             bybitSide(req.Side),
			Qty:              formatAmount(req.Quantity),
			TriggerPrice:     formatAmount(req.TriggerPrice),
			TriggerDirection: direction,
			OrderLinkID:      req.LinkID,
		})
		return placeErr
	})
	if err != nil {
		return nil, err
	}

	order := normalizeOrder(raw)
	order.Side = req.Side
	order.Type = exchange.OrderTypeMarket
	order.Quantity = req.Quantity
	order.TriggerPrice = req.TriggerPrice
	order.ReduceOnly = true
	order.StopOrderType = stopType
	if order.Status == "" {
		order.Status = exchange.OrderStatusUntriggered
	}
	return order, nil
}

// ClosePositionMarket closes a position immediately with a reduce-only
// market order, used when protective levels have been breached without
// their conditional orders firing.
func (g *BybitGateway) ClosePositionMarket(ctx context.Context, req exchange.MarketCloseRequest) (*exchange.Order, error) {
	raw, err := g.client.PlaceMarketOrder(ctx, bybit.MarketOrderParams{
		Category:    category,
		Symbol:      req.Symbol,
		Side:        bybitSide(req.Side),
		Qty:         formatAmount(req.Quantity),
		ReduceOnly:  true,
		OrderLinkID: req.LinkID,
	})
	if err != nil {
		return nil, err
	}

	order := normalizeOrder(raw)
	order.Side = req.Side
	order.Type = exchange.OrderTypeMarket
	order.Quantity = req.Quantity
	order.ReduceOnly = true
	return order, nil
}

// CancelOrder cancels an open order
func (g *BybitGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := g.client.CancelOrder(ctx, category, symbol, orderID)
	if err != nil && bybit.IsOrderNotFoundError(err) {
		return exchange.ErrOrderNotFound
	}
	return err
}

// GetInstrumentLimits retrieves trading constraints for a symbol
func (g *BybitGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	info, err := g.instruments.GetInstrumentInfo(ctx, category, symbol)
	if err != nil {
		return nil, err
	}

	return &exchange.InstrumentLimits{
		Symbol:      info.Symbol,
		MinOrderQty: info.MinOrderQty,
		MaxOrderQty: info.MaxOrderQty,
		QtyStep:     info.QtyStep,
		TickSize:    info.TickSize,
		MinNotional: info.MinNotional,
	}, nil
}

// normalizeOrder maps a raw Bybit order into the canonical shape
func normalizeOrder(raw *bybit.Order) *exchange.Order {
	order := &exchange.Order{
		ID:           raw.OrderID,
		LinkID:       raw.OrderLinkID,
		Symbol:       raw.Symbol,
		Side:         normalizeSide(raw.Side),
		Type:         normalizeType(raw.OrderType),
		Status:       normalizeStatus(raw.OrderStatus),
		Price:        parseFloat(raw.Price),
		Quantity:     parseFloat(raw.Qty),
		FilledQty:    parseFloat(raw.CumExecQty),
		AvgFillPrice: parseFloat(raw.AvgPrice),
		TriggerPrice: parseFloat(raw.TriggerPrice),
		ReduceOnly:   raw.ReduceOnly,
		CreatedTime:  raw.CreatedTime,
		UpdatedTime:  raw.UpdatedTime,
	}
	order.StopOrderType = classifyStopOrder(raw, order)
	return order
}

// classifyStopOrder decides whether a raw order is a take profit or stop
// loss. Bybit labels some conditional orders explicitly; generic "Stop"
// orders are classified from the trigger direction relative to the
// closing side.
func classifyStopOrder(raw *bybit.Order, order *exchange.Order) exchange.StopOrderType {
	switch raw.StopOrderType {
	case "TakeProfit", "PartialTakeProfit":
		return exchange.StopOrderTypeTakeProfit
	case "StopLoss", "PartialStopLoss":
		return exchange.StopOrderTypeStopLoss
	case "":
		if !raw.ReduceOnly || order.TriggerPrice == 0 {
			return exchange.StopOrderTypeNone
		}
	}

	// A closing sell triggered by a rise takes profit on a long; triggered
	// by a fall it stops a long out. Mirrored for closing buys.
	if order.Side == exchange.OrderSideSell {
		if raw.TriggerDirection == bybit.TriggerDirectionRise {
			return exchange.StopOrderTypeTakeProfit
		}
		return exchange.StopOrderTypeStopLoss
	}
	if raw.TriggerDirection == bybit.TriggerDirectionFall {
		return exchange.StopOrderTypeTakeProfit
	}
	return exchange.StopOrderTypeStopLoss
}

func normalizeSide(side string) exchange.OrderSide {
	if side == "Sell" {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

func normalizeType(orderType string) exchange.OrderType {
	if orderType == "Market" {
		return exchange.OrderTypeMarket
	}
	return exchange.OrderTypeLimit
}

func normalizeStatus(status string) exchange.OrderStatus {
	switch status {
	case "New", "Created", "Triggered":
		return exchange.OrderStatusNew
	case "PartiallyFilled":
		return exchange.OrderStatusPartiallyFilled
	case "Filled":
		return exchange.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return exchange.OrderStatusCancelled
	case "Rejected":
		return exchange.OrderStatusRejected
	case "Untriggered":
		return exchange.OrderStatusUntriggered
	}
	return exchange.OrderStatus(status)
}

func bybitSide(side exchange.OrderSide) string {
	if side == exchange.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// formatAmount renders a float for the API without exponent notation
func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
