package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/orderblock"
	"github.com/haiminh-dev/orderblock-bot/internal/risk"
	"github.com/haiminh-dev/orderblock-bot/internal/state"
	"github.com/haiminh-dev/orderblock-bot/internal/tracker"
	"github.com/haiminh-dev/orderblock-bot/pkg/types"
)

type fakeGateway struct {
	openOrders  []exchange.Order
	positions   []exchange.Position
	latestPrice float64

	cancelled         []string
	placedStopLosses  []exchange.ProtectiveOrderRequest
	placedTakeProfits []exchange.ProtectiveOrderRequest
	marketCloses      []exchange.MarketCloseRequest

	nextID int
}

func (f *fakeGateway) GetName() string        { return "fake" }
func (f *fakeGateway) GetEnvironment() string { return "test" }

func (f *fakeGateway) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if f.latestPrice > 0 {
		return f.latestPrice, nil
	}
	return 100, nil
}

func (f *fakeGateway) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	return nil, nil
}

func (f *fakeGateway) GetBalance(ctx context.Context, asset string) (*exchange.BalanceInfo, error) {
	return &exchange.BalanceInfo{Asset: asset, Total: 10000, Available: 10000}, nil
}

func (f *fakeGateway) GetPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	return f.positions, nil
}

func (f *fakeGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	var out []exchange.Order
	for _, o := range f.openOrders {
		if !contains(f.cancelled, o.ID) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeGateway) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	for i := range f.openOrders {
		if f.openOrders[i].ID == orderID {
			return &f.openOrders[i], nil
		}
	}
	return nil, exchange.ErrOrderNotFound
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.Order, error) {
	f.nextID++
	return &exchange.Order{ID: fmt.Sprintf("order-%d", f.nextID)}, nil
}

func (f *fakeGateway) PlaceStopLoss(ctx context.Context, req exchange.ProtectiveOrderRequest) (*exchange.Order, error) {
	f.placedStopLosses = append(f.placedStopLosses, req)
	f.nextID++
	order := exchange.Order{
		ID:            fmt.Sprintf("sl-%d", f.nextID),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          exchange.OrderTypeMarket,
		Status:        exchange.OrderStatusUntriggered,
		Quantity:      req.Quantity,
		TriggerPrice:  req.TriggerPrice,
		ReduceOnly:    true,
		StopOrderType: exchange.StopOrderTypeStopLoss,
	}
	f.openOrders = append(f.openOrders, order)
	return &order, nil
}

func (f *fakeGateway) PlaceTakeProfit(ctx context.Context, req exchange.ProtectiveOrderRequest) (*exchange.Order, error) {
	f.placedTakeProfits = append(f.placedTakeProfits, req)
	f.nextID++
	order := exchange.Order{
		ID:            fmt.Sprintf("tp-%d", f.nextID),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          exchange.OrderTypeMarket,
		Status:        exchange.OrderStatusUntriggered,
		Quantity:      req.Quantity,
		TriggerPrice:  req.TriggerPrice,
		ReduceOnly:    true,
		StopOrderType: exchange.StopOrderTypeTakeProfit,
	}
	f.openOrders = append(f.openOrders, order)
	return &order, nil
}

func (f *fakeGateway) ClosePositionMarket(ctx context.Context, req exchange.MarketCloseRequest) (*exchange.Order, error) {
	f.marketCloses = append(f.marketCloses, req)
	f.nextID++
	return &exchange.Order{ID: fmt.Sprintf("close-%d", f.nextID), Symbol: req.Symbol, Side: req.Side}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	return &exchange.InstrumentLimits{Symbol: symbol, QtyStep: 0.001, TickSize: 0.1}, nil
}

func (f *fakeGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeGateway) Disconnect() error                 { return nil }

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func newTestReconciler(gw *fakeGateway) (*Reconciler, *state.BotState) {
	botState := state.NewBotState(100, 50)
	sizer := risk.NewSizer(1.0, 2.0, 0.001)
	orderTracker := tracker.New(gw, botState, nil, nil, 15*time.Minute)
	rec := New(gw, botState, orderTracker, nil, sizer, nil, Config{
		QuantityTolerance:   0.01,
		PriceTolerance:      0.005,
		FallbackStopPercent: 1.0,
	})
	return rec, botState
}

func activeBullishBlock() orderblock.OrderBlock {
	return orderblock.OrderBlock{
		ID:     "BTCUSDT-bullish-1",
		Symbol: "BTCUSDT",
		Type:   orderblock.BlockTypeBullish,
		Top:    100,
		Bottom: 95,
	}
}

func TestStartup_AdoptsOrderNearActiveBlock(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []exchange.Order{{
			ID:       "ext-1",
			Symbol:   "BTCUSDT",
			Side:     exchange.OrderSideBuy,
			Type:     exchange.OrderTypeLimit,
			Status:   exchange.OrderStatusNew,
			Price:    100.3, // 0.3% from the zone top, within 0.5%
			Quantity: 5,
		}},
	}
	rec, botState := newTestReconciler(gw)

	blocks := map[string][]orderblock.OrderBlock{"BTCUSDT": {activeBullishBlock()}}
	require.NoError(t, rec.Startup(context.Background(), blocks))

	assert.True(t, botState.HasPendingForBlock("BTCUSDT-bullish-1"))
	assert.Empty(t, gw.cancelled)
	assert.Equal(t, 1, botState.MetricsSnapshot().BlocksAdopted)

	adopted, ok := botState.PendingOrder("ext-1")
	require.True(t, ok)
	assert.Greater(t, adopted.StopLoss, 0.0)
	assert.Greater(t, adopted.TakeProfit, adopted.StopLoss)
}

func TestStartup_AdoptsAtMostOneOrderPerSymbol(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []exchange.Order{
			{
				ID:       "ext-1",
				Symbol:   "BTCUSDT",
				Side:     exchange.OrderSideBuy,
				Type:     exchange.OrderTypeLimit,
				Status:   exchange.OrderStatusNew,
				Price:    100.2,
				Quantity: 5,
			},
			{
				ID:       "ext-2",
				Symbol:   "BTCUSDT",
				Side:     exchange.OrderSideBuy,
				Type:     exchange.OrderTypeLimit,
				Status:   exchange.OrderStatusNew,
				Price:    99.8, // also within tolerance of the same zone
				Quantity: 3,
			},
		},
	}
	rec, botState := newTestReconciler(gw)

	blocks := map[string][]orderblock.OrderBlock{"BTCUSDT": {activeBullishBlock()}}
	require.NoError(t, rec.Startup(context.Background(), blocks))

	// First candidate adopted, second cancelled as an orphan
	assert.Len(t, botState.PendingForSymbol("BTCUSDT"), 1)
	_, adopted := botState.PendingOrder("ext-1")
	assert.True(t, adopted)
	assert.Equal(t, []string{"ext-2"}, gw.cancelled)

	metrics := botState.MetricsSnapshot()
	assert.Equal(t, 1, metrics.BlocksAdopted)
	assert.Equal(t, 1, metrics.OrphansCancelled)
}

func TestStartup_CancelsOrphanBeyondTolerance(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []exchange.Order{{
			ID:       "ext-1",
			Symbol:   "BTCUSDT",
			Side:     exchange.OrderSideBuy,
			Type:     exchange.OrderTypeLimit,
			Status:   exchange.OrderStatusNew,
			Price:    103, // 3% away from the zone top
			Quantity: 5,
		}},
	}
	rec, botState := newTestReconciler(gw)

	blocks := map[string][]orderblock.OrderBlock{"BTCUSDT": {activeBullishBlock()}}
	require.NoError(t, rec.Startup(context.Background(), blocks))

	assert.Contains(t, gw.cancelled, "ext-1")
	assert.False(t, botState.HasPendingForSymbol("BTCUSDT"))
	assert.Equal(t, 1, botState.MetricsSnapshot().OrphansCancelled)

	entries := botState.ReconLog()
	require.Len(t, entries, 1)
	assert.Equal(t, "orphan_cancelled", entries[0].Action)
}

func TestStartup_WrongSideOrderNotAdopted(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []exchange.Order{{
			ID:       "ext-1",
			Symbol:   "BTCUSDT",
			Side:     exchange.OrderSideSell, // bullish block wants a buy
			Type:     exchange.OrderTypeLimit,
			Status:   exchange.OrderStatusNew,
			Price:    100,
			Quantity: 5,
		}},
	}
	rec, _ := newTestReconciler(gw)

	blocks := map[string][]orderblock.OrderBlock{"BTCUSDT": {activeBullishBlock()}}
	require.NoError(t, rec.Startup(context.Background(), blocks))

	assert.Contains(t, gw.cancelled, "ext-1")
}

func TestStartup_TrackedOrdersLeftAlone(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []exchange.Order{{
			ID:       "known-1",
			Symbol:   "BTCUSDT",
			Side:     exchange.OrderSideBuy,
			Type:     exchange.OrderTypeLimit,
			Status:   exchange.OrderStatusNew,
			Price:    100,
			Quantity: 5,
		}},
	}
	rec, botState := newTestReconciler(gw)
	botState.UpsertPendingOrder(state.PendingOrder{
		OrderID: "known-1", Symbol: "BTCUSDT", Status: state.PendingStatusNew, CreatedAt: time.Now(),
	})

	require.NoError(t, rec.Startup(context.Background(), nil))

	assert.Empty(t, gw.cancelled)
	assert.Equal(t, 0, botState.MetricsSnapshot().OrphansCancelled)
}

func TestStartup_SynthesizesTradeForUnknownPosition(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol:     "ETHUSDT",
			Side:       exchange.PositionSideLong,
			Size:       2,
			EntryPrice: 2000,
		}},
	}
	rec, botState := newTestReconciler(gw)

	require.NoError(t, rec.Startup(context.Background(), nil))

	trades := botState.TradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, exchange.OrderSideBuy, trades[0].Side)
	assert.Equal(t, 2000.0, trades[0].EntryPrice)
	assert.Equal(t, state.TradeSourceReconciliation, trades[0].Source)
	assert.Equal(t, 1, botState.MetricsSnapshot().TradesSynthesized)

	// A second startup never duplicates the entry
	require.NoError(t, rec.Startup(context.Background(), nil))
	assert.Len(t, botState.TradeHistory(), 1)
}

func TestStartup_KnownPositionNotSynthesized(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "ETHUSDT", Side: exchange.PositionSideLong, Size: 2, EntryPrice: 2000,
		}},
	}
	rec, botState := newTestReconciler(gw)
	botState.AppendTrade(state.TradeRecord{Symbol: "ETHUSDT", OrderID: "order-9", Source: state.TradeSourceFill})

	require.NoError(t, rec.Startup(context.Background(), nil))
	assert.Len(t, botState.TradeHistory(), 1)
}

func TestReconcileProtection_UnprotectedPositionGetsFallbackLevels(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol:     "BTCUSDT",
			Side:       exchange.PositionSideLong,
			Size:       0.5,
			EntryPrice: 200,
		}},
	}
	rec, botState := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	// 1% fallback stop distance, take profit at 2x that
	require.Len(t, gw.placedStopLosses, 1)
	assert.InDelta(t, 198, gw.placedStopLosses[0].TriggerPrice, 1e-9)
	assert.Equal(t, exchange.OrderSideSell, gw.placedStopLosses[0].Side)
	assert.Equal(t, 0.5, gw.placedStopLosses[0].Quantity)

	require.Len(t, gw.placedTakeProfits, 1)
	assert.InDelta(t, 204, gw.placedTakeProfits[0].TriggerPrice, 1e-9)

	levels, ok := botState.ProtectionFor("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 198, levels.StopLoss, 1e-9)
	assert.InDelta(t, 204, levels.TakeProfit, 1e-9)

	assert.Equal(t, 1, botState.MetricsSnapshot().ReconciliationRuns)
}

func TestReconcileProtection_PendingContextSuppliesLevels(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 100,
		}},
	}
	rec, botState := newTestReconciler(gw)
	botState.UpsertPendingOrder(state.PendingOrder{
		OrderID: "order-1", Symbol: "BTCUSDT", StopLoss: 94.9, TakeProfit: 110.2,
		Status: state.PendingStatusPartiallyFilled, CreatedAt: time.Now(),
	})

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	require.Len(t, gw.placedStopLosses, 1)
	assert.InDelta(t, 94.9, gw.placedStopLosses[0].TriggerPrice, 1e-9)
	require.Len(t, gw.placedTakeProfits, 1)
	assert.InDelta(t, 110.2, gw.placedTakeProfits[0].TriggerPrice, 1e-9)
}

func protective(id, symbol string, kind exchange.StopOrderType, side exchange.OrderSide, qty, trigger float64) exchange.Order {
	return exchange.Order{
		ID:            id,
		Symbol:        symbol,
		Side:          side,
		Type:          exchange.OrderTypeMarket,
		Status:        exchange.OrderStatusUntriggered,
		Quantity:      qty,
		TriggerPrice:  trigger,
		ReduceOnly:    true,
		StopOrderType: kind,
	}
}

func TestReconcileProtection_MatchingQuantityUntouched(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 100,
		}},
		openOrders: []exchange.Order{
			protective("sl-1", "BTCUSDT", exchange.StopOrderTypeStopLoss, exchange.OrderSideSell, 0.5, 94.9),
			protective("tp-1", "BTCUSDT", exchange.StopOrderTypeTakeProfit, exchange.OrderSideSell, 0.5, 110.2),
		},
	}
	rec, botState := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	assert.Empty(t, gw.cancelled)
	assert.Empty(t, gw.placedStopLosses)
	assert.Empty(t, gw.placedTakeProfits)

	// Levels still derived from the exchange orders
	levels, ok := botState.ProtectionFor("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 94.9, levels.StopLoss, 1e-9)
	assert.InDelta(t, 110.2, levels.TakeProfit, 1e-9)
	assert.Equal(t, 0.5, levels.StopLossQty)
}

func TestReconcileProtection_QuantityWithinTolerancePreserved(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 100,
		}},
		openOrders: []exchange.Order{
			// 0.4% under the position size, inside the 1% tolerance
			protective("sl-1", "BTCUSDT", exchange.StopOrderTypeStopLoss, exchange.OrderSideSell, 0.498, 94.9),
			protective("tp-1", "BTCUSDT", exchange.StopOrderTypeTakeProfit, exchange.OrderSideSell, 0.498, 110.2),
		},
	}
	rec, _ := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))
	assert.Empty(t, gw.cancelled)
	assert.Empty(t, gw.placedStopLosses)
}

func TestReconcileProtection_QuantityMismatchReplaced(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 100,
		}},
		openOrders: []exchange.Order{
			// Covers only 60% of the position
			protective("sl-1", "BTCUSDT", exchange.StopOrderTypeStopLoss, exchange.OrderSideSell, 0.3, 94.9),
			protective("tp-1", "BTCUSDT", exchange.StopOrderTypeTakeProfit, exchange.OrderSideSell, 0.5, 110.2),
		},
	}
	rec, botState := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	// Undersized stop replaced at its existing trigger, take profit kept
	assert.Contains(t, gw.cancelled, "sl-1")
	assert.NotContains(t, gw.cancelled, "tp-1")
	require.Len(t, gw.placedStopLosses, 1)
	assert.Equal(t, 0.5, gw.placedStopLosses[0].Quantity)
	assert.InDelta(t, 94.9, gw.placedStopLosses[0].TriggerPrice, 1e-9)
	assert.Empty(t, gw.placedTakeProfits)

	entries := botState.ReconLog()
	require.NotEmpty(t, entries)
	assert.Equal(t, "protection_replaced", entries[0].Action)
}

func TestReconcileProtection_StaleProtectivesCancelled(t *testing.T) {
	gw := &fakeGateway{
		openOrders: []exchange.Order{
			protective("sl-1", "SOLUSDT", exchange.StopOrderTypeStopLoss, exchange.OrderSideSell, 1, 90),
			protective("tp-1", "SOLUSDT", exchange.StopOrderTypeTakeProfit, exchange.OrderSideSell, 1, 120),
		},
	}
	rec, botState := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	assert.ElementsMatch(t, []string{"sl-1", "tp-1"}, gw.cancelled)
	assert.Equal(t, 2, botState.MetricsSnapshot().OrphansCancelled)
	_, ok := botState.ProtectionFor("SOLUSDT")
	assert.False(t, ok)
}

func TestReconcileProtection_SecondPassTakesNoAction(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 200, MarkPrice: 200,
		}},
	}
	rec, botState := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))
	require.Len(t, gw.placedStopLosses, 1)
	require.Len(t, gw.placedTakeProfits, 1)
	actionsAfterFirst := len(botState.ReconLog())

	// The placed orders are visible on the exchange now, so a second pass
	// finds the position covered and changes nothing.
	require.NoError(t, rec.ReconcileProtection(context.Background()))

	assert.Len(t, gw.placedStopLosses, 1)
	assert.Len(t, gw.placedTakeProfits, 1)
	assert.Empty(t, gw.cancelled)
	assert.Len(t, botState.ReconLog(), actionsAfterFirst)
}

func TestReconcileProtection_ClosesTradeWhenPositionGone(t *testing.T) {
	gw := &fakeGateway{latestPrice: 2100}
	rec, botState := newTestReconciler(gw)
	botState.AppendTrade(state.TradeRecord{
		Symbol:     "ETHUSDT",
		Side:       exchange.OrderSideBuy,
		Quantity:   2,
		EntryPrice: 2000,
		Status:     state.TradeStatusOpen,
		OrderID:    "order-1",
		Source:     state.TradeSourceFill,
		Timestamp:  time.Now(),
	})

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	trades := botState.TradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, state.TradeStatusClosed, trades[0].Status)
	assert.Equal(t, 2100.0, trades[0].ExitPrice)
	assert.InDelta(t, 200, trades[0].PnL, 1e-9)
	assert.False(t, trades[0].ExitTime.IsZero())
	assert.Equal(t, 1, botState.MetricsSnapshot().TradesClosed)

	entries := botState.ReconLog()
	require.Len(t, entries, 1)
	assert.Equal(t, "trade_closed", entries[0].Action)

	// Already closed; a repeat pass leaves the ledger alone
	require.NoError(t, rec.ReconcileProtection(context.Background()))
	assert.Equal(t, 1, botState.MetricsSnapshot().TradesClosed)
	assert.Len(t, botState.TradeHistory(), 1)
}

func TestReconcileProtection_ForceClosesBreachedPosition(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 100, MarkPrice: 94,
		}},
		openOrders: []exchange.Order{
			protective("sl-1", "BTCUSDT", exchange.StopOrderTypeStopLoss, exchange.OrderSideSell, 0.5, 94.9),
			protective("tp-1", "BTCUSDT", exchange.StopOrderTypeTakeProfit, exchange.OrderSideSell, 0.5, 110.2),
		},
	}
	rec, botState := newTestReconciler(gw)
	botState.AppendTrade(state.TradeRecord{
		Symbol:     "BTCUSDT",
		Side:       exchange.OrderSideBuy,
		Quantity:   0.5,
		EntryPrice: 100,
		Status:     state.TradeStatusOpen,
		OrderID:    "order-1",
		Source:     state.TradeSourceFill,
		Timestamp:  time.Now(),
	})

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	// Mark price sits below the stop: protectives cancelled, position
	// closed at market, ledger entry closed at the mark.
	require.Len(t, gw.marketCloses, 1)
	assert.Equal(t, exchange.OrderSideSell, gw.marketCloses[0].Side)
	assert.Equal(t, 0.5, gw.marketCloses[0].Quantity)
	assert.ElementsMatch(t, []string{"sl-1", "tp-1"}, gw.cancelled)

	trades := botState.TradeHistory()
	require.Len(t, trades, 1)
	assert.Equal(t, state.TradeStatusClosed, trades[0].Status)
	assert.Equal(t, 94.0, trades[0].ExitPrice)
	assert.InDelta(t, -3, trades[0].PnL, 1e-9)

	assert.Equal(t, 1, botState.MetricsSnapshot().ForcedClosures)

	var actions []string
	for _, e := range botState.ReconLog() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "forced_closure")
}

func TestReconcileProtection_BreachIgnoredWhenLevelsInconsistent(t *testing.T) {
	gw := &fakeGateway{
		positions: []exchange.Position{{
			Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 0.5, EntryPrice: 100, MarkPrice: 94,
		}},
		openOrders: []exchange.Order{
			// Stop above the entry of a long is bad data, not a breach
			protective("sl-1", "BTCUSDT", exchange.StopOrderTypeStopLoss, exchange.OrderSideSell, 0.5, 105),
			protective("tp-1", "BTCUSDT", exchange.StopOrderTypeTakeProfit, exchange.OrderSideSell, 0.5, 110.2),
		},
	}
	rec, _ := newTestReconciler(gw)

	require.NoError(t, rec.ReconcileProtection(context.Background()))

	assert.Empty(t, gw.marketCloses)
	assert.Empty(t, gw.cancelled)
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, withinTolerance(0.5, 0.5, 0.01))
	assert.True(t, withinTolerance(0.498, 0.5, 0.01))
	assert.False(t, withinTolerance(0.49, 0.5, 0.01))
	assert.True(t, withinTolerance(0, 0, 0.01))
}
