package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haiminh-dev/orderblock-bot/internal/config"
	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/logger"
	"github.com/haiminh-dev/orderblock-bot/internal/state"
	"github.com/haiminh-dev/orderblock-bot/pkg/types"
)

type fakeGateway struct {
	candles   map[string][]types.OHLCV
	positions []exchange.Position
	orders    map[string]*exchange.Order

	placedLimits []exchange.LimitOrderRequest
	cancelled    []string
	balanceErr   error
	nextID       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		candles: make(map[string][]types.OHLCV),
		orders:  make(map[string]*exchange.Order),
	}
}

func (f *fakeGateway) GetName() string        { return "fake" }
func (f *fakeGateway) GetEnvironment() string { return "test" }

func (f *fakeGateway) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}

func (f *fakeGateway) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]types.OHLCV, error) {
	return f.candles[symbol], nil
}

func (f *fakeGateway) GetBalance(ctx context.Context, asset string) (*exchange.BalanceInfo, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &exchange.BalanceInfo{Asset: asset, Total: 10000, Available: 10000}, nil
}

func (f *fakeGateway) GetPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	return f.positions, nil
}

func (f *fakeGateway) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.Order, error) {
	var open []exchange.Order
	for _, o := range f.orders {
		if o.IsOpen() {
			open = append(open, *o)
		}
	}
	return open, nil
}

func (f *fakeGateway) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	o, ok := f.orders[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (*exchange.Order, error) {
	f.placedLimits = append(f.placedLimits, req)
	f.nextID++
	order := &exchange.Order{
		ID:          fmt.Sprintf("order-%d", f.nextID),
		LinkID:      req.LinkID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        exchange.OrderTypeLimit,
		Status:      exchange.OrderStatusNew,
		Price:       req.Price,
		Quantity:    req.Quantity,
		CreatedTime: time.Now(),
	}
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeGateway) PlaceStopLoss(ctx context.Context, req exchange.ProtectiveOrderRequest) (*exchange.Order, error) {
	f.nextID++
	return &exchange.Order{ID: fmt.Sprintf("sl-%d", f.nextID)}, nil
}

func (f *fakeGateway) PlaceTakeProfit(ctx context.Context, req exchange.ProtectiveOrderRequest) (*exchange.Order, error) {
	f.nextID++
	return &exchange.Order{ID: fmt.Sprintf("tp-%d", f.nextID)}, nil
}

func (f *fakeGateway) ClosePositionMarket(ctx context.Context, req exchange.MarketCloseRequest) (*exchange.Order, error) {
	f.nextID++
	return &exchange.Order{ID: fmt.Sprintf("close-%d", f.nextID)}, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	if o, ok := f.orders[orderID]; ok {
		o.Status = exchange.OrderStatusCancelled
	}
	return nil
}

func (f *fakeGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	return &exchange.InstrumentLimits{Symbol: symbol, MinOrderQty: 0.001, QtyStep: 0.001, TickSize: 0.1}, nil
}

func (f *fakeGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeGateway) Disconnect() error                 { return nil }

var candleBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func testCandle(i int, open, high, low, close float64) types.OHLCV {
	return types.OHLCV{
		Timestamp: candleBase.Add(time.Duration(i) * 30 * time.Minute),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1000,
	}
}

// sweepCandles builds a series with a bullish sweep at candle 20 that
// leaves an active zone between 95 and 100.5.
func sweepCandles() []types.OHLCV {
	candles := make([]types.OHLCV, 26)
	for i := range candles {
		candles[i] = testCandle(i, 100, 100.5, 99.5, 100)
	}
	candles[20] = testCandle(20, 100, 100.5, 95, 100.2)
	for i := 21; i < 26; i++ {
		candles[i] = testCandle(i, 101, 102, 100.8, 101.5)
	}
	return candles
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Trading.Symbols = []string{"BTCUSDT"}
	cfg.Trading.CandleLimit = 26
	cfg.Detection.PivotLength = 2
	return cfg
}

func newTestEngine(t *testing.T, gw *fakeGateway) (*Engine, *state.BotState) {
	t.Helper()
	dir := t.TempDir()

	log, err := logger.NewLogger("engine-test", dir)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	botState := state.NewBotState(100, 50)
	store := state.NewStore(dir, log)
	require.NoError(t, store.Initialize())

	return NewEngine(testConfig(), gw, botState, store, log, nil), botState
}

func TestEngine_CyclePlacesEntryForActiveBlock(t *testing.T) {
	gw := newFakeGateway()
	gw.candles["BTCUSDT"] = sweepCandles()
	engine, botState := newTestEngine(t, gw)

	engine.runCycle()

	require.Len(t, gw.placedLimits, 1)
	placed := gw.placedLimits[0]
	assert.Equal(t, exchange.OrderSideBuy, placed.Side)
	assert.Equal(t, 100.5, placed.Price)
	assert.Greater(t, placed.Quantity, 0.0)

	orders := botState.PendingOrders()
	require.Len(t, orders, 1)
	assert.InDelta(t, 94.9, orders[0].StopLoss, 1e-9)
	assert.Greater(t, orders[0].TakeProfit, orders[0].Price)

	metrics := botState.MetricsSnapshot()
	assert.Equal(t, 1, metrics.CyclesCompleted)
	assert.Equal(t, 1, metrics.OrdersPlaced)
	assert.False(t, metrics.LastCycleAt.IsZero())
}

func TestEngine_NoDuplicateEntryWhilePending(t *testing.T) {
	gw := newFakeGateway()
	gw.candles["BTCUSDT"] = sweepCandles()
	engine, _ := newTestEngine(t, gw)

	engine.runCycle()
	engine.runCycle()

	assert.Len(t, gw.placedLimits, 1)
}

func TestEngine_OpenPositionBlocksNewEntry(t *testing.T) {
	gw := newFakeGateway()
	gw.candles["BTCUSDT"] = sweepCandles()
	gw.positions = []exchange.Position{{
		Symbol: "BTCUSDT", Side: exchange.PositionSideLong, Size: 1, EntryPrice: 100,
	}}
	engine, _ := newTestEngine(t, gw)

	engine.runCycle()

	assert.Empty(t, gw.placedLimits)
}

func TestEngine_QuietMarketPlacesNothing(t *testing.T) {
	gw := newFakeGateway()
	flat := make([]types.OHLCV, 26)
	for i := range flat {
		flat[i] = testCandle(i, 100, 100.5, 99.5, 100)
	}
	gw.candles["BTCUSDT"] = flat
	engine, botState := newTestEngine(t, gw)

	engine.runCycle()

	assert.Empty(t, gw.placedLimits)
	assert.Equal(t, 1, botState.MetricsSnapshot().CyclesCompleted)
}

func TestEngine_MalformedCandlesSkipSymbolOnly(t *testing.T) {
	gw := newFakeGateway()
	bad := sweepCandles()
	bad[5].Close = 0
	gw.candles["BTCUSDT"] = bad
	engine, botState := newTestEngine(t, gw)

	engine.runCycle()

	// Symbol skipped, cycle still completes and persists
	assert.Empty(t, gw.placedLimits)
	assert.Equal(t, 1, botState.MetricsSnapshot().CyclesCompleted)
}

func TestEngine_BalanceFailureDeclinesSizing(t *testing.T) {
	gw := newFakeGateway()
	gw.candles["BTCUSDT"] = sweepCandles()
	gw.balanceErr = exchange.ErrConnectionFailed
	engine, _ := newTestEngine(t, gw)

	engine.runCycle()

	assert.Empty(t, gw.placedLimits)
}

func TestEngine_CycleRecordsBalance(t *testing.T) {
	gw := newFakeGateway()
	gw.candles["BTCUSDT"] = sweepCandles()
	gw.positions = []exchange.Position{{
		Symbol: "ETHUSDT", Side: exchange.PositionSideLong, Size: 1, EntryPrice: 2000, UnrealisedPnl: 42.5,
	}}
	engine, botState := newTestEngine(t, gw)

	engine.runCycle()

	history := botState.BalanceHistory()
	require.Len(t, history, 1)
	assert.Equal(t, 10000.0, history[0].Total)
	assert.Equal(t, 0.0, history[0].Used)
	assert.Equal(t, 42.5, history[0].TotalPnl)
}

func TestEngine_StartAndStop(t *testing.T) {
	gw := newFakeGateway()
	gw.candles["BTCUSDT"] = sweepCandles()
	engine, _ := newTestEngine(t, gw)

	require.NoError(t, engine.Start(context.Background()))
	engine.Stop()
}
