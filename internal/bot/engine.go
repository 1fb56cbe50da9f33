package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haiminh-dev/orderblock-bot/internal/config"
	boterrors "github.com/haiminh-dev/orderblock-bot/internal/errors"
	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/logger"
	"github.com/haiminh-dev/orderblock-bot/internal/monitoring"
	"github.com/haiminh-dev/orderblock-bot/internal/orderblock"
	"github.com/haiminh-dev/orderblock-bot/internal/reconciler"
	"github.com/haiminh-dev/orderblock-bot/internal/risk"
	"github.com/haiminh-dev/orderblock-bot/internal/state"
	"github.com/haiminh-dev/orderblock-bot/internal/tracker"
)

const marginAsset = "USDT"

// Engine drives the trading loop. Everything runs on a single goroutine:
// each cycle polls tracked orders, refreshes balance and positions, runs
// detection per symbol, and places new entries. Reconciliation runs inside
// the same loop on its own slower interval, so no two components ever
// touch the exchange concurrently.
type Engine struct {
	cfg     *config.Config
	gateway exchange.Gateway
	state   *state.BotState
	store   *state.Store
	tracker *tracker.Tracker
	recon   *reconciler.Reconciler
	sizer   *risk.Sizer
	log     *logger.Logger
	health  *monitoring.HealthChecker

	detector *orderblock.Detector

	running   bool
	stopChan  chan struct{}
	doneChan  chan struct{}
	lastRecon time.Time
}

// NewEngine wires the engine from its components
func NewEngine(cfg *config.Config, gateway exchange.Gateway, botState *state.BotState,
	store *state.Store, log *logger.Logger, health *monitoring.HealthChecker) *Engine {
	sizer := risk.NewSizer(cfg.Risk.RiskPerTradePercent, cfg.Risk.RewardRiskRatio, cfg.Risk.StopLossBuffer)
	orderTracker := tracker.New(gateway, botState, store, log, cfg.PendingOrderMaxAge())
	recon := reconciler.New(gateway, botState, orderTracker, store, sizer, log, reconciler.Config{
		QuantityTolerance:   cfg.Reconciliation.QuantityTolerance,
		PriceTolerance:      cfg.Reconciliation.AdoptionPriceTolerance,
		FallbackStopPercent: cfg.Risk.FallbackStopPercent,
	})

	return &Engine{
		cfg:      cfg,
		gateway:  gateway,
		state:    botState,
		store:    store,
		tracker:  orderTracker,
		recon:    recon,
		sizer:    sizer,
		log:      log,
		health:   health,
		detector: orderblock.NewDetector(cfg.Detection.PivotLength),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start connects to the exchange, reconciles against it, and launches the
// trading loop.
func (e *Engine) Start(ctx context.Context) error {
	if e.running {
		return errors.New("engine already running")
	}

	if err := e.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", e.gateway.GetName(), err)
	}
	if e.health != nil {
		e.health.SetConnected(true)
	}

	if err := e.store.Initialize(); err != nil {
		return err
	}
	if err := e.store.Load(e.state); err != nil {
		return err
	}
	e.log.Info("Loaded state: %d pending orders, %d trades",
		len(e.state.PendingOrders()), len(e.state.TradeHistory()))

	// Startup reconciliation needs the current blocks to decide which
	// unknown orders are worth adopting.
	blocks := e.detectAll(ctx)
	if err := e.recon.Startup(ctx, blocks); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}
	if err := e.recon.ReconcileProtection(ctx); err != nil {
		e.log.LogError("Startup Protection", err)
	}
	e.lastRecon = time.Now()
	monitoring.RecordReconciliation()

	if err := e.store.Save(e.state); err != nil {
		e.log.LogError("State Save", err)
	}

	e.printStartupInfo()
	fmt.Printf("Trading logs: %s\n", e.log.GetLogPath())
	fmt.Printf("Bot is running... (activity logged to file)\n\n")

	e.running = true
	go e.loop()
	return nil
}

// Stop signals the loop to exit and waits for the in-flight cycle
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)

	select {
	case <-e.doneChan:
	case <-time.After(30 * time.Second):
		e.log.Warning("Shutdown timed out waiting for cycle to finish")
	}

	if err := e.store.Save(e.state); err != nil {
		e.log.LogError("Final State Save", err)
	}
	if err := e.gateway.Disconnect(); err != nil {
		e.log.LogError("Disconnect", err)
	}
	if e.health != nil {
		e.health.SetConnected(false)
	}
}

func (e *Engine) loop() {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.cfg.CycleInterval())
	defer ticker.Stop()

	// First cycle immediately, not after the first interval
	e.runCycle()

	for {
		select {
		case <-ticker.C:
			e.runCycle()
		case <-e.stopChan:
			e.log.Info("Trading loop stopped")
			return
		}
	}
}

// runCycle executes one pass of the trading pipeline
func (e *Engine) runCycle() {
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CycleInterval())
	defer cancel()

	e.tracker.Sync(ctx)

	// Positions first: the balance sample includes their unrealized pnl
	e.refreshPositions(ctx)
	equity := e.refreshBalance(ctx)

	if time.Since(e.lastRecon) >= e.cfg.ReconciliationInterval() {
		if err := e.recon.ReconcileProtection(ctx); err != nil {
			e.log.LogError("Reconciliation", err)
			monitoring.RecordError(string(boterrors.CategorizeError(err, "engine", "reconcile").Category))
		} else {
			monitoring.RecordReconciliation()
		}
		e.lastRecon = time.Now()
	}

	for _, symbol := range e.cfg.Trading.Symbols {
		if err := e.processSymbol(ctx, symbol, equity); err != nil {
			e.log.LogError(fmt.Sprintf("Symbol %s", symbol), err)
			monitoring.RecordError(string(boterrors.CategorizeError(err, "engine", symbol).Category))
		}
	}

	e.state.UpdateMetrics(func(m *state.Metrics) {
		m.CyclesCompleted++
		m.LastCycleAt = time.Now()
	})
	if err := e.store.Save(e.state); err != nil {
		e.log.LogError("State Save", err)
	}

	if e.health != nil {
		e.health.RecordCycle()
	}
	monitoring.RecordCycle(time.Since(started).Seconds())
}

// refreshBalance samples the account balance and returns the free equity
// used for risk sizing. A fetch failure returns zero, which makes the
// sizer decline every proposal this cycle.
func (e *Engine) refreshBalance(ctx context.Context) float64 {
	balance, err := e.gateway.GetBalance(ctx, marginAsset)
	if err != nil {
		e.log.LogError("Balance Fetch", err)
		return 0
	}

	totalPnl := 0.0
	for _, p := range e.state.Positions() {
		totalPnl += p.UnrealisedPnl
	}

	e.state.RecordBalance(state.BalancePoint{
		Timestamp: time.Now(),
		Total:     balance.Total,
		Available: balance.Available,
		Used:      balance.Total - balance.Available,
		TotalPnl:  totalPnl,
	})
	monitoring.UpdateEquity(balance.Available)
	return balance.Available
}

func (e *Engine) refreshPositions(ctx context.Context) {
	positions, err := e.gateway.GetPositions(ctx, e.cfg.Trading.Symbols)
	if err != nil {
		e.log.LogError("Position Fetch", err)
		return
	}
	e.state.SetPositions(positions)
}

// processSymbol runs detection for one symbol and places an entry when an
// active block exists and nothing is working against the symbol yet.
func (e *Engine) processSymbol(ctx context.Context, symbol string, equity float64) error {
	candles, err := e.gateway.GetCandles(ctx, symbol, e.cfg.Trading.Timeframe, e.cfg.Trading.CandleLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch candles: %w", err)
	}

	blocks, err := e.detector.Detect(symbol, candles)
	if err != nil {
		// Malformed data skips the symbol for this cycle only
		return err
	}

	if len(candles) > 0 {
		monitoring.UpdatePrice(symbol, candles[len(candles)-1].Close)
	}
	e.updateBlockGauges(symbol, blocks)

	// One exposure per symbol: an open position or a working entry order
	// blocks new placements.
	if _, hasPosition := e.state.PositionFor(symbol); hasPosition {
		return nil
	}
	if e.state.HasPendingForSymbol(symbol) {
		return nil
	}

	for _, blockType := range []orderblock.BlockType{orderblock.BlockTypeBullish, orderblock.BlockTypeBearish} {
		block := orderblock.MostRecentActive(blocks, blockType)
		if block == nil {
			continue
		}
		if e.state.HasPendingForBlock(block.ID) {
			continue
		}

		limits, err := e.gateway.GetInstrumentLimits(ctx, symbol)
		if err != nil {
			return fmt.Errorf("failed to fetch instrument limits: %w", err)
		}

		proposal, err := e.sizer.Propose(block, equity, limits)
		if err != nil {
			if risk.IsDecline(err) {
				e.log.Info("Skipping %s block %s: %v", symbol, block.ID, err)
				continue
			}
			return err
		}

		if _, err := e.tracker.PlaceEntry(ctx, proposal); err != nil {
			return err
		}
		monitoring.RecordOrderPlaced(symbol, string(proposal.Side))

		// One new entry per symbol per cycle
		break
	}

	return nil
}

// detectAll runs detection across all configured symbols, used for the
// startup reconciliation pass. Per-symbol failures are logged and skipped.
func (e *Engine) detectAll(ctx context.Context) map[string][]orderblock.OrderBlock {
	result := make(map[string][]orderblock.OrderBlock, len(e.cfg.Trading.Symbols))
	for _, symbol := range e.cfg.Trading.Symbols {
		candles, err := e.gateway.GetCandles(ctx, symbol, e.cfg.Trading.Timeframe, e.cfg.Trading.CandleLimit)
		if err != nil {
			e.log.LogError(fmt.Sprintf("Startup Candles %s", symbol), err)
			continue
		}
		blocks, err := e.detector.Detect(symbol, candles)
		if err != nil {
			e.log.LogError(fmt.Sprintf("Startup Detection %s", symbol), err)
			continue
		}
		result[symbol] = blocks
	}
	return result
}

func (e *Engine) updateBlockGauges(symbol string, blocks []orderblock.OrderBlock) {
	bullish, bearish := 0, 0
	for i := range blocks {
		if !blocks[i].Active() {
			continue
		}
		if blocks[i].Type == orderblock.BlockTypeBullish {
			bullish++
		} else {
			bearish++
		}
	}
	monitoring.UpdateActiveBlocks(symbol, string(orderblock.BlockTypeBullish), bullish)
	monitoring.UpdateActiveBlocks(symbol, string(orderblock.BlockTypeBearish), bearish)
}
