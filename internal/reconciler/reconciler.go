package reconciler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/logger"
	"github.com/haiminh-dev/orderblock-bot/internal/orderblock"
	"github.com/haiminh-dev/orderblock-bot/internal/risk"
	"github.com/haiminh-dev/orderblock-bot/internal/state"
	"github.com/haiminh-dev/orderblock-bot/internal/tracker"
)

// Reconciler aligns the bot's tracked state with what the exchange
// actually holds. At startup it adopts or cancels unknown orders and
// backfills the trade ledger from open positions. Periodically it verifies
// every position is protected by TP/SL orders of the right size, closes
// ledger trades whose position is gone, and force-closes positions whose
// protective levels were breached without the conditional orders firing.
type Reconciler struct {
	gateway exchange.Gateway
	state   *state.BotState
	tracker *tracker.Tracker
	store   *state.Store
	sizer   *risk.Sizer
	log     *logger.Logger

	quantityTolerance   float64 // fractional, protective qty vs position size
	priceTolerance      float64 // fractional, order price vs block entry for adoption
	fallbackStopPercent float64
}

// Config carries the reconciliation tolerances
type Config struct {
	QuantityTolerance   float64
	PriceTolerance      float64
	FallbackStopPercent float64
}

// New creates a reconciler. store may be nil when persistence is handled
// elsewhere.
func New(gateway exchange.Gateway, botState *state.BotState, orderTracker *tracker.Tracker,
	store *state.Store, sizer *risk.Sizer, log *logger.Logger, cfg Config) *Reconciler {
	return &Reconciler{
		gateway:             gateway,
		state:               botState,
		tracker:             orderTracker,
		store:               store,
		sizer:               sizer,
		log:                 log,
		quantityTolerance:   cfg.QuantityTolerance,
		priceTolerance:      cfg.PriceTolerance,
		fallbackStopPercent: cfg.FallbackStopPercent,
	}
}

// persist writes the mutated state sections to disk immediately
func (r *Reconciler) persist() {
	if r.store == nil {
		return
	}
	if err := r.store.SavePendingOrders(r.state); err != nil && r.log != nil {
		r.log.LogError("Pending Order Save", err)
	}
	if err := r.store.SaveTradeHistory(r.state); err != nil && r.log != nil {
		r.log.LogError("Trade History Save", err)
	}
	if err := r.store.SaveMetrics(r.state); err != nil && r.log != nil {
		r.log.LogError("Metrics Save", err)
	}
}

// Startup runs the one-time reconciliation after a restart. blocksBySymbol
// is the current detection result, used to decide whether an unknown order
// still corresponds to an active zone. Unknown orders near an active
// block's entry are adopted into tracking; the rest are cancelled as
// orphans. Open positions missing from the trade ledger get a synthesized
// entry so the dashboard never shows an unexplained position.
func (r *Reconciler) Startup(ctx context.Context, blocksBySymbol map[string][]orderblock.OrderBlock) error {
	orders, err := r.gateway.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch open orders: %w", err)
	}

	for _, order := range orders {
		if order.IsProtective() {
			continue
		}
		if _, tracked := r.state.PendingOrder(order.ID); tracked {
			continue
		}

		// One working entry per symbol: adoption stops once the symbol has
		// a tracked order, and every further candidate is an orphan.
		if block := r.matchBlock(order, blocksBySymbol[order.Symbol]); block != nil && !r.state.HasPendingForSymbol(order.Symbol) {
			_, stopLoss, takeProfit := r.sizer.Levels(block)
			r.tracker.Adopt(order, block.ID, stopLoss, takeProfit)
			r.state.UpdateMetrics(func(m *state.Metrics) { m.BlocksAdopted++ })
			r.logAction("order_adopted", order.Symbol, order.ID,
				fmt.Sprintf("price %.8f matches block %s", order.Price, block.ID))
			continue
		}

		if err := r.gateway.CancelOrder(ctx, order.Symbol, order.ID); err != nil {
			if r.log != nil {
				r.log.LogError(fmt.Sprintf("Orphan Cancel %s", order.ID), err)
			}
			continue
		}
		r.state.UpdateMetrics(func(m *state.Metrics) { m.OrphansCancelled++ })
		r.logAction("orphan_cancelled", order.Symbol, order.ID,
			fmt.Sprintf("no tracked entry and no active block near %.8f", order.Price))
	}

	positions, err := r.gateway.GetPositions(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}
	for _, position := range positions {
		r.synthesizeTrade(position)
	}

	r.persist()
	return nil
}

// matchBlock finds an active block whose entry boundary sits within the
// price tolerance of the order's limit price, on the matching side.
func (r *Reconciler) matchBlock(order exchange.Order, blocks []orderblock.OrderBlock) *orderblock.OrderBlock {
	for i := range blocks {
		block := &blocks[i]
		if !block.Active() {
			continue
		}
		if order.Side == exchange.OrderSideBuy && block.Type != orderblock.BlockTypeBullish {
			continue
		}
		if order.Side == exchange.OrderSideSell && block.Type != orderblock.BlockTypeBearish {
			continue
		}
		entry := block.EntryPrice()
		if entry <= 0 {
			continue
		}
		if math.Abs(order.Price-entry)/entry <= r.priceTolerance {
			return block
		}
	}
	return nil
}

// synthesizeTrade backfills the ledger for a position with no recorded
// origin. A symbol with an open ledger entry is already explained, so
// repeated startups never duplicate the record.
func (r *Reconciler) synthesizeTrade(position exchange.Position) {
	if r.state.HasOpenTradeForSymbol(position.Symbol) {
		return
	}

	syntheticID := fmt.Sprintf("recon-%s-%s", position.Symbol, position.Side)
	r.state.AppendTrade(state.TradeRecord{
		Symbol:     position.Symbol,
		Side:       entrySideFor(position.Side),
		Quantity:   position.Size,
		EntryPrice: position.EntryPrice,
		Status:     state.TradeStatusOpen,
		OrderID:    syntheticID,
		Source:     state.TradeSourceReconciliation,
		Timestamp:  time.Now(),
	})
	r.state.UpdateMetrics(func(m *state.Metrics) { m.TradesSynthesized++ })
	r.logAction("trade_synthesized", position.Symbol, syntheticID,
		fmt.Sprintf("%s %.8f @ %.8f", position.Side, position.Size, position.EntryPrice))
}

// ReconcileProtection verifies every open position carries stop loss and
// take profit orders covering its size, within the quantity tolerance.
// Missing protection is placed, mismatched protection is replaced, and
// protective orders with no position behind them are cancelled. The
// derived levels are stored on the state for this cycle only.
func (r *Reconciler) ReconcileProtection(ctx context.Context) error {
	if r.log != nil {
		r.log.Recon("protection pass started")
	}
	positions, err := r.gateway.GetPositions(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}
	orders, err := r.gateway.GetOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to fetch open orders: %w", err)
	}

	protectiveBySymbol := make(map[string][]exchange.Order)
	openCount := 0
	for _, order := range orders {
		if order.IsOpen() {
			openCount++
		}
		if order.IsProtective() && order.IsOpen() {
			protectiveBySymbol[order.Symbol] = append(protectiveBySymbol[order.Symbol], order)
		}
	}
	r.state.UpdateMetrics(func(m *state.Metrics) { m.OpenExchangeOrdersCount = openCount })

	r.state.ClearProtection()
	positionSymbols := make(map[string]bool, len(positions))
	for _, position := range positions {
		positionSymbols[position.Symbol] = true
		if err := r.protectPosition(ctx, position, protectiveBySymbol[position.Symbol]); err != nil {
			if r.log != nil {
				r.log.LogError(fmt.Sprintf("Protection %s", position.Symbol), err)
			}
			continue
		}
		if err := r.checkBreach(ctx, position, protectiveBySymbol[position.Symbol]); err != nil {
			if r.log != nil {
				r.log.LogError(fmt.Sprintf("Breach Check %s", position.Symbol), err)
			}
		}
	}

	r.closeFinishedTrades(ctx, positionSymbols)

	// Protective orders left behind after a position closed
	for symbol, protectives := range protectiveBySymbol {
		if positionSymbols[symbol] {
			continue
		}
		for _, order := range protectives {
			if err := r.gateway.CancelOrder(ctx, symbol, order.ID); err != nil {
				if r.log != nil {
					r.log.LogError(fmt.Sprintf("Stale Protective Cancel %s", order.ID), err)
				}
				continue
			}
			r.state.UpdateMetrics(func(m *state.Metrics) { m.OrphansCancelled++ })
			r.logAction("stale_protective_cancelled", symbol, order.ID,
				fmt.Sprintf("%s with no open position", order.StopOrderType))
		}
	}

	r.state.UpdateMetrics(func(m *state.Metrics) {
		m.ReconciliationRuns++
		m.LastReconciliationAt = time.Now()
	})
	r.persist()
	if r.log != nil {
		r.log.Recon("protection pass completed, %d positions checked", len(positions))
	}
	return nil
}

// closeFinishedTrades closes open ledger entries whose position is gone
// from the exchange, recording the exit price and realized pnl. The last
// traded price stands in for the executed protective fill.
func (r *Reconciler) closeFinishedTrades(ctx context.Context, positionSymbols map[string]bool) {
	for _, symbol := range r.state.OpenTradeSymbols() {
		if positionSymbols[symbol] {
			continue
		}

		exitPrice, err := r.gateway.GetLatestPrice(ctx, symbol)
		if err != nil || exitPrice <= 0 {
			if err != nil && r.log != nil {
				r.log.LogError(fmt.Sprintf("Trade Close %s", symbol), err)
			}
			continue
		}

		closed := r.state.CloseTrades(symbol, exitPrice, time.Now())
		if closed == 0 {
			continue
		}
		r.state.UpdateMetrics(func(m *state.Metrics) { m.TradesClosed += closed })
		r.logAction("trade_closed", symbol, "",
			fmt.Sprintf("%d trade(s) closed at %.8f, position no longer open", closed, exitPrice))
	}
}

// checkBreach force-closes a position when price has already crossed its
// protective levels, covering the case where the conditional orders were
// cancelled or failed to trigger.
func (r *Reconciler) checkBreach(ctx context.Context, position exchange.Position, protectives []exchange.Order) error {
	mark := position.MarkPrice
	if mark <= 0 || position.Size <= 0 {
		return nil
	}
	levels, ok := r.state.ProtectionFor(position.Symbol)
	if !ok {
		return nil
	}
	stopLoss, takeProfit := levels.StopLoss, levels.TakeProfit
	if stopLoss <= 0 && takeProfit <= 0 {
		return nil
	}

	reason := ""
	if position.Side == exchange.PositionSideLong {
		switch {
		case takeProfit > 0 && mark >= takeProfit:
			reason = "tp_breach"
		case stopLoss > 0 && mark <= stopLoss:
			reason = "sl_breach"
		}
	} else {
		switch {
		case takeProfit > 0 && mark <= takeProfit:
			reason = "tp_breach"
		case stopLoss > 0 && mark >= stopLoss:
			reason = "sl_breach"
		}
	}
	if reason == "" {
		return nil
	}

	// Levels on the wrong side of the entry mean bad data, not a breach
	if !levelsConsistent(position, stopLoss, takeProfit) {
		if r.log != nil {
			r.log.Warning("Skipping forced closure for %s: TP/SL inconsistent with entry %.8f (tp %.8f, sl %.8f)",
				position.Symbol, position.EntryPrice, takeProfit, stopLoss)
		}
		return nil
	}

	for _, order := range protectives {
		if err := r.gateway.CancelOrder(ctx, position.Symbol, order.ID); err != nil && r.log != nil {
			r.log.LogError(fmt.Sprintf("Breach Cancel %s", order.ID), err)
		}
	}

	closeOrder, err := r.gateway.ClosePositionMarket(ctx, exchange.MarketCloseRequest{
		Symbol:   position.Symbol,
		Side:     position.Side.ClosingOrderSide(),
		Quantity: position.Size,
		LinkID:   newLinkID(),
	})
	if err != nil {
		return fmt.Errorf("failed to close breached position %s: %w", position.Symbol, err)
	}

	closed := r.state.CloseTrades(position.Symbol, mark, time.Now())
	r.state.UpdateMetrics(func(m *state.Metrics) {
		m.ForcedClosures++
		m.TradesClosed += closed
	})
	r.logAction("forced_closure", position.Symbol, closeOrder.ID,
		fmt.Sprintf("%s at mark %.8f (entry %.8f, tp %.8f, sl %.8f)",
			reason, mark, position.EntryPrice, takeProfit, stopLoss))
	return nil
}

// levelsConsistent verifies the protective levels sit on the expected side
// of the entry price for the position's direction.
func levelsConsistent(position exchange.Position, stopLoss, takeProfit float64) bool {
	entry := position.EntryPrice
	if entry <= 0 {
		return false
	}
	if position.Side == exchange.PositionSideLong {
		return (takeProfit <= 0 || takeProfit > entry) && (stopLoss <= 0 || stopLoss < entry)
	}
	return (takeProfit <= 0 || takeProfit < entry) && (stopLoss <= 0 || stopLoss > entry)
}

// protectPosition checks one position's TP and SL coverage
func (r *Reconciler) protectPosition(ctx context.Context, position exchange.Position, protectives []exchange.Order) error {
	var stopOrders, profitOrders []exchange.Order
	for _, order := range protectives {
		switch order.StopOrderType {
		case exchange.StopOrderTypeStopLoss:
			stopOrders = append(stopOrders, order)
		case exchange.StopOrderTypeTakeProfit:
			profitOrders = append(profitOrders, order)
		}
	}

	stopLoss, takeProfit := r.intendedLevels(position, stopOrders, profitOrders)

	limits, err := r.gateway.GetInstrumentLimits(ctx, position.Symbol)
	if err != nil {
		return fmt.Errorf("failed to fetch instrument limits: %w", err)
	}
	if limits.TickSize > 0 {
		stopLoss = risk.RoundToTick(stopLoss, limits.TickSize)
		takeProfit = risk.RoundToTick(takeProfit, limits.TickSize)
	}
	quantity := position.Size
	if limits.QtyStep > 0 {
		quantity = risk.RoundDownToStep(quantity, limits.QtyStep)
	}

	closingSide := position.Side.ClosingOrderSide()

	slQty, err := r.ensureProtective(ctx, position, stopOrders, exchange.StopOrderTypeStopLoss, closingSide, quantity, stopLoss)
	if err != nil {
		return err
	}
	tpQty, err := r.ensureProtective(ctx, position, profitOrders, exchange.StopOrderTypeTakeProfit, closingSide, quantity, takeProfit)
	if err != nil {
		return err
	}

	r.state.SetProtection(position.Symbol, state.ProtectionLevels{
		StopLoss:      stopLoss,
		StopLossQty:   slQty,
		TakeProfit:    takeProfit,
		TakeProfitQty: tpQty,
	})
	return nil
}

// intendedLevels decides what TP/SL a position should carry. Existing
// protective orders define the levels; otherwise a tracked pending order
// for the symbol supplies them, and a position with no context at all
// falls back to the flat percentage stop.
func (r *Reconciler) intendedLevels(position exchange.Position, stopOrders, profitOrders []exchange.Order) (stopLoss, takeProfit float64) {
	if len(stopOrders) > 0 {
		stopLoss = stopOrders[0].TriggerPrice
	}
	if len(profitOrders) > 0 {
		takeProfit = profitOrders[0].TriggerPrice
	}
	if stopLoss > 0 && takeProfit > 0 {
		return stopLoss, takeProfit
	}

	for _, pending := range r.state.PendingForSymbol(position.Symbol) {
		if pending.StopLoss > 0 || pending.TakeProfit > 0 {
			if stopLoss <= 0 {
				stopLoss = pending.StopLoss
			}
			if takeProfit <= 0 {
				takeProfit = pending.TakeProfit
			}
			break
		}
	}
	if stopLoss > 0 && takeProfit > 0 {
		return stopLoss, takeProfit
	}

	fallbackSL, fallbackTP := r.sizer.FallbackLevels(position.Side, position.EntryPrice, r.fallbackStopPercent)
	if stopLoss <= 0 {
		stopLoss = fallbackSL
	}
	if takeProfit <= 0 {
		takeProfit = fallbackTP
	}
	return stopLoss, takeProfit
}

// ensureProtective makes the existing orders of one protective kind cover
// the position size at the wanted trigger price, placing or replacing as
// needed. Returns the covered quantity.
func (r *Reconciler) ensureProtective(ctx context.Context, position exchange.Position, existing []exchange.Order,
	kind exchange.StopOrderType, side exchange.OrderSide, quantity, triggerPrice float64) (float64, error) {
	if triggerPrice <= 0 || quantity <= 0 {
		return 0, nil
	}

	covered := 0.0
	for _, order := range existing {
		covered += order.Quantity - order.FilledQty
	}

	if covered > 0 && withinTolerance(covered, quantity, r.quantityTolerance) {
		return covered, nil
	}

	action := "protection_placed"
	if covered > 0 {
		// Size drifted, rebuild from scratch
		action = "protection_replaced"
		for _, order := range existing {
			if err := r.gateway.CancelOrder(ctx, position.Symbol, order.ID); err != nil {
				return covered, fmt.Errorf("failed to cancel %s %s: %w", kind, order.ID, err)
			}
		}
	}

	req := exchange.ProtectiveOrderRequest{
		Symbol:       position.Symbol,
		Side:         side,
		Quantity:     quantity,
		TriggerPrice: triggerPrice,
		LinkID:       newLinkID(),
	}
	var err error
	if kind == exchange.StopOrderTypeStopLoss {
		_, err = r.gateway.PlaceStopLoss(ctx, req)
	} else {
		_, err = r.gateway.PlaceTakeProfit(ctx, req)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to place %s for %s: %w", kind, position.Symbol, err)
	}

	r.state.UpdateMetrics(func(m *state.Metrics) { m.ProtectiveOrdersPlaced++ })
	r.logAction(action, position.Symbol, "",
		fmt.Sprintf("%s qty %.8f trigger %.8f (was %.8f)", kind, quantity, triggerPrice, covered))
	return quantity, nil
}

// logAction records one reconciliation action and flushes state to disk,
// so every adopt, cancel, or replacement survives a crash mid-pass.
func (r *Reconciler) logAction(action, symbol, orderID, details string) {
	r.state.AppendReconEntry(state.ReconciliationLogEntry{
		Timestamp: time.Now(),
		Action:    action,
		Symbol:    symbol,
		OrderID:   orderID,
		Details:   details,
	})
	if r.log != nil {
		r.log.Recon("%s %s %s %s", action, symbol, orderID, details)
	}
	r.persist()
}

// withinTolerance reports whether actual is within the fractional
// tolerance of wanted.
func withinTolerance(actual, wanted, tolerance float64) bool {
	if wanted <= 0 {
		return actual <= 0
	}
	return math.Abs(actual-wanted)/wanted <= tolerance
}

func entrySideFor(side exchange.PositionSide) exchange.OrderSide {
	if side == exchange.PositionSideLong {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

func newLinkID() string {
	return "obp-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
