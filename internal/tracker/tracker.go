package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/logger"
	"github.com/haiminh-dev/orderblock-bot/internal/monitoring"
	"github.com/haiminh-dev/orderblock-bot/internal/risk"
	"github.com/haiminh-dev/orderblock-bot/internal/state"
)

// Tracker owns the lifecycle of entry limit orders: it places them from
// sized proposals, polls their fill state each cycle, attaches protective
// TP/SL orders to filled quantity, and cancels entries that sit unfilled
// past the configured age. Every observed fill or cancel is written to the
// store before the cycle moves on, so a crash never loses a transition.
type Tracker struct {
	gateway exchange.Gateway
	state   *state.BotState
	store   *state.Store
	log     *logger.Logger

	maxPendingAge time.Duration
}

// New creates a tracker. maxPendingAge is how long an entry order may sit
// with zero fills before it is cancelled. store may be nil when persistence
// is handled elsewhere.
func New(gateway exchange.Gateway, botState *state.BotState, store *state.Store,
	log *logger.Logger, maxPendingAge time.Duration) *Tracker {
	return &Tracker{
		gateway:       gateway,
		state:         botState,
		store:         store,
		log:           log,
		maxPendingAge: maxPendingAge,
	}
}

// persist writes the mutated state sections to disk immediately
func (t *Tracker) persist() {
	if t.store == nil {
		return
	}
	if err := t.store.SavePendingOrders(t.state); err != nil && t.log != nil {
		t.log.LogError("Pending Order Save", err)
	}
	if err := t.store.SaveTradeHistory(t.state); err != nil && t.log != nil {
		t.log.LogError("Trade History Save", err)
	}
	if err := t.store.SaveMetrics(t.state); err != nil && t.log != nil {
		t.log.LogError("Metrics Save", err)
	}
}

// PlaceEntry submits a limit order for a sized proposal and starts tracking
// it. Returns the tracked order. A block with an order already working
// against it is skipped, so repeated detection of the same zone never
// stacks entries.
func (t *Tracker) PlaceEntry(ctx context.Context, proposal *risk.Proposal) (*state.PendingOrder, error) {
	if t.state.HasPendingForBlock(proposal.BlockID) {
		return nil, fmt.Errorf("block %s already has a working order", proposal.BlockID)
	}

	linkID := newLinkID()
	placed, err := t.gateway.PlaceLimitOrder(ctx, exchange.LimitOrderRequest{
		Symbol:   proposal.Symbol,
		Side:     proposal.Side,
		Quantity: proposal.Quantity,
		Price:    proposal.EntryPrice,
		LinkID:   linkID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place entry order for %s: %w", proposal.Symbol, err)
	}

	now := time.Now()
	pending := state.PendingOrder{
		OrderID:    placed.ID,
		LinkID:     linkID,
		Symbol:     proposal.Symbol,
		Side:       proposal.Side,
		Quantity:   proposal.Quantity,
		Price:      proposal.EntryPrice,
		StopLoss:   proposal.StopLoss,
		TakeProfit: proposal.TakeProfit,
		BlockID:    proposal.BlockID,
		Status:     state.PendingStatusNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.state.UpsertPendingOrder(pending)
	t.state.UpdateMetrics(func(m *state.Metrics) { m.OrdersPlaced++ })
	t.persist()

	if t.log != nil {
		t.log.LogOrderPlacement(proposal.Symbol, string(proposal.Side), placed.ID,
			proposal.Quantity, proposal.EntryPrice, proposal.TakeProfit, proposal.StopLoss)
	}

	return &pending, nil
}

// Adopt starts tracking an order the bot did not place this session, used
// by reconciliation when an exchange order matches an active block.
func (t *Tracker) Adopt(order exchange.Order, blockID string, stopLoss, takeProfit float64) state.PendingOrder {
	now := time.Now()
	pending := state.PendingOrder{
		OrderID:    order.ID,
		LinkID:     order.LinkID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      order.Price,
		FilledQty:  order.FilledQty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		BlockID:    blockID,
		Status:     statusFromOrder(order),
		CreatedAt:  order.CreatedTime,
		UpdatedAt:  now,
	}
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}
	t.state.UpsertPendingOrder(pending)
	t.persist()
	return pending
}

// Sync polls every tracked order against the exchange and advances its
// lifecycle. Filled quantity gets protective orders, finished orders are
// recorded and dropped, and stale unfilled entries are cancelled. Errors
// on one order never block the others.
func (t *Tracker) Sync(ctx context.Context) {
	for _, pending := range t.state.PendingOrders() {
		if err := t.syncOrder(ctx, pending); err != nil && t.log != nil {
			t.log.LogError(fmt.Sprintf("Order Sync %s", pending.OrderID), err)
		}
	}
}

func (t *Tracker) syncOrder(ctx context.Context, pending state.PendingOrder) error {
	current, err := t.gateway.GetOrder(ctx, pending.Symbol, pending.OrderID)
	if err != nil {
		if isOrderNotFound(err) {
			// Gone from both realtime and history queries. Nothing left
			// to manage, drop it.
			if t.log != nil {
				t.log.Warning("Order %s for %s vanished from exchange, dropping from tracking",
					pending.OrderID, pending.Symbol)
			}
			t.state.RemovePendingOrder(pending.OrderID)
			t.persist()
			return nil
		}
		return err
	}

	// Protect any newly filled quantity before acting on the final status,
	// so a fill observed at the same poll as cancellation still gets covered.
	if current.FilledQty > pending.FilledQty {
		t.protectFill(ctx, &pending, current)
	}

	switch statusFromOrder(*current) {
	case state.PendingStatusFilled:
		t.completeFill(&pending, current)
	case state.PendingStatusCancelled:
		t.completeCancel(&pending, current)
	case state.PendingStatusPartiallyFilled:
		pending.Status = state.PendingStatusPartiallyFilled
		pending.UpdatedAt = time.Now()
		t.state.UpsertPendingOrder(pending)
		t.cancelIfStale(ctx, pending)
	default:
		pending.UpdatedAt = time.Now()
		t.state.UpsertPendingOrder(pending)
		t.cancelIfStale(ctx, pending)
	}
	t.persist()

	return nil
}

// protectFill places TP and SL conditional orders covering the quantity
// filled since the last poll. Sizing per increment means partial fills are
// protected as they happen rather than waiting for the full fill.
func (t *Tracker) protectFill(ctx context.Context, pending *state.PendingOrder, current *exchange.Order) {
	delta := current.FilledQty - pending.FilledQty
	closingSide := pending.Side.Opposite()

	partial := current.FilledQty < pending.Quantity
	if t.log != nil {
		t.log.LogOrderFill(pending.Symbol, string(pending.Side), pending.OrderID,
			current.FilledQty, current.AvgFillPrice, partial)
	}
	if partial {
		t.state.UpdateMetrics(func(m *state.Metrics) { m.PartialFills++ })
	}

	if pending.StopLoss > 0 {
		_, err := t.gateway.PlaceStopLoss(ctx, exchange.ProtectiveOrderRequest{
			Symbol:       pending.Symbol,
			Side:         closingSide,
			Quantity:     delta,
			TriggerPrice: pending.StopLoss,
			LinkID:       newLinkID(),
		})
		if err != nil {
			if t.log != nil {
				t.log.LogError(fmt.Sprintf("Stop Loss %s", pending.Symbol), err)
			}
		} else {
			t.state.UpdateMetrics(func(m *state.Metrics) { m.ProtectiveOrdersPlaced++ })
			monitoring.RecordProtectiveOrder(pending.Symbol, string(exchange.StopOrderTypeStopLoss))
		}
	}

	if pending.TakeProfit > 0 {
		_, err := t.gateway.PlaceTakeProfit(ctx, exchange.ProtectiveOrderRequest{
			Symbol:       pending.Symbol,
			Side:         closingSide,
			Quantity:     delta,
			TriggerPrice: pending.TakeProfit,
			LinkID:       newLinkID(),
		})
		if err != nil {
			if t.log != nil {
				t.log.LogError(fmt.Sprintf("Take Profit %s", pending.Symbol), err)
			}
		} else {
			t.state.UpdateMetrics(func(m *state.Metrics) { m.ProtectiveOrdersPlaced++ })
			monitoring.RecordProtectiveOrder(pending.Symbol, string(exchange.StopOrderTypeTakeProfit))
		}
	}

	pending.FilledQty = current.FilledQty
	pending.UpdatedAt = time.Now()
	t.state.UpsertPendingOrder(*pending)
}

// completeFill records the executed trade and stops tracking the order
func (t *Tracker) completeFill(pending *state.PendingOrder, current *exchange.Order) {
	entryPrice := current.AvgFillPrice
	if entryPrice <= 0 {
		entryPrice = pending.Price
	}

	if !t.state.HasTradeForOrder(pending.OrderID) {
		t.state.AppendTrade(state.TradeRecord{
			Symbol:     pending.Symbol,
			Side:       pending.Side,
			Quantity:   current.FilledQty,
			EntryPrice: entryPrice,
			Status:     state.TradeStatusOpen,
			OrderID:    pending.OrderID,
			BlockID:    pending.BlockID,
			Source:     state.TradeSourceFill,
			Timestamp:  time.Now(),
		})
	}
	t.state.UpdateMetrics(func(m *state.Metrics) { m.OrdersFilled++ })
	t.state.RemovePendingOrder(pending.OrderID)
	monitoring.RecordOrderFilled(pending.Symbol, string(pending.Side))

	if t.log != nil {
		t.log.Trade("FILLED %s %s qty=%.8f avg=%.8f order=%s",
			pending.Symbol, pending.Side, current.FilledQty, entryPrice, pending.OrderID)
	}
}

// completeCancel records any partially filled quantity as a trade before
// dropping the order from tracking.
func (t *Tracker) completeCancel(pending *state.PendingOrder, current *exchange.Order) {
	if current.FilledQty > 0 && !t.state.HasTradeForOrder(pending.OrderID) {
		entryPrice := current.AvgFillPrice
		if entryPrice <= 0 {
			entryPrice = pending.Price
		}
		t.state.AppendTrade(state.TradeRecord{
			Symbol:     pending.Symbol,
			Side:       pending.Side,
			Quantity:   current.FilledQty,
			EntryPrice: entryPrice,
			Status:     state.TradeStatusOpen,
			OrderID:    pending.OrderID,
			BlockID:    pending.BlockID,
			Source:     state.TradeSourceFill,
			Timestamp:  time.Now(),
		})
	}
	t.state.UpdateMetrics(func(m *state.Metrics) { m.OrdersCancelled++ })
	t.state.RemovePendingOrder(pending.OrderID)

	if t.log != nil {
		t.log.Info("Order %s for %s cancelled on exchange (filled %.8f of %.8f)",
			pending.OrderID, pending.Symbol, current.FilledQty, pending.Quantity)
	}
}

// cancelIfStale cancels entries that have sat unfilled past the age limit.
// Orders with any fill are left working so the position thesis plays out.
func (t *Tracker) cancelIfStale(ctx context.Context, pending state.PendingOrder) {
	if t.maxPendingAge <= 0 || pending.FilledQty > 0 {
		return
	}
	if time.Since(pending.CreatedAt) < t.maxPendingAge {
		return
	}

	if err := t.gateway.CancelOrder(ctx, pending.Symbol, pending.OrderID); err != nil {
		if t.log != nil {
			t.log.LogError(fmt.Sprintf("Stale Cancel %s", pending.OrderID), err)
		}
		return
	}

	t.state.UpdateMetrics(func(m *state.Metrics) { m.OrdersCancelled++ })
	t.state.RemovePendingOrder(pending.OrderID)

	if t.log != nil {
		t.log.Info("Cancelled stale order %s for %s, unfilled after %s",
			pending.OrderID, pending.Symbol, t.maxPendingAge)
	}
}

// statusFromOrder maps an exchange order status onto the tracked lifecycle
func statusFromOrder(order exchange.Order) state.PendingStatus {
	switch order.Status {
	case exchange.OrderStatusFilled:
		return state.PendingStatusFilled
	case exchange.OrderStatusCancelled, exchange.OrderStatusRejected:
		return state.PendingStatusCancelled
	case exchange.OrderStatusPartiallyFilled:
		return state.PendingStatusPartiallyFilled
	default:
		return state.PendingStatusNew
	}
}

func isOrderNotFound(err error) bool {
	var exchErr *exchange.ExchangeError
	if errors.As(err, &exchErr) {
		return exchErr.Code == exchange.ErrOrderNotFound.Code
	}
	return false
}

// newLinkID builds a client order ID within Bybit's 36 character limit
func newLinkID() string {
	return "ob-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}
