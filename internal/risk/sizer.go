package risk

import (
	"fmt"
	"math"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/orderblock"
)

// Proposal is a fully sized trade derived from an order block: a limit
// entry at the near zone boundary with stop loss beyond the far boundary
// and take profit at the configured reward multiple.
type Proposal struct {
	Symbol     string
	BlockID    string
	Side       exchange.OrderSide
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	RiskAmount float64
}

// DeclineError explains why no trade was proposed for a block. Declines
// are expected outcomes, not failures.
type DeclineError struct {
	Reason string
}

func (e *DeclineError) Error() string {
	return "trade declined: " + e.Reason
}

// IsDecline reports whether an error is a sizing decline
func IsDecline(err error) bool {
	_, ok := err.(*DeclineError)
	return ok
}

func decline(format string, args ...interface{}) error {
	return &DeclineError{Reason: fmt.Sprintf(format, args...)}
}

// Sizer turns order blocks into sized trade proposals
type Sizer struct {
	riskPerTradePercent float64 // % of free equity risked per trade
	rewardRiskRatio     float64
	stopLossBuffer      float64 // fractional buffer beyond the far boundary
}

// NewSizer creates a sizer with the given risk parameters
func NewSizer(riskPerTradePercent, rewardRiskRatio, stopLossBuffer float64) *Sizer {
	return &Sizer{
		riskPerTradePercent: riskPerTradePercent,
		rewardRiskRatio:     rewardRiskRatio,
		stopLossBuffer:      stopLossBuffer,
	}
}

// Propose sizes a trade for an active order block. Equity is the free
// balance available for margin; limits carry the instrument's quantity
// and price steps. Returns a DeclineError when the block cannot be
// traded at the current equity or instrument constraints.
func (s *Sizer) Propose(block *orderblock.OrderBlock, equity float64, limits *exchange.InstrumentLimits) (*Proposal, error) {
	if !block.Active() {
		return nil, decline("block %s no longer active", block.ID)
	}
	if equity <= 0 {
		return nil, decline("non-positive equity %.2f", equity)
	}

	var side exchange.OrderSide
	var stopLoss float64

	entry := block.EntryPrice()
	if block.Type == orderblock.BlockTypeBullish {
		side = exchange.OrderSideBuy
		stopLoss = block.FarBoundary() * (1 - s.stopLossBuffer)
	} else {
		side = exchange.OrderSideSell
		stopLoss = block.FarBoundary() * (1 + s.stopLossBuffer)
	}

	if limits != nil && limits.TickSize > 0 {
		entry = RoundToTick(entry, limits.TickSize)
		stopLoss = RoundToTick(stopLoss, limits.TickSize)
	}

	riskPerUnit := math.Abs(entry - stopLoss)
	if riskPerUnit <= 0 {
		return nil, decline("zero distance between entry %.6f and stop %.6f", entry, stopLoss)
	}
	if (side == exchange.OrderSideBuy && stopLoss >= entry) ||
		(side == exchange.OrderSideSell && stopLoss <= entry) {
		return nil, decline("inverted levels: entry %.6f stop %.6f for %s", entry, stopLoss, side)
	}

	riskAmount := equity * s.riskPerTradePercent / 100
	quantity := riskAmount / riskPerUnit

	if limits != nil {
		if limits.QtyStep > 0 {
			quantity = RoundDownToStep(quantity, limits.QtyStep)
		}
		if quantity <= 0 {
			return nil, decline("quantity truncates to zero at step %.8f", limits.QtyStep)
		}
		if limits.MinOrderQty > 0 && quantity < limits.MinOrderQty {
			return nil, decline("quantity %.8f below minimum %.8f", quantity, limits.MinOrderQty)
		}
		if limits.MaxOrderQty > 0 && quantity > limits.MaxOrderQty {
			quantity = RoundDownToStep(limits.MaxOrderQty, limits.QtyStep)
		}
		if limits.MinNotional > 0 && quantity*entry < limits.MinNotional {
			return nil, decline("notional %.2f below minimum %.2f", quantity*entry, limits.MinNotional)
		}
	} else if quantity <= 0 {
		return nil, decline("non-positive quantity")
	}

	takeProfit := s.takeProfitFor(side, entry, riskPerUnit)
	if limits != nil && limits.TickSize > 0 {
		takeProfit = RoundToTick(takeProfit, limits.TickSize)
	}

	return &Proposal{
		Symbol:     block.Symbol,
		BlockID:    block.ID,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: entry,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		RiskAmount: quantity * riskPerUnit,
	}, nil
}

// Levels returns the entry, stop loss and take profit a block implies,
// without sizing. Used when adopting an existing exchange order whose
// quantity is already decided.
func (s *Sizer) Levels(block *orderblock.OrderBlock) (entry, stopLoss, takeProfit float64) {
	entry = block.EntryPrice()
	if block.Type == orderblock.BlockTypeBullish {
		stopLoss = block.FarBoundary() * (1 - s.stopLossBuffer)
	} else {
		stopLoss = block.FarBoundary() * (1 + s.stopLossBuffer)
	}
	riskPerUnit := math.Abs(entry - stopLoss)
	if block.Type == orderblock.BlockTypeBullish {
		takeProfit = entry + riskPerUnit*s.rewardRiskRatio
	} else {
		takeProfit = entry - riskPerUnit*s.rewardRiskRatio
	}
	return entry, stopLoss, takeProfit
}

// FallbackLevels derives stop loss and take profit for a position with no
// tracked context, using a flat percentage stop at the configured reward
// multiple. Used when reconciliation finds an unprotected position whose
// originating order is unknown.
func (s *Sizer) FallbackLevels(side exchange.PositionSide, entryPrice, fallbackStopPercent float64) (stopLoss, takeProfit float64) {
	stopDistance := entryPrice * fallbackStopPercent / 100
	if side == exchange.PositionSideLong {
		return entryPrice - stopDistance, entryPrice + stopDistance*s.rewardRiskRatio
	}
	return entryPrice + stopDistance, entryPrice - stopDistance*s.rewardRiskRatio
}

// takeProfitFor places the target at the reward multiple of the stop distance
func (s *Sizer) takeProfitFor(side exchange.OrderSide, entry, riskPerUnit float64) float64 {
	if side == exchange.OrderSideBuy {
		return entry + riskPerUnit*s.rewardRiskRatio
	}
	return entry - riskPerUnit*s.rewardRiskRatio
}

// RoundDownToStep truncates a quantity to the instrument's step size
func RoundDownToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + 1e-9)
	return roundToPrecision(steps*step, step)
}

// RoundToTick rounds a price to the nearest tick
func RoundToTick(value, tick float64) float64 {
	if tick <= 0 {
		return value
	}
	ticks := math.Round(value / tick)
	return roundToPrecision(ticks*tick, tick)
}

// roundToPrecision trims float artifacts introduced by step multiplication
func roundToPrecision(value, step float64) float64 {
	decimals := 0
	for step < 1 && decimals < 12 {
		step *= 10
		decimals++
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}
