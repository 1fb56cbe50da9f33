package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haiminh-dev/orderblock-bot/internal/exchange"
	"github.com/haiminh-dev/orderblock-bot/internal/exchange/bybit"
)

func TestNormalizeOrder(t *testing.T) {
	raw := &bybit.Order{
		OrderID:     "abc",
		OrderLinkID: "ob-123",
		Symbol:      "BTCUSDT",
		Side:        "Buy",
		OrderType:   "Limit",
		OrderStatus: "PartiallyFilled",
		Price:       "100.5",
		Qty:         "10",
		CumExecQty:  "4",
		AvgPrice:    "100.45",
	}

	order := normalizeOrder(raw)

	assert.Equal(t, "abc", order.ID)
	assert.Equal(t, "ob-123", order.LinkID)
	assert.Equal(t, exchange.OrderSideBuy, order.Side)
	assert.Equal(t, exchange.OrderTypeLimit, order.Type)
	assert.Equal(t, exchange.OrderStatusPartiallyFilled, order.Status)
	assert.Equal(t, 100.5, order.Price)
	assert.Equal(t, 10.0, order.Quantity)
	assert.Equal(t, 4.0, order.FilledQty)
	assert.Equal(t, 100.45, order.AvgFillPrice)
	assert.Equal(t, exchange.StopOrderTypeNone, order.StopOrderType)
	assert.True(t, order.IsOpen())
	assert.False(t, order.IsProtective())
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]exchange.OrderStatus{
		"New":                     exchange.OrderStatusNew,
		"Created":                 exchange.OrderStatusNew,
		"Triggered":               exchange.OrderStatusNew,
		"PartiallyFilled":         exchange.OrderStatusPartiallyFilled,
		"Filled":                  exchange.OrderStatusFilled,
		"Cancelled":               exchange.OrderStatusCancelled,
		"PartiallyFilledCanceled": exchange.OrderStatusCancelled,
		"Deactivated":             exchange.OrderStatusCancelled,
		"Rejected":                exchange.OrderStatusRejected,
		"Untriggered":             exchange.OrderStatusUntriggered,
	}
	for raw, want := range cases {
		assert.Equal(t, want, normalizeStatus(raw), raw)
	}
}

func TestClassifyStopOrder_ExplicitLabels(t *testing.T) {
	cases := map[string]exchange.StopOrderType{
		"TakeProfit":        exchange.StopOrderTypeTakeProfit,
		"PartialTakeProfit": exchange.StopOrderTypeTakeProfit,
		"StopLoss":          exchange.StopOrderTypeStopLoss,
		"PartialStopLoss":   exchange.StopOrderTypeStopLoss,
	}
	for label, want := range cases {
		raw := &bybit.Order{
			Side:          "Sell",
			StopOrderType: label,
			TriggerPrice:  "100",
			ReduceOnly:    true,
		}
		assert.Equal(t, want, normalizeOrder(raw).StopOrderType, label)
	}
}

func TestClassifyStopOrder_GenericStopByDirection(t *testing.T) {
	// Closing sell triggered on a rise takes profit on a long
	raw := &bybit.Order{
		Side:             "Sell",
		OrderType:        "Market",
		StopOrderType:    "Stop",
		TriggerPrice:     "110.2",
		TriggerDirection: bybit.TriggerDirectionRise,
		ReduceOnly:       true,
	}
	assert.Equal(t, exchange.StopOrderTypeTakeProfit, normalizeOrder(raw).StopOrderType)

	// Closing sell triggered on a fall stops a long out
	raw.TriggerDirection = bybit.TriggerDirectionFall
	assert.Equal(t, exchange.StopOrderTypeStopLoss, normalizeOrder(raw).StopOrderType)

	// Mirrored for a closing buy on a short
	raw.Side = "Buy"
	assert.Equal(t, exchange.StopOrderTypeTakeProfit, normalizeOrder(raw).StopOrderType)

	raw.TriggerDirection = bybit.TriggerDirectionRise
	assert.Equal(t, exchange.StopOrderTypeStopLoss, normalizeOrder(raw).StopOrderType)
}

func TestClassifyStopOrder_PlainOrderNotProtective(t *testing.T) {
	raw := &bybit.Order{
		Side:      "Buy",
		OrderType: "Limit",
		Price:     "100",
	}
	order := normalizeOrder(raw)
	assert.Equal(t, exchange.StopOrderTypeNone, order.StopOrderType)
	assert.False(t, order.IsProtective())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.001", formatAmount(0.001))
	assert.Equal(t, "19.607", formatAmount(19.607))
	assert.Equal(t, "100", formatAmount(100))
}

func TestBybitSide(t *testing.T) {
	assert.Equal(t, "Buy", bybitSide(exchange.OrderSideBuy))
	assert.Equal(t, "Sell", bybitSide(exchange.OrderSideSell))
}
