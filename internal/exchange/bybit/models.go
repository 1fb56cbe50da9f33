package bybit

import (
	"strconv"
	"time"
)

// Order represents a raw order as returned by the Bybit v5 API.
// String fields are kept as-is; normalization happens in the adapter layer.
type Order struct {
	OrderID          string `json:"orderId"`
	OrderLinkID      string `json:"orderLinkId"`
	Symbol           string `json:"symbol"`
	Side             string `json:"side"`
	OrderType        string `json:"orderType"`
	Qty              string `json:"qty"`
	Price            string `json:"price"`
	TimeInForce      string `json:"timeInForce"`
	OrderStatus      string `json:"orderStatus"`
	CumExecQty       string `json:"cumExecQty"`
	CumExecValue     string `json:"cumExecValue"`
	AvgPrice         string `json:"avgPrice"`
	StopOrderType    string `json:"stopOrderType"`
	TriggerPrice     string `json:"triggerPrice"`
	TriggerDirection int    `json:"triggerDirection"`
	ReduceOnly       bool   `json:"reduceOnly"`
	CreatedTime      time.Time
	UpdatedTime      time.Time
}

// PositionInfo represents a raw futures position from the Bybit v5 API
type PositionInfo struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	PositionValue string `json:"positionValue"`
	EntryPrice    string `json:"entryPrice"`
	MarkPrice     string `json:"markPrice"`
	LiqPrice      string `json:"liqPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
	PositionIdx   int    `json:"positionIdx"`
	CreatedTime   time.Time
	UpdatedTime   time.Time
}

// Kline represents a single candlestick data point
type Kline struct {
	StartTime  time.Time
	OpenPrice  float64
	HighPrice  float64
	LowPrice   float64
	ClosePrice float64
	Volume     float64
	Turnover   float64
}

// Balance represents a coin balance in the unified account
type Balance struct {
	Coin             string  `json:"coin"`
	WalletBalance    float64 `json:"walletBalance"`
	AvailableToTrade float64 `json:"availableToTrade"`
	Locked           float64 `json:"locked"`
}

// Helper functions for parsing string numbers
func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	i, _ := strconv.ParseInt(s, 10, 64)
	return i
}

// parseTimestamp converts a milliseconds timestamp to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(ts, 10, 64)
	return time.UnixMilli(msec)
}
