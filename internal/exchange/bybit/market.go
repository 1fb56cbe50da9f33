package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// KlineInterval represents the time interval for kline data
type KlineInterval string

const (
	Interval1m  KlineInterval = "1"
	Interval3m  KlineInterval = "3"
	Interval5m  KlineInterval = "5"
	Interval15m KlineInterval = "15"
	Interval30m KlineInterval = "30"
	Interval1h  KlineInterval = "60"
	Interval2h  KlineInterval = "120"
	Interval4h  KlineInterval = "240"
	Interval1d  KlineInterval = "D"
)

// IntervalFromTimeframe maps human timeframe notation (30m, 1h, 4h, 1d)
// to the Bybit interval code.
func IntervalFromTimeframe(timeframe string) (KlineInterval, error) {
	switch timeframe {
	case "1m":
		return Interval1m, nil
	case "3m":
		return Interval3m, nil
	case "5m":
		return Interval5m, nil
	case "15m":
		return Interval15m, nil
	case "30m":
		return Interval30m, nil
	case "1h":
		return Interval1h, nil
	case "2h":
		return Interval2h, nil
	case "4h":
		return Interval4h, nil
	case "1d":
		return Interval1d, nil
	}
	return "", fmt.Errorf("unsupported timeframe: %s", timeframe)
}

// KlineParams holds parameters for fetching kline data
type KlineParams struct {
	Category string
	Symbol   string
	Interval KlineInterval
	Start    *time.Time
	End      *time.Time
	Limit    int
}

// GetKlines fetches candlestick data. Bybit returns newest first; the
// result here is reordered oldest first.
func (c *Client) GetKlines(ctx context.Context, params KlineParams) ([]Kline, error) {
	if params.Category == "" {
		params.Category = "linear"
	}
	if params.Limit == 0 {
		params.Limit = 200
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}

	reqParams := map[string]interface{}{
		"category": params.Category,
		"symbol":   params.Symbol,
		"interval": string(params.Interval),
		"limit":    params.Limit,
	}
	if params.Start != nil {
		reqParams["start"] = params.Start.UnixMilli()
	}
	if params.End != nil {
		reqParams["end"] = params.End.UnixMilli()
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(reqParams).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	klines, err := c.parseKlineResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kline response: %w", err)
	}

	return klines, nil
}

// GetLatestPrice gets the latest traded price for a symbol
func (c *Client) GetLatestPrice(ctx context.Context, category, symbol string) (float64, error) {
	if category == "" {
		category = "linear"
	}

	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest price: %w", err)
	}

	price, err := c.parseLatestPriceResponse(result)
	if err != nil {
		return 0, fmt.Errorf("failed to parse price response: %w", err)
	}

	return price, nil
}

// parseKlineResponse parses the API response into Kline structs
func (c *Client) parseKlineResponse(response interface{}) ([]Kline, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return nil, fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return nil, ParseAPIError(serverResp.RetCode, serverResp.RetMsg)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	var klineResult struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}

	if err := json.Unmarshal(resultBytes, &klineResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kline result: %w", err)
	}

	// Bybit kline rows: [startTime, open, high, low, close, volume, turnover],
	// newest row first.
	klines := make([]Kline, 0, len(klineResult.List))
	for i := len(klineResult.List) - 1; i >= 0; i-- {
		item := klineResult.List[i]
		if len(item) < 7 {
			continue
		}

		kline := Kline{
			StartTime:  time.UnixMilli(parseInt64(item[0])),
			OpenPrice:  parseFloat64(item[1]),
			HighPrice:  parseFloat64(item[2]),
			LowPrice:   parseFloat64(item[3]),
			ClosePrice: parseFloat64(item[4]),
			Volume:     parseFloat64(item[5]),
			Turnover:   parseFloat64(item[6]),
		}
		klines = append(klines, kline)
	}

	return klines, nil
}

// parseLatestPriceResponse parses the ticker response to extract the latest price
func (c *Client) parseLatestPriceResponse(response interface{}) (float64, error) {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return 0, fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return 0, ParseAPIError(serverResp.RetCode, serverResp.RetMsg)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal result: %w", err)
	}

	var tickerResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}

	if err := json.Unmarshal(resultBytes, &tickerResult); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ticker result: %w", err)
	}

	if len(tickerResult.List) == 0 {
		return 0, fmt.Errorf("no ticker data found")
	}

	return parseFloat64(tickerResult.List[0].LastPrice), nil
}
