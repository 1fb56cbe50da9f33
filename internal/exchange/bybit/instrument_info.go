package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// InstrumentInfo holds trading constraints for a symbol
type InstrumentInfo struct {
	Symbol      string
	MinOrderQty float64
	MaxOrderQty float64
	QtyStep     float64
	TickSize    float64
	MinNotional float64
	FetchedAt   time.Time
}

// InstrumentManager caches instrument info to avoid repeated API calls.
// Entries are refreshed after the TTL expires.
type InstrumentManager struct {
	client *Client
	cache  map[string]*InstrumentInfo
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewInstrumentManager creates an instrument info cache with a 1 hour TTL
func NewInstrumentManager(client *Client) *InstrumentManager {
	return &InstrumentManager{
		client: client,
		cache:  make(map[string]*InstrumentInfo),
		ttl:    time.Hour,
	}
}

// GetInstrumentInfo returns cached instrument info, fetching when missing or stale
func (im *InstrumentManager) GetInstrumentInfo(ctx context.Context, category, symbol string) (*InstrumentInfo, error) {
	im.mu.RLock()
	info, ok := im.cache[symbol]
	im.mu.RUnlock()

	if ok && time.Since(info.FetchedAt) < im.ttl {
		return info, nil
	}

	info, err := im.fetchInstrumentInfo(ctx, category, symbol)
	if err != nil {
		// Serve a stale entry rather than failing the cycle
		if ok {
			return im.cache[symbol], nil
		}
		return nil, err
	}

	im.mu.Lock()
	im.cache[symbol] = info
	im.mu.Unlock()

	return info, nil
}

// fetchInstrumentInfo queries the exchange for symbol trading constraints
func (im *InstrumentManager) fetchInstrumentInfo(ctx context.Context, category, symbol string) (*InstrumentInfo, error) {
	if category == "" {
		category = "linear"
	}

	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}

	result, err := im.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument info: %w", err)
	}

	serverResp, ok := interface{}(result).(*bybit_api.ServerResponse)
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

	var infoResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				MinOrderQty      string `json:"minOrderQty"`
				MaxOrderQty      string `json:"maxOrderQty"`
				QtyStep          string `json:"qtyStep"`
				MinNotionalValue string `json:"minNotionalValue"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}

	if err := json.Unmarshal(resultBytes, &infoResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instrument info result: %w", err)
	}

	if len(infoResult.List) == 0 {
		return nil, fmt.Errorf("no instrument info found for %s", symbol)
	}

	item := infoResult.List[0]
	info := &InstrumentInfo{
		Symbol:      item.Symbol,
		MinOrderQty: parseFloat64(item.LotSizeFilter.MinOrderQty),
		MaxOrderQty: parseFloat64(item.LotSizeFilter.MaxOrderQty),
		QtyStep:     parseFloat64(item.LotSizeFilter.QtyStep),
		TickSize:    parseFloat64(item.PriceFilter.TickSize),
		MinNotional: parseFloat64(item.LotSizeFilter.MinNotionalValue),
		FetchedAt:   time.Now(),
	}

	return info, nil
}
