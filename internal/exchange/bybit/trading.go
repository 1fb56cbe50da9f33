package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// TriggerDirection tells the exchange which way price must move to trigger
// a conditional order. 1 = triggered when price rises to the trigger price,
// 2 = triggered when price falls to it.
const (
	TriggerDirectionRise = 1
	TriggerDirectionFall = 2
)

// LimitOrderParams holds parameters for placing a futures limit order
type LimitOrderParams struct {
	Category    string
	Symbol      string
	Side        string // Buy or Sell
	Qty         string
	Price       string
	OrderLinkID string
}

// ConditionalOrderParams holds parameters for a reduce-only conditional
// market order used as a take profit or stop loss.
type ConditionalOrderParams struct {
	Category         string
	Symbol           string
	Side             string // closing side
	Qty              string
	TriggerPrice     string
	TriggerDirection int
	OrderLinkID      string
}

// PlaceLimitOrder places a GTC limit order on futures
func (c *Client) PlaceLimitOrder(ctx context.Context, params LimitOrderParams) (*Order, error) {
	if params.Category == "" {
		params.Category = "linear"
	}
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.Qty == "" {
		return nil, fmt.Errorf("qty is required")
	}
	if params.Price == "" {
		return nil, fmt.Errorf("price is required for limit orders")
	}

	apiParams := map[string]interface{}{
		"category":    params.Category,
		"symbol":      params.Symbol,
		"side":        params.Side,
		"orderType":   "Limit",
		"qty":         params.Qty,
		"price":       params.Price,
		"timeInForce": "GTC",
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place limit order: %w", err)
	}

	order, err := c.parseOrderResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}

	return order, nil
}

// MarketOrderParams holds parameters for an immediate market order.
// ReduceOnly restricts the order to closing an existing position.
type MarketOrderParams struct {
	Category    string
	Symbol      string
	Side        string // Buy or Sell
	Qty         string
	ReduceOnly  bool
	OrderLinkID string
}

// PlaceMarketOrder places a market order that executes immediately
func (c *Client) PlaceMarketOrder(ctx context.Context, params MarketOrderParams) (*Order, error) {
	if params.Category == "" {
		params.Category = "linear"
	}
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.Qty == "" {
		return nil, fmt.Errorf("qty is required")
	}

	apiParams := map[string]interface{}{
		"category":  params.Category,
		"symbol":    params.Symbol,
		"side":      params.Side,
		"orderType": "Market",
		"qty":       params.Qty,
	}
	if params.ReduceOnly {
		apiParams["reduceOnly"] = true
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place market order: %w", err)
	}

	order, err := c.parseOrderResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse market order response: %w", err)
	}

	return order, nil
}

// PlaceConditionalOrder places a reduce-only conditional market order.
// The order sits untriggered on the exchange until price crosses the
// trigger, then executes at market against the open position.
func (c *Client) PlaceConditionalOrder(ctx context.Context, params ConditionalOrderParams) (*Order, error) {
	if params.Category == "" {
		params.Category = "linear"
	}
	if params.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if params.Side == "" {
		return nil, fmt.Errorf("side is required")
	}
	if params.Qty == "" {
		return nil, fmt.Errorf("qty is required")
	}
	if params.TriggerPrice == "" {
		return nil, fmt.Errorf("triggerPrice is required")
	}
	if params.TriggerDirection != TriggerDirectionRise && params.TriggerDirection != TriggerDirectionFall {
		return nil, fmt.Errorf("invalid trigger direction %d", params.TriggerDirection)
	}

	apiParams := map[string]interface{}{
		"category":         params.Category,
		"symbol":           params.Symbol,
		"side":             params.Side,
		"orderType":        "Market",
		"qty":              params.Qty,
		"triggerPrice":     params.TriggerPrice,
		"triggerDirection": params.TriggerDirection,
		"triggerBy":        "LastPrice",
		"reduceOnly":       true,
	}
	if params.OrderLinkID != "" {
		apiParams["orderLinkId"] = params.OrderLinkID
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place conditional order: %w", err)
	}

	order, err := c.parseOrderResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse conditional order response: %w", err)
	}

	return order, nil
}

// CancelOrder cancels an existing order
func (c *Client) CancelOrder(ctx context.Context, category, symbol, orderID string) error {
	if category == "" {
		category = "linear"
	}

	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	_, err := c.httpClient.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	return nil
}

// GetOpenOrders retrieves open orders for a symbol. For linear futures the
// realtime query returns regular limit orders and untriggered conditional
// orders together.
func (c *Client) GetOpenOrders(ctx context.Context, category, symbol string) ([]Order, error) {
	if category == "" {
		category = "linear"
	}

	params := map[string]interface{}{
		"category": category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}

	orders, err := c.parseOrdersResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse orders response: %w", err)
	}

	return orders, nil
}

// GetOrder retrieves a single order by ID, falling back to order history
// for orders that already left the realtime set.
func (c *Client) GetOrder(ctx context.Context, category, symbol, orderID string) (*Order, error) {
	if category == "" {
		category = "linear"
	}

	params := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetOpenOrders(ctx)
	if err == nil {
		if orders, perr := c.parseOrdersResponse(result); perr == nil {
			for i := range orders {
				if orders[i].OrderID == orderID {
					return &orders[i], nil
				}
			}
		}
	}

	result, err = c.httpClient.NewUtaBybitServiceWithParams(params).GetOrderHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	orders, err := c.parseOrdersResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse order history response: %w", err)
	}

	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i], nil
		}
	}

	return nil, fmt.Errorf("order with ID %s not found", orderID)
}

// GetPositions retrieves futures positions
func (c *Client) GetPositions(ctx context.Context, category, symbol string) ([]PositionInfo, error) {
	if category == "" {
		category = "linear"
	}

	params := map[string]interface{}{
		"category": category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		params["settleCoin"] = "USDT"
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	positions, err := c.parsePositionsResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse positions response: %w", err)
	}

	return positions, nil
}

// parseOrderResponse parses the order placement API response
func (c *Client) parseOrderResponse(response interface{}) (*Order, error) {
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

	var orderResult struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderType   string `json:"orderType"`
		Qty         string `json:"qty"`
		Price       string `json:"price"`
		OrderStatus string `json:"orderStatus"`
		CreatedTime string `json:"createdTime"`
		UpdatedTime string `json:"updatedTime"`
	}

	if err := json.Unmarshal(resultBytes, &orderResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order result: %w", err)
	}

	order := &Order{
		OrderID:     orderResult.OrderID,
		OrderLinkID: orderResult.OrderLinkID,
		Symbol:      orderResult.Symbol,
		Side:        orderResult.Side,
		OrderType:   orderResult.OrderType,
		Qty:         orderResult.Qty,
		Price:       orderResult.Price,
		OrderStatus: orderResult.OrderStatus,
		CreatedTime: parseTimestamp(orderResult.CreatedTime),
		UpdatedTime: parseTimestamp(orderResult.UpdatedTime),
	}

	return order, nil
}

// parseOrdersResponse parses the orders list API response
func (c *Client) parseOrdersResponse(response interface{}) ([]Order, error) {
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

	var orderListResult struct {
		List []struct {
			OrderID          string `json:"orderId"`
			OrderLinkID      string `json:"orderLinkId"`
			Symbol           string `json:"symbol"`
			Price            string `json:"price"`
			Qty              string `json:"qty"`
			Side             string `json:"side"`
			OrderStatus      string `json:"orderStatus"`
			AvgPrice         string `json:"avgPrice"`
			CumExecQty       string `json:"cumExecQty"`
			CumExecValue     string `json:"cumExecValue"`
			TimeInForce      string `json:"timeInForce"`
			OrderType        string `json:"orderType"`
			StopOrderType    string `json:"stopOrderType"`
			TriggerPrice     string `json:"triggerPrice"`
			TriggerDirection int    `json:"triggerDirection"`
			ReduceOnly       bool   `json:"reduceOnly"`
			CreatedTime      string `json:"createdTime"`
			UpdatedTime      string `json:"updatedTime"`
		} `json:"list"`
		NextPageCursor string `json:"nextPageCursor"`
		Category       string `json:"category"`
	}

	if err := json.Unmarshal(resultBytes, &orderListResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order list result: %w", err)
	}

	var orders []Order
	for _, orderData := range orderListResult.List {
		order := Order{
			OrderID:          orderData.OrderID,
			OrderLinkID:      orderData.OrderLinkID,
			Symbol:           orderData.Symbol,
			Side:             orderData.Side,
			OrderType:        orderData.OrderType,
			Qty:              orderData.Qty,
			Price:            orderData.Price,
			TimeInForce:      orderData.TimeInForce,
			OrderStatus:      orderData.OrderStatus,
			CumExecQty:       orderData.CumExecQty,
			CumExecValue:     orderData.CumExecValue,
			AvgPrice:         orderData.AvgPrice,
			StopOrderType:    orderData.StopOrderType,
			TriggerPrice:     orderData.TriggerPrice,
			TriggerDirection: orderData.TriggerDirection,
			ReduceOnly:       orderData.ReduceOnly,
			CreatedTime:      parseTimestamp(orderData.CreatedTime),
			UpdatedTime:      parseTimestamp(orderData.UpdatedTime),
		}
		orders = append(orders, order)
	}

	return orders, nil
}

// parsePositionsResponse parses the positions API response
func (c *Client) parsePositionsResponse(response interface{}) ([]PositionInfo, error) {
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

	var positionResult struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			PositionValue string `json:"positionValue"`
			EntryPrice    string `json:"entryPrice"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			LiqPrice      string `json:"liqPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			PositionIdx   int    `json:"positionIdx"`
			CreatedTime   string `json:"createdTime"`
			UpdatedTime   string `json:"updatedTime"`
		} `json:"list"`
		NextPageCursor string `json:"nextPageCursor"`
		Category       string `json:"category"`
	}

	if err := json.Unmarshal(resultBytes, &positionResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position result: %w", err)
	}

	var positions []PositionInfo
	for _, posData := range positionResult.List {
		entry := posData.EntryPrice
		if entry == "" {
			entry = posData.AvgPrice
		}
		position := PositionInfo{
			Symbol:        posData.Symbol,
			Side:          posData.Side,
			Size:          posData.Size,
			PositionValue: posData.PositionValue,
			EntryPrice:    entry,
			MarkPrice:     posData.MarkPrice,
			LiqPrice:      posData.LiqPrice,
			UnrealisedPnl: posData.UnrealisedPnl,
			Leverage:      posData.Leverage,
			PositionIdx:   posData.PositionIdx,
			CreatedTime:   parseTimestamp(posData.CreatedTime),
			UpdatedTime:   parseTimestamp(posData.UpdatedTime),
		}
		positions = append(positions, position)
	}

	return positions, nil
}
