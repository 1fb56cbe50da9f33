package bybit

import (
	"context"
	"encoding/json"
	"fmt"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// AccountType represents different account types in Bybit
type AccountType string

const (
	AccountTypeUnified  AccountType = "UNIFIED"
	AccountTypeContract AccountType = "CONTRACT"
)

// GetCoinBalance retrieves the wallet balance for a specific coin
func (c *Client) GetCoinBalance(ctx context.Context, accountType AccountType, coin string) (*Balance, error) {
	params := map[string]interface{}{
		"accountType": string(accountType),
		"coin":        coin,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	balances, err := c.parseWalletResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account balance response: %w", err)
	}

	for i := range balances {
		if balances[i].Coin == coin {
			return &balances[i], nil
		}
	}

	return nil, fmt.Errorf("coin %s not found in account", coin)
}

// parseWalletResponse parses the wallet balance API response
func (c *Client) parseWalletResponse(response interface{}) ([]Balance, error) {
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

	var walletResult struct {
		List []struct {
			AccountType string `json:"accountType"`
			Coin        []struct {
				Coin             string `json:"coin"`
				WalletBalance    string `json:"walletBalance"`
				AvailableToTrade string `json:"availableToTrade"`
				TotalOrderIM     string `json:"totalOrderIM"`
				TotalPositionIM  string `json:"totalPositionIM"`
			} `json:"coin"`
		} `json:"list"`
	}

	if err := json.Unmarshal(resultBytes, &walletResult); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wallet result: %w", err)
	}

	if len(walletResult.List) == 0 {
		return nil, fmt.Errorf("no account data found")
	}

	account := walletResult.List[0]
	balances := make([]Balance, len(account.Coin))
	for i, coin := range account.Coin {
		balances[i] = Balance{
			Coin:             coin.Coin,
			WalletBalance:    parseFloat64(coin.WalletBalance),
			AvailableToTrade: parseFloat64(coin.AvailableToTrade),
			Locked:           parseFloat64(coin.TotalOrderIM) + parseFloat64(coin.TotalPositionIM),
		}
	}

	return balances, nil
}
