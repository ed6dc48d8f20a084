package venue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"cosmossdk.io/math"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// Balance returns the engine account's balance in one denomination.
func (c *Client) Balance(denom string) (math.Int, error) {
	var response struct {
		Amount math.Int `json:"amount"`
	}

	endpoint := fmt.Sprintf("%s/account/balances/%s", c.baseURL, url.PathEscape(denom))
	if err := c.getJSON(endpoint, &response); err != nil {
		return math.Int{}, fmt.Errorf("failed to query %s balance: %w", denom, err)
	}
	if response.Amount.IsNil() {
		return math.ZeroInt(), nil
	}
	return response.Amount, nil
}

// Send transfers coins from the engine account to another address.
func (c *Client) Send(to string, coins []domain.Coin) error {
	body, err := json.Marshal(struct {
		To    string        `json:"to"`
		Coins []domain.Coin `json:"coins"`
	}{To: to, Coins: coins})
	if err != nil {
		return fmt.Errorf("failed to encode transfer: %w", err)
	}

	resp, err := c.client.Post(c.baseURL+"/account/transfers", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transfer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transfer rejected with status %d", resp.StatusCode)
	}

	c.log.Debug().Str("to", to).Int("coins", len(coins)).Msg("Transfer sent")
	return nil
}
