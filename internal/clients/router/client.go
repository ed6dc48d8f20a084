// Package router provides the automation callback client.
//
// Automation destinations name another service (a staking router, for
// example) that acts on the owner's behalf after each execution. The engine
// only cares whether the callback succeeded; on failure the queued funds are
// refunded to the vault owner.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// Client dispatches automation callbacks.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new automation router client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "router").Logger(),
	}
}

// Invoke posts the callback payload for the destination, declaring the funds
// the action may draw on.
func (c *Client) Invoke(address string, callback []byte, funds []domain.Coin) error {
	body, err := json.Marshal(struct {
		Address  string          `json:"address"`
		Callback json.RawMessage `json:"callback"`
		Funds    []domain.Coin   `json:"funds"`
	}{Address: address, Callback: callback, Funds: funds})
	if err != nil {
		return fmt.Errorf("failed to encode callback: %w", err)
	}

	resp, err := c.client.Post(c.baseURL+"/callbacks", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode)
	}

	c.log.Debug().Str("address", address).Msg("Automation callback dispatched")
	return nil
}
