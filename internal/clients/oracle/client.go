// Package oracle provides the swap-adjustment oracle client.
package oracle

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// Client reads risk-weighted-average multipliers from the adjustment oracle.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new oracle client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log.With().Str("client", "oracle").Logger(),
	}
}

// Multiplier returns the oracle's current slice multiplier for the given
// model. The caller falls back to 1 when the oracle cannot be reached.
func (c *Client) Multiplier(position domain.PositionType, modelID uint8, at time.Time) (math.LegacyDec, error) {
	endpoint := fmt.Sprintf(
		"%s/adjustments/%s/%d?time=%d",
		c.baseURL, position, modelID, at.Unix(),
	)

	resp, err := c.client.Get(endpoint)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("adjustment query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return math.LegacyDec{}, fmt.Errorf("adjustment query returned status %d", resp.StatusCode)
	}

	var response struct {
		Multiplier string `json:"multiplier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return math.LegacyDec{}, fmt.Errorf("failed to decode oracle response: %w", err)
	}

	multiplier, err := math.LegacyNewDecFromStr(response.Multiplier)
	if err != nil {
		return math.LegacyDec{}, fmt.Errorf("corrupt multiplier %q: %w", response.Multiplier, err)
	}
	return multiplier, nil
}
