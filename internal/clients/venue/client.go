// Package venue provides the order-book venue client.
//
// The venue holds the engine's settlement account: swaps settle into it and
// outgoing transfers are drawn from it, so the engine can reconcile an
// execution purely from its own balance deltas.
package venue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/calculated-finance/calc-go/internal/domain"
)

// SlippageErrorMarker is the substring the venue embeds in a swap rejection
// caused by the max-spread assertion. Failure classification keys off it.
const SlippageErrorMarker = "max spread assertion"

// IsSlippageError reports whether a swap failure was a slippage rejection.
func IsSlippageError(err error) bool {
	return err != nil && strings.Contains(err.Error(), SlippageErrorMarker)
}

// BookLevel is one aggregated price level of an order book side.
type BookLevel struct {
	QuotePrice       math.LegacyDec `json:"quote_price"`
	TotalOfferAmount math.Int       `json:"total_offer_amount"`
}

// Book is the two-sided order book, best levels first.
type Book struct {
	Base  []BookLevel `json:"base"`
	Quote []BookLevel `json:"quote"`
}

// SwapRequest is one market swap against a pair.
type SwapRequest struct {
	ID          string          `json:"id"`
	PairAddress string          `json:"-"`
	Swap        domain.Coin     `json:"swap"`
	BeliefPrice *math.LegacyDec `json:"belief_price,omitempty"`
	MaxSpread   *math.LegacyDec `json:"max_spread,omitempty"`
}

// Client talks to the venue REST API.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new venue client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "venue").Logger(),
	}
}

// Book returns the pair's order book, limited to the given depth per side.
func (c *Client) Book(pairAddress string, limit int) (Book, error) {
	var book Book
	endpoint := fmt.Sprintf("%s/pairs/%s/book?limit=%d", c.baseURL, url.PathEscape(pairAddress), limit)
	if err := c.getJSON(endpoint, &book); err != nil {
		return Book{}, fmt.Errorf("failed to query book for %s: %w", pairAddress, err)
	}
	return book, nil
}

// MidPrice is the mean of the best bid and best ask.
func (c *Client) MidPrice(pairAddress string) (math.LegacyDec, error) {
	book, err := c.Book(pairAddress, 1)
	if err != nil {
		return math.LegacyDec{}, err
	}
	if len(book.Base) == 0 || len(book.Quote) == 0 {
		return math.LegacyDec{}, fmt.Errorf("pair %s has an empty book side", pairAddress)
	}

	return book.Base[0].QuotePrice.Add(book.Quote[0].QuotePrice).QuoInt64(2), nil
}

// SwapPrice is the expected execution price for swapping the given coin,
// from the venue's swap simulation.
func (c *Client) SwapPrice(pairAddress string, swap domain.Coin) (math.LegacyDec, error) {
	var response struct {
		ReceiveAmount math.Int `json:"receive_amount"`
	}

	endpoint := fmt.Sprintf(
		"%s/pairs/%s/simulate?denom=%s&amount=%s",
		c.baseURL, url.PathEscape(pairAddress), url.QueryEscape(swap.Denom), swap.Amount,
	)
	if err := c.getJSON(endpoint, &response); err != nil {
		return math.LegacyDec{}, fmt.Errorf("failed to simulate swap on %s: %w", pairAddress, err)
	}
	if response.ReceiveAmount.IsNil() || response.ReceiveAmount.IsZero() {
		return math.LegacyDec{}, fmt.Errorf("pair %s cannot fill %s", pairAddress, swap)
	}

	return math.LegacyNewDecFromInt(swap.Amount).Quo(math.LegacyNewDecFromInt(response.ReceiveAmount)), nil
}

// Swap executes a market swap. The returned error carries the venue's error
// string verbatim, including the slippage marker on max-spread rejections.
// Proceeds settle into the engine's account before Swap returns.
func (c *Client) Swap(request SwapRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to encode swap request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/pairs/%s/swap", c.baseURL, url.PathEscape(request.PairAddress))
	resp, err := c.client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("swap request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var venueErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&venueErr); err != nil || venueErr.Error == "" {
			return fmt.Errorf("swap rejected with status %d", resp.StatusCode)
		}
		return fmt.Errorf("swap rejected: %s", venueErr.Error)
	}

	c.log.Debug().
		Str("id", request.ID).
		Str("pair", request.PairAddress).
		Str("swap", request.Swap.String()).
		Msg("Swap executed")

	return nil
}

// ExecuteSwap runs a market swap with a fresh idempotency key.
func (c *Client) ExecuteSwap(pairAddress string, swap domain.Coin, beliefPrice, maxSpread *math.LegacyDec) error {
	return c.Swap(SwapRequest{
		ID:          uuid.NewString(),
		PairAddress: pairAddress,
		Swap:        swap,
		BeliefPrice: beliefPrice,
		MaxSpread:   maxSpread,
	})
}

// RetractOrder withdraws a live limit order.
func (c *Client) RetractOrder(pairAddress, orderHandle string) error {
	endpoint := fmt.Sprintf(
		"%s/pairs/%s/orders/%s",
		c.baseURL, url.PathEscape(pairAddress), url.PathEscape(orderHandle),
	)

	req, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build retract request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("retract request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("retract rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(endpoint string, out any) error {
	resp, err := c.client.Get(endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
