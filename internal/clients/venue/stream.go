package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute

	// Ticks older than this are ignored by readers; the REST book query is
	// the fallback.
	tickStaleThreshold = time.Minute
)

// tick is one streamed mid-price update.
type tick struct {
	Pair  string `json:"pair"`
	Price string `json:"price"`
}

// TickerStream consumes the venue's mid-price stream and caches the latest
// tick per pair. It reconnects with exponential backoff and is safe for
// concurrent readers.
type TickerStream struct {
	url string
	log zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	cache map[string]cachedTick
}

type cachedTick struct {
	price math.LegacyDec
	at    time.Time
}

// NewTickerStream creates a ticker stream client. Start must be called
// before prices are served.
func NewTickerStream(url string, log zerolog.Logger) *TickerStream {
	return &TickerStream{
		url:   url,
		log:   log.With().Str("client", "venue_ticker").Logger(),
		cache: make(map[string]cachedTick),
	}
}

// Start launches the read loop.
func (s *TickerStream) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop terminates the read loop and waits for it to exit.
func (s *TickerStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// LatestPrice returns the most recent streamed mid-price for the pair, if it
// is fresh enough to act on.
func (s *TickerStream) LatestPrice(pairAddress string) (math.LegacyDec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, ok := s.cache[pairAddress]
	if !ok || time.Since(cached.at) > tickStaleThreshold {
		return math.LegacyDec{}, false
	}
	return cached.price, true
}

func (s *TickerStream) run(ctx context.Context) {
	defer s.wg.Done()

	delay := baseReconnectDelay
	for {
		if err := s.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("Ticker stream disconnected")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *TickerStream) readLoop(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial ticker stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	s.log.Info().Str("url", s.url).Msg("Ticker stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("ticker read failed: %w", err)
		}

		var t tick
		if err := json.Unmarshal(data, &t); err != nil {
			s.log.Warn().Err(err).Msg("Discarding malformed tick")
			continue
		}

		price, err := math.LegacyNewDecFromStr(t.Price)
		if err != nil || !price.IsPositive() {
			s.log.Warn().Str("price", t.Price).Msg("Discarding non-positive tick")
			continue
		}

		s.mu.Lock()
		s.cache[t.Pair] = cachedTick{price: price, at: time.Now()}
		s.mu.Unlock()
	}
}
