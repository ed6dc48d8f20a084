package execution

import (
	"database/sql"
	"errors"
	"fmt"

	"cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/calculated-finance/calc-go/internal/database"
	"github.com/calculated-finance/calc-go/internal/domain"
)

// ErrMissingSwapCache is the protocol violation of a swap reply arriving
// with no cached request state. The reply must abort without touching the
// vault.
var ErrMissingSwapCache = errors.New("protocol violation: swap reply without a swap cache")

// ErrSwapInFlight is returned when a request phase finds the single swap
// slot already occupied.
var ErrSwapInFlight = errors.New("another swap is already in flight")

// SwapCache links a dispatched swap to the vault it serves, holding the
// engine balances captured before the swap so the reply can reconcile the
// deltas.
type SwapCache struct {
	VaultID             uint64
	SwapDenomBalance    domain.Coin
	ReceiveDenomBalance domain.Coin
}

// coinPayload is the msgpack shape of a coin.
type coinPayload struct {
	Denom  string `msgpack:"denom"`
	Amount string `msgpack:"amount"`
}

func encodeCoin(c domain.Coin) coinPayload {
	return coinPayload{Denom: c.Denom, Amount: c.Amount.String()}
}

func decodeCoin(p coinPayload) (domain.Coin, error) {
	amount, ok := math.NewIntFromString(p.Amount)
	if !ok {
		return domain.Coin{}, fmt.Errorf("corrupt coin amount %q", p.Amount)
	}
	return domain.Coin{Denom: p.Denom, Amount: amount}, nil
}

// swapCachePayload is the msgpack blob stored next to the vault id.
type swapCachePayload struct {
	SwapDenomBalance    coinPayload `msgpack:"swap_denom_balance"`
	ReceiveDenomBalance coinPayload `msgpack:"receive_denom_balance"`
}

// SwapCacheRepository persists the single-slot swap cache.
type SwapCacheRepository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewSwapCacheRepository creates a new swap cache repository.
func NewSwapCacheRepository(db database.Querier, log zerolog.Logger) *SwapCacheRepository {
	return &SwapCacheRepository{
		db:  db,
		log: log.With().Str("repo", "swap_cache").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *SwapCacheRepository) WithTx(tx database.Querier) *SwapCacheRepository {
	return &SwapCacheRepository{db: tx, log: r.log}
}

// Save occupies the swap slot. A second save before the slot is cleared
// fails with ErrSwapInFlight.
func (r *SwapCacheRepository) Save(cache SwapCache) error {
	payload, err := msgpack.Marshal(swapCachePayload{
		SwapDenomBalance:    encodeCoin(cache.SwapDenomBalance),
		ReceiveDenomBalance: encodeCoin(cache.ReceiveDenomBalance),
	})
	if err != nil {
		return fmt.Errorf("failed to encode swap cache: %w", err)
	}

	var occupied int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM swap_cache`).Scan(&occupied); err != nil {
		return fmt.Errorf("failed to check swap cache: %w", err)
	}
	if occupied > 0 {
		return ErrSwapInFlight
	}

	_, err = r.db.Exec(`INSERT INTO swap_cache (id, vault_id, payload) VALUES (1, ?, ?)`, cache.VaultID, payload)
	if err != nil {
		return fmt.Errorf("failed to save swap cache: %w", err)
	}
	return nil
}

// Load returns the cached request state, or ErrMissingSwapCache.
func (r *SwapCacheRepository) Load() (SwapCache, error) {
	var (
		cache SwapCache
		raw   []byte
	)
	err := r.db.QueryRow(`SELECT vault_id, payload FROM swap_cache WHERE id = 1`).Scan(&cache.VaultID, &raw)
	if err == sql.ErrNoRows {
		return SwapCache{}, ErrMissingSwapCache
	}
	if err != nil {
		return SwapCache{}, fmt.Errorf("failed to load swap cache: %w", err)
	}

	var payload swapCachePayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return SwapCache{}, fmt.Errorf("corrupt swap cache: %w", err)
	}

	if cache.SwapDenomBalance, err = decodeCoin(payload.SwapDenomBalance); err != nil {
		return SwapCache{}, err
	}
	if cache.ReceiveDenomBalance, err = decodeCoin(payload.ReceiveDenomBalance); err != nil {
		return SwapCache{}, err
	}
	return cache, nil
}

// Clear frees the swap slot.
func (r *SwapCacheRepository) Clear() error {
	if _, err := r.db.Exec(`DELETE FROM swap_cache WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear swap cache: %w", err)
	}
	return nil
}

// AutomationEntry is one pending automation callback with the funds it was
// dispatched with. Entries are attributed to replies positionally, so the
// queue is strictly FIFO per vault.
type AutomationEntry struct {
	VaultID  uint64
	Address  string
	Callback []byte
	Funds    []domain.Coin
}

// automationPayload is the msgpack blob of one queue entry.
type automationPayload struct {
	Address  string        `msgpack:"address"`
	Callback []byte        `msgpack:"callback"`
	Funds    []coinPayload `msgpack:"funds"`
}

// AutomationQueueRepository persists the per-vault FIFO of pending
// automation callbacks.
type AutomationQueueRepository struct {
	db  database.Querier
	log zerolog.Logger
}

// NewAutomationQueueRepository creates a new automation queue repository.
func NewAutomationQueueRepository(db database.Querier, log zerolog.Logger) *AutomationQueueRepository {
	return &AutomationQueueRepository{
		db:  db,
		log: log.With().Str("repo", "automation_queue").Logger(),
	}
}

// WithTx returns a copy of the repository bound to tx.
func (r *AutomationQueueRepository) WithTx(tx database.Querier) *AutomationQueueRepository {
	return &AutomationQueueRepository{db: tx, log: r.log}
}

// Push appends an entry to the vault's queue.
func (r *AutomationQueueRepository) Push(entry AutomationEntry) error {
	funds := make([]coinPayload, 0, len(entry.Funds))
	for _, coin := range entry.Funds {
		funds = append(funds, encodeCoin(coin))
	}

	payload, err := msgpack.Marshal(automationPayload{
		Address:  entry.Address,
		Callback: entry.Callback,
		Funds:    funds,
	})
	if err != nil {
		return fmt.Errorf("failed to encode automation entry: %w", err)
	}

	_, err = r.db.Exec(`INSERT INTO automation_queue (vault_id, payload) VALUES (?, ?)`, entry.VaultID, payload)
	if err != nil {
		return fmt.Errorf("failed to push automation entry: %w", err)
	}
	return nil
}

// Pop removes and returns the vault's oldest entry.
func (r *AutomationQueueRepository) Pop(vaultID uint64) (AutomationEntry, error) {
	var (
		id  uint64
		raw []byte
	)
	err := r.db.QueryRow(
		`SELECT id, payload FROM automation_queue WHERE vault_id = ? ORDER BY id LIMIT 1`,
		vaultID,
	).Scan(&id, &raw)
	if err == sql.ErrNoRows {
		return AutomationEntry{}, fmt.Errorf("protocol violation: automation reply for vault %d with an empty queue", vaultID)
	}
	if err != nil {
		return AutomationEntry{}, fmt.Errorf("failed to pop automation entry: %w", err)
	}

	if _, err := r.db.Exec(`DELETE FROM automation_queue WHERE id = ?`, id); err != nil {
		return AutomationEntry{}, fmt.Errorf("failed to remove automation entry: %w", err)
	}

	var payload automationPayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return AutomationEntry{}, fmt.Errorf("corrupt automation entry: %w", err)
	}

	entry := AutomationEntry{
		VaultID:  vaultID,
		Address:  payload.Address,
		Callback: payload.Callback,
	}
	for _, coin := range payload.Funds {
		decoded, err := decodeCoin(coin)
		if err != nil {
			return AutomationEntry{}, err
		}
		entry.Funds = append(entry.Funds, decoded)
	}
	return entry, nil
}

// Len returns the number of pending entries for a vault.
func (r *AutomationQueueRepository) Len(vaultID uint64) (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM automation_queue WHERE vault_id = ?`, vaultID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count automation entries: %w", err)
	}
	return count, nil
}
