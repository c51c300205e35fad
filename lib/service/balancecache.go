package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/evpower/balancehub/db/models"
	"github.com/evpower/balancehub/store"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/ziflex/lecho/v3"
)

// BalanceView is what clients see. Stale is set when the authoritative store
// could not be read and the last known value is returned instead.
type BalanceView struct {
	ClientID    string          `json:"client_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	LastUpdated time.Time       `json:"last_updated"`
	Stale       bool            `json:"stale"`
}

type BalanceCacheBackend interface {
	Get(ctx context.Context, clientID string) (*BalanceView, bool, error)
	Set(ctx context.Context, clientID string, balance *BalanceView, ttl time.Duration) error
	Delete(ctx context.Context, clientID string) error
}

// BalanceCache is a read-through TTL view over the balance store.
type BalanceCache struct {
	store    store.Store
	backend  BalanceCacheBackend
	ttl      time.Duration
	currency string
	logger   *lecho.Logger

	mu sync.Mutex
	// bumped on every invalidation so a read that raced it is not cached
	generation map[string]uint64
	lastKnown  map[string]BalanceView
}

func NewBalanceCache(s store.Store, backend BalanceCacheBackend, ttl time.Duration, currency string, logger *lecho.Logger) *BalanceCache {
	return &BalanceCache{
		store:      s,
		backend:    backend,
		ttl:        ttl,
		currency:   currency,
		logger:     logger,
		generation: map[string]uint64{},
		lastKnown:  map[string]BalanceView{},
	}
}

func (c *BalanceCache) Get(ctx context.Context, clientID string) (*BalanceView, error) {
	cached, ok, err := c.backend.Get(ctx, clientID)
	if err != nil {
		c.logger.Warnf("Balance cache read failed client_id:%s: %v", clientID, err)
	}
	if ok {
		return cached, nil
	}

	c.mu.Lock()
	generation := c.generation[clientID]
	c.mu.Unlock()

	balance, err := c.store.ReadBalance(ctx, clientID)
	if err != nil {
		c.mu.Lock()
		last, known := c.lastKnown[clientID]
		c.mu.Unlock()
		if known {
			c.logger.Warnf("Serving stale balance client_id:%s: %v", clientID, err)
			last.Stale = true
			return &last, nil
		}
		return nil, &StorageError{Op: "read balance", Err: err}
	}
	view := c.view(balance)

	c.mu.Lock()
	current := c.generation[clientID] == generation
	if current {
		c.lastKnown[clientID] = *view
	}
	c.mu.Unlock()
	if current {
		if err := c.backend.Set(ctx, clientID, view, c.ttl); err != nil {
			c.logger.Warnf("Balance cache write failed client_id:%s: %v", clientID, err)
		}
	}
	return view, nil
}

// Invalidate drops the cached balance so the next read goes to the store.
func (c *BalanceCache) Invalidate(ctx context.Context, clientID string) {
	c.mu.Lock()
	c.generation[clientID]++
	c.mu.Unlock()
	if err := c.backend.Delete(ctx, clientID); err != nil {
		c.logger.Errorf("Balance cache invalidation failed client_id:%s: %v", clientID, err)
	}
}

func (c *BalanceCache) view(balance *models.Balance) *BalanceView {
	currency := balance.Currency
	if currency == "" {
		currency = c.currency
	}
	return &BalanceView{
		ClientID:    balance.ClientID,
		Amount:      balance.Amount,
		Currency:    currency,
		LastUpdated: balance.LastUpdated,
	}
}

type memoryCacheEntry struct {
	balance   BalanceView
	expiresAt time.Time
}

type MemoryCacheBackend struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

func NewMemoryCacheBackend() *MemoryCacheBackend {
	return &MemoryCacheBackend{entries: map[string]memoryCacheEntry{}, now: time.Now}
}

func (b *MemoryCacheBackend) Get(ctx context.Context, clientID string) (*BalanceView, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[clientID]
	if !ok {
		return nil, false, nil
	}
	if !b.now().Before(entry.expiresAt) {
		delete(b.entries, clientID)
		return nil, false, nil
	}
	balance := entry.balance
	return &balance, true, nil
}

func (b *MemoryCacheBackend) Set(ctx context.Context, clientID string, balance *BalanceView, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[clientID] = memoryCacheEntry{balance: *balance, expiresAt: b.now().Add(ttl)}
	return nil
}

func (b *MemoryCacheBackend) Delete(ctx context.Context, clientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, clientID)
	return nil
}

// RedisCacheBackend shares cached balances between instances. The generation
// check in BalanceCache only covers this process: an instance that read the
// store before another instance reconciled may write the older value back
// after the invalidation. That value lives until the TTL expires, which bounds
// the staleness.
type RedisCacheBackend struct {
	client *redis.Client
	prefix string
}

func NewRedisCacheBackend(client *redis.Client) *RedisCacheBackend {
	return &RedisCacheBackend{client: client, prefix: "balancehub:balance:"}
}

func (b *RedisCacheBackend) Get(ctx context.Context, clientID string) (*BalanceView, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	balance := &BalanceView{}
	if err := json.Unmarshal(raw, balance); err != nil {
		return nil, false, err
	}
	return balance, true, nil
}

func (b *RedisCacheBackend) Set(ctx context.Context, clientID string, balance *BalanceView, ttl time.Duration) error {
	raw, err := json.Marshal(balance)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.prefix+clientID, raw, ttl).Err()
}

func (b *RedisCacheBackend) Delete(ctx context.Context, clientID string) error {
	return b.client.Del(ctx, b.prefix+clientID).Err()
}
