package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"betbot/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for the
// hot single-record reads. Writes go to the primary and invalidate the cache;
// everything else passes straight through.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertMarkets(ctx context.Context, markets []model.Market) error {
	if err := s.Store.UpsertMarkets(ctx, markets); err != nil {
		return err
	}
	keys := make([]string, 0, len(markets))
	for _, m := range markets {
		keys = append(keys, marketKey(m.ID))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) UpsertRunners(ctx context.Context, runners []model.Runner) error {
	if err := s.Store.UpsertRunners(ctx, runners); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, r := range runners {
		if !seen[r.MarketID] {
			seen[r.MarketID] = true
			s.rdb.Del(ctx, marketKey(r.MarketID))
		}
	}
	return nil
}

func (s *CachedStore) SetPlayed(ctx context.Context, id string, at time.Time) error {
	if err := s.Store.SetPlayed(ctx, id, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) SetSkipped(ctx context.Context, id, code string, at time.Time) error {
	if err := s.Store.SetSkipped(ctx, id, code, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) InsertSnapshot(ctx context.Context, book model.Book) error {
	if err := s.Store.InsertSnapshot(ctx, book); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(book.MarketID))
	return nil
}

func (s *CachedStore) UpsertAccountFunds(ctx context.Context, f model.AccountFunds) error {
	if err := s.Store.UpsertAccountFunds(ctx, f); err != nil {
		return err
	}
	s.rdb.Del(ctx, fundsKey(f.Wallet))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.get(ctx, marketKey(id), &m) {
		return &m, nil
	}
	got, err := s.Store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, marketKey(id), got)
	return got, nil
}

func (s *CachedStore) LatestSnapshot(ctx context.Context, marketID string) (*model.Book, error) {
	var b model.Book
	if s.get(ctx, snapshotKey(marketID), &b) {
		return &b, nil
	}
	got, err := s.Store.LatestSnapshot(ctx, marketID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, snapshotKey(marketID), got)
	return got, nil
}

func (s *CachedStore) GetAccountFunds(ctx context.Context, wallet string) (*model.AccountFunds, error) {
	var f model.AccountFunds
	if s.get(ctx, fundsKey(wallet), &f) {
		return &f, nil
	}
	got, err := s.Store.GetAccountFunds(ctx, wallet)
	if err != nil {
		return nil, err
	}
	s.set(ctx, fundsKey(wallet), got)
	return got, nil
}

// --- Cache helpers ---

func (s *CachedStore) get(ctx context.Context, key string, dst any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("betbot:market:%s", id) }
func snapshotKey(id string) string { return fmt.Sprintf("betbot:snapshot:%s", id) }
func fundsKey(wallet string) string { return fmt.Sprintf("betbot:funds:%s", wallet) }
