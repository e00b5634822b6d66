package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"crm-api/domain"
)

// Cache wraps a Store with Redis-backed caching for the hot list reads.
// Board and card listings are cached per user; every mutation evicts both
// keys so readers never see a stale layout. Redis being down degrades to
// plain pass-through.
type Cache struct {
	domain.Store
	base  domain.Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client
// and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{
		Store: base,
		base:  base,
		redis: client,
		ttl:   ttl,
	}
}

func (c *Cache) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	key := boardsCacheKey(userID)
	var cached []domain.Board
	if c.loadFromCache(ctx, key, &cached) {
		return cached, nil
	}

	boards, err := c.base.ListBoards(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, boards)
	return boards, nil
}

func (c *Cache) ListCards(ctx context.Context, userID string) ([]domain.Card, error) {
	key := cardsCacheKey(userID)
	var cached []domain.Card
	if c.loadFromCache(ctx, key, &cached) {
		return cached, nil
	}

	cards, err := c.base.ListCards(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, cards)
	return cards, nil
}

func (c *Cache) InsertBoard(ctx context.Context, userID string, b domain.Board) error {
	if err := c.base.InsertBoard(ctx, userID, b); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteBoard(ctx context.Context, userID, boardID string) error {
	if err := c.base.DeleteBoard(ctx, userID, boardID); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) InsertColumn(ctx context.Context, userID string, col domain.Column) error {
	if err := c.base.InsertColumn(ctx, userID, col); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) ApplyColumnMove(ctx context.Context, userID string, plan domain.ColumnMovePlan) error {
	if err := c.base.ApplyColumnMove(ctx, userID, plan); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteColumn(ctx context.Context, userID, columnID string, shifts []domain.PositionChange) error {
	if err := c.base.DeleteColumn(ctx, userID, columnID, shifts); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteColumns(ctx context.Context, userID string, columnIDs []string) error {
	if err := c.base.DeleteColumns(ctx, userID, columnIDs); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) InsertCard(ctx context.Context, userID string, card domain.Card) error {
	if err := c.base.InsertCard(ctx, userID, card); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) UpdateCard(ctx context.Context, userID string, card domain.Card) error {
	if err := c.base.UpdateCard(ctx, userID, card); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) ApplyCardMove(ctx context.Context, userID string, plan domain.CardMovePlan) error {
	if err := c.base.ApplyCardMove(ctx, userID, plan); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteCard(ctx context.Context, userID, cardID string, shifts []domain.PositionChange) error {
	if err := c.base.DeleteCard(ctx, userID, cardID, shifts); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) DeleteCards(ctx context.Context, userID string, cardIDs []string) error {
	if err := c.base.DeleteCards(ctx, userID, cardIDs); err != nil {
		return err
	}
	c.evict(ctx, userID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, value any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardsCacheKey(userID), cardsCacheKey(userID)).Result()
}

func boardsCacheKey(userID string) string {
	return "boards:" + userID
}

func cardsCacheKey(userID string) string {
	return "cards:" + userID
}
