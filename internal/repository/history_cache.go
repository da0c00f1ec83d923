package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/pkg/log"
)

// HistoryCache keeps the most recent turns of each chat, newest first.
// Every Append bumps a per-chat version so that a Prime computed from an older
// store read can be detected and skipped.
type HistoryCache interface {
	// Capacity is the number of turns kept per chat.
	Capacity() int
	// Window returns up to n cached turns newest first. ok is false on a cache miss.
	Window(ctx context.Context, chatID string, n int) (turns []model.Conversation, ok bool, err error)
	// Version returns the chat's append counter. Read it before loading the turns passed to Prime.
	Version(ctx context.Context, chatID string) (int64, error)
	// Prime replaces the cached window with turns, which must be newest first. It reports
	// false without writing when an Append happened since version was read.
	Prime(ctx context.Context, chatID string, version int64, turns []model.Conversation) (bool, error)
	// Append adds chronologically ordered turns to an already cached window and bumps the version.
	Append(ctx context.Context, chatID string, turns []model.Conversation) error
	// Invalidate drops the cached window.
	Invalidate(ctx context.Context, chatID string) error
}

type redisHistoryCache struct {
	rdb      *redis.Client
	capacity int
	ttl      time.Duration
}

// NewRedisHistoryCache returns a HistoryCache storing one Redis list per chat.
func NewRedisHistoryCache(rdb *redis.Client, capacity int, ttl time.Duration) HistoryCache {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisHistoryCache{rdb: rdb, capacity: capacity, ttl: ttl}
}

func historyKey(chatID string) string {
	return fmt.Sprintf("chat:%s:history", chatID)
}

func versionKey(chatID string) string {
	return fmt.Sprintf("chat:%s:history:version", chatID)
}

func (c *redisHistoryCache) Capacity() int {
	return c.capacity
}

func (c *redisHistoryCache) Window(ctx context.Context, chatID string, n int) ([]model.Conversation, bool, error) {
	if n > c.capacity {
		return nil, false, nil
	}
	raw, err := c.rdb.LRange(ctx, historyKey(chatID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read chat history: %w", err)
	}
	// Redis never keeps an empty list, so no elements means no key.
	if len(raw) == 0 {
		return nil, false, nil
	}
	turns := make([]model.Conversation, 0, len(raw))
	for _, item := range raw {
		var turn model.Conversation
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal chat history: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, true, nil
}

func (c *redisHistoryCache) Version(ctx context.Context, chatID string) (int64, error) {
	v, err := c.rdb.Get(ctx, versionKey(chatID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read chat history version: %w", err)
	}
	return v, nil
}

func (c *redisHistoryCache) Prime(ctx context.Context, chatID string, version int64, turns []model.Conversation) (bool, error) {
	if len(turns) == 0 {
		return false, nil
	}
	if len(turns) > c.capacity {
		turns = turns[:c.capacity]
	}
	values, err := encodeTurns(turns)
	if err != nil {
		return false, err
	}
	key, vkey := historyKey(chatID), versionKey(chatID)
	primed := false
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.RPush(ctx, key, values...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		if err == nil {
			primed = true
		}
		return err
	}, vkey)
	switch {
	case err == redis.TxFailedErr:
		// an append landed while priming
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to prime chat history: %w", err)
	}
	return primed, nil
}

func (c *redisHistoryCache) Append(ctx context.Context, chatID string, turns []model.Conversation) error {
	if len(turns) == 0 {
		return nil
	}
	values, err := encodeTurns(turns)
	if err != nil {
		return err
	}
	key, vkey := historyKey(chatID), versionKey(chatID)
	// LPUSHX only touches an existing window; a partial list would otherwise look complete.
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, vkey)
		pipe.Expire(ctx, vkey, c.ttl)
		pipe.LPushX(ctx, key, values...)
		pipe.LTrim(ctx, key, 0, int64(c.capacity-1))
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat history: %w", err)
	}
	return nil
}

func (c *redisHistoryCache) Invalidate(ctx context.Context, chatID string) error {
	if err := c.rdb.Del(ctx, historyKey(chatID)).Err(); err != nil {
		return fmt.Errorf("failed to drop chat history: %w", err)
	}
	return nil
}

func encodeTurns(turns []model.Conversation) ([]interface{}, error) {
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal chat history: %w", err)
		}
		values = append(values, b)
	}
	return values, nil
}

// cachedConversationRepository reads the last-N window through a HistoryCache.
// Cache failures are logged and the store answers instead.
type cachedConversationRepository struct {
	ConversationRepository
	cache HistoryCache
}

// NewCachedConversationRepository wraps store with a read-through history cache.
func NewCachedConversationRepository(store ConversationRepository, cache HistoryCache) ConversationRepository {
	return &cachedConversationRepository{ConversationRepository: store, cache: cache}
}

func (r *cachedConversationRepository) CreateMany(ctx context.Context, turns []*model.Conversation) error {
	if err := r.ConversationRepository.CreateMany(ctx, turns); err != nil {
		return err
	}
	byChat := make(map[string][]model.Conversation)
	var order []string
	for _, t := range turns {
		if _, seen := byChat[t.ChatID]; !seen {
			order = append(order, t.ChatID)
		}
		byChat[t.ChatID] = append(byChat[t.ChatID], *t)
	}
	for _, chatID := range order {
		if err := r.cache.Append(ctx, chatID, byChat[chatID]); err != nil {
			log.Warnf("history cache append for chat %s: %v", chatID, err)
			// a window missing these turns must not be served
			if err := r.cache.Invalidate(ctx, chatID); err != nil {
				log.Errorf("history cache invalidate for chat %s: %v", chatID, err)
			}
		}
	}
	return nil
}

func (r *cachedConversationRepository) FindLastByChat(ctx context.Context, chatID string, n int) ([]model.Conversation, error) {
	if n <= 0 {
		return []model.Conversation{}, nil
	}
	if n > r.cache.Capacity() {
		return r.ConversationRepository.FindLastByChat(ctx, chatID, n)
	}
	turns, ok, err := r.cache.Window(ctx, chatID, n)
	if err != nil {
		log.Warnf("history cache read for chat %s: %v", chatID, err)
	} else if ok {
		return turns, nil
	}

	version, verr := r.cache.Version(ctx, chatID)
	turns, err = r.ConversationRepository.FindLastByChat(ctx, chatID, r.cache.Capacity())
	if err != nil {
		return nil, err
	}
	if verr != nil {
		log.Warnf("history cache version for chat %s: %v", chatID, verr)
	} else if _, err := r.cache.Prime(ctx, chatID, version, turns); err != nil {
		log.Warnf("history cache prime for chat %s: %v", chatID, err)
	}
	if len(turns) > n {
		turns = turns[:n]
	}
	return turns, nil
}
