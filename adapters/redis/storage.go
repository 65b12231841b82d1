package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"questkit/adapters/memory"
	"questkit/core"
)

// ErrTooMuchContention is returned when an optimistic update keeps losing the
// race against concurrent writers.
var ErrTooMuchContention = errors.New("redis: quest update retries exhausted")

const maxUpdateRetries = 16

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" env:"QUESTKIT_REDIS_ADDR"`
	Password     string        `json:"password"`
	DB           int           `json:"db" env:"QUESTKIT_REDIS_DB"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements engine.Storage on Redis.
// Data structure:
//   - quest:{user_id}:{quest_id} -> JSON blob of the quest
//   - user:{user_id}:quests -> set of quest ids
type Store struct {
	client *redis.Client
}

// New creates a Redis-backed store and pings the server.
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func questKey(userID core.UserID, id core.QuestID) string {
	return fmt.Sprintf("quest:%s:%s", userID, id)
}

func userQuestsKey(userID core.UserID) string {
	return fmt.Sprintf("user:%s:quests", userID)
}

// createScript stores the blob and indexes it in one step, refusing to
// overwrite an existing quest.
var createScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('SET', KEYS[1], ARGV[1])
	redis.call('SADD', KEYS[2], ARGV[2])
	return 1
`)

func (s *Store) CreateQuest(ctx context.Context, q core.Quest) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quest: %w", err)
	}
	created, err := createScript.Run(ctx, s.client,
		[]string{questKey(q.UserID, q.ID), userQuestsKey(q.UserID)},
		data, string(q.ID)).Int()
	if err != nil {
		return fmt.Errorf("failed to create quest: %w", err)
	}
	if created == 0 {
		return core.ErrQuestExists
	}
	return nil
}

func (s *Store) GetQuest(ctx context.Context, userID core.UserID, id core.QuestID) (core.Quest, error) {
	data, err := s.client.Get(ctx, questKey(userID, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Quest{}, core.ErrQuestNotFound
	}
	if err != nil {
		return core.Quest{}, fmt.Errorf("failed to get quest: %w", err)
	}
	return decodeQuest(data)
}

// ListQuests loads every indexed quest. Index entries whose blob has vanished
// are pruned.
func (s *Store) ListQuests(ctx context.Context, userID core.UserID) ([]core.Quest, error) {
	ids, err := s.client.SMembers(ctx, userQuestsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list quest ids: %w", err)
	}
	out := make([]core.Quest, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = questKey(userID, core.QuestID(id))
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load quests: %w", err)
	}
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		q, err := decodeQuest([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, userQuestsKey(userID), stale...)
	}
	memory.SortQuests(out)
	return out, nil
}

// UpdateQuest runs fn inside a WATCH/MULTI transaction and retries when
// another writer touched the quest first, so fn may run more than once.
func (s *Store) UpdateQuest(ctx context.Context, userID core.UserID, id core.QuestID, fn func(*core.Quest) error) (core.Quest, error) {
	key := questKey(userID, id)
	var result core.Quest
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return core.ErrQuestNotFound
		}
		if err != nil {
			return err
		}
		q, err := decodeQuest(data)
		if err != nil {
			return err
		}
		if err := fn(&q); err != nil {
			return err
		}
		q.ID, q.UserID = id, userID
		next, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("encode quest: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err == nil {
			result = q
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return core.Quest{}, err
		}
		return result, nil
	}
	return core.Quest{}, ErrTooMuchContention
}

func (s *Store) DeleteQuest(ctx context.Context, userID core.UserID, id core.QuestID) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, questKey(userID, id))
		pipe.SRem(ctx, userQuestsKey(userID), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete quest: %w", err)
	}
	if del.Val() == 0 {
		return core.ErrQuestNotFound
	}
	return nil
}

func decodeQuest(data []byte) (core.Quest, error) {
	var q core.Quest
	if err := json.Unmarshal(data, &q); err != nil {
		return core.Quest{}, fmt.Errorf("decode quest: %w", err)
	}
	return q, nil
}
