package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/models"
)

const keyPrefix = "storyframe:session:"

// RedisStore implements Store using Redis. State records are JSON strings
// updated with WATCH/MULTI/EXEC; history is a Redis list.
//
// The single-writer lease is process-local: run one game process per Redis
// keyspace, or rely on the version check to reject a competing writer.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	leases *leases
}

// NewRedisStore creates a Redis-based session store. A ttl of zero keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		leases: newLeases(),
	}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, apperrors.Storage("ping redis", err)
	}
	return NewRedisStore(client, 0), nil
}

func stateKey(id string) string   { return keyPrefix + id + ":state" }
func historyKey(id string) string { return keyPrefix + id + ":history" }

func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	val, err := s.client.Get(ctx, stateKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return newRecord(id), nil
	}
	if err != nil {
		return nil, apperrors.Storage("load state", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, apperrors.Storage("decode state", err)
	}
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if err := CheckID(rec.ID); err != nil {
		return err
	}
	key := stateKey(rec.ID)

	var saved Record
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var stored Record
		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				return err
			}
		}

		if stored.Version != rec.Version {
			return ErrVersionConflict
		}

		now := time.Now()
		saved = *rec
		if stored.Version == 0 {
			saved.CreatedAt = now
		}
		saved.Version++
		saved.UpdatedAt = now

		newVal, err := json.Marshal(&saved)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrVersionConflict
	}
	if err != nil {
		return apperrors.Storage("save state for "+rec.ID, err)
	}
	*rec = saved
	return nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, id string, entry models.HistoryEntry) error {
	if err := CheckID(id); err != nil {
		return err
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Storage("encode history entry", err)
	}
	if err := s.client.RPush(ctx, historyKey(id), val).Err(); err != nil {
		return apperrors.Storage("append history", err)
	}
	return nil
}

func (s *RedisStore) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	vals, err := s.client.LRange(ctx, historyKey(id), 0, -1).Result()
	if err != nil {
		return nil, apperrors.Storage("load history", err)
	}
	entries := make([]models.HistoryEntry, 0, len(vals))
	for _, val := range vals {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			return nil, apperrors.Storage("decode history entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// TruncateHistory trims the history list to the entries before fromTurn.
// Entries are in turn order, so the first entry at or past fromTurn marks
// the cut.
func (s *RedisStore) TruncateHistory(ctx context.Context, id string, fromTurn int) error {
	if err := CheckID(id); err != nil {
		return err
	}
	entries, err := s.History(ctx, id)
	if err != nil {
		return err
	}
	cut := len(truncate(entries, fromTurn))
	if cut == len(entries) {
		return nil
	}
	key := historyKey(id)
	if cut == 0 {
		err = s.client.Del(ctx, key).Err()
	} else {
		err = s.client.LTrim(ctx, key, 0, int64(cut-1)).Err()
	}
	if err != nil {
		return apperrors.Storage("truncate history", err)
	}
	return nil
}

func (s *RedisStore) Reset(ctx context.Context, id string) error {
	if err := CheckID(id); err != nil {
		return err
	}
	if err := s.client.Del(ctx, stateKey(id), historyKey(id)).Err(); err != nil {
		return apperrors.Storage("reset session", err)
	}
	return nil
}

func (s *RedisStore) Acquire(ctx context.Context, id string) (func(), error) {
	if err := CheckID(id); err != nil {
		return nil, err
	}
	return s.leases.acquire(ctx, id)
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*:state", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), keyPrefix)
		ids = append(ids, strings.TrimSuffix(key, ":state"))
	}
	if err := iter.Err(); err != nil {
		return nil, apperrors.Storage("list sessions", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
