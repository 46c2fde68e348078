package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisHoldPrefix = "hold:"

// RedisHoldStore keeps each hold under a slot key whose Redis TTL matches
// ExpiresAt, so expired holds vanish without a sweep. A session key points at
// the slot key and a per-doctor sorted set indexes slot keys by slot time.
type RedisHoldStore struct {
	client redis.UniversalClient
}

func NewRedisHoldStore(client redis.UniversalClient) *RedisHoldStore {
	return &RedisHoldStore{client: client}
}

func slotKey(doctorID uuid.UUID, locationID *uuid.UUID, slotAt time.Time) string {
	loc := LocationKey(locationID)
	if loc == "" {
		loc = "tele"
	}
	return fmt.Sprintf("%sslot:%s:%s:%d", redisHoldPrefix, doctorID, loc, slotAt.Unix())
}

func sessionKey(sessionID string) string { return redisHoldPrefix + "session:" + sessionID }

func doctorKey(doctorID uuid.UUID) string { return redisHoldPrefix + "doctor:" + doctorID.String() }

func (s *RedisHoldStore) Insert(ctx context.Context, h *Hold, now time.Time) error {
	ttl := h.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return fmt.Errorf("hold expires before it is stored")
	}
	body, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encode hold: %w", err)
	}
	key := slotKey(h.DoctorID, h.LocationID, h.SlotAt)

	ok, err := s.client.SetNX(ctx, key, body, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlotUnavailable
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(h.SessionID), key, ttl)
		pipe.ZAdd(ctx, doctorKey(h.DoctorID), redis.Z{Score: float64(h.SlotAt.Unix()), Member: key})
		return nil
	})
	if err != nil {
		// Leave no orphaned reservation behind when the index writes fail.
		s.client.Del(ctx, key)
		return err
	}
	return nil
}

func (s *RedisHoldStore) GetBySession(ctx context.Context, sessionID string, now time.Time) (*Hold, error) {
	key, err := s.slotKeyFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return load(ctx, s.client, key, sessionID, now)
}

func (s *RedisHoldStore) Extend(ctx context.Context, sessionID string, expiresAt, now time.Time) (*Hold, error) {
	key, err := s.slotKeyFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil, ErrHoldNotFound
	}

	var out *Hold
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		h, err := load(ctx, tx, key, sessionID, now)
		if err != nil {
			return err
		}
		h.ExpiresAt = expiresAt
		body, err := json.Marshal(h)
		if err != nil {
			return fmt.Errorf("encode hold: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, body, ttl)
			pipe.Set(ctx, sessionKey(sessionID), key, ttl)
			return nil
		})
		out = h
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RedisHoldStore) DeleteBySession(ctx context.Context, sessionID string) error {
	key, err := s.slotKeyFor(ctx, sessionID)
	if errors.Is(err, ErrHoldNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		h, err := load(ctx, tx, key, sessionID, time.Time{})
		if errors.Is(err, ErrHoldNotFound) {
			return tx.Del(ctx, sessionKey(sessionID)).Err()
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, sessionKey(sessionID))
			pipe.ZRem(ctx, doctorKey(h.DoctorID), key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// The slot changed hands while we looked; ours is already gone.
		return s.client.Del(ctx, sessionKey(sessionID)).Err()
	}
	return err
}

func (s *RedisHoldStore) ListActive(ctx context.Context, doctorID uuid.UUID, from, to, now time.Time) ([]*Hold, error) {
	keys, err := s.client.ZRangeByScore(ctx, doctorKey(doctorID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: "(" + strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil || len(keys) == 0 {
		return nil, err
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var out []*Hold
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var h Hold
		if err := json.Unmarshal([]byte(raw), &h); err != nil {
			return nil, fmt.Errorf("decode hold: %w", err)
		}
		if h.Live(now) && !h.SlotAt.Before(from) && h.SlotAt.Before(to) {
			out = append(out, &h)
		}
	}
	return out, nil
}

// DeleteExpired prunes index entries whose slot keys Redis already expired.
func (s *RedisHoldStore) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, redisHoldPrefix+"doctor:*", 100).Iterator()
	for iter.Next(ctx) {
		idx := iter.Val()
		members, err := s.client.ZRange(ctx, idx, 0, -1).Result()
		if err != nil {
			return removed, err
		}
		var stale []interface{}
		for _, m := range members {
			n, err := s.client.Exists(ctx, m).Result()
			if err != nil {
				return removed, err
			}
			if n == 0 {
				stale = append(stale, m)
			}
		}
		if len(stale) == 0 {
			continue
		}
		n, err := s.client.ZRem(ctx, idx, stale...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, iter.Err()
}

func (s *RedisHoldStore) slotKeyFor(ctx context.Context, sessionID string) (string, error) {
	key, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrHoldNotFound
	}
	return key, err
}

// load reads the hold at key and checks it still belongs to sessionID. A zero
// now skips the expiry check.
func load(ctx context.Context, c redis.Cmdable, key, sessionID string, now time.Time) (*Hold, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	var h Hold
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode hold: %w", err)
	}
	if h.SessionID != sessionID || (!now.IsZero() && !h.Live(now)) {
		return nil, ErrHoldNotFound
	}
	return &h, nil
}
