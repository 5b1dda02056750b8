package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"auth-server/models"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention keeps expired grants readable for a while so they report
// as expired rather than missing until the sweeper removes them.
const DefaultRetention = time.Hour

// RedisGrantStore implements GrantStore on Redis.
//
// Layout, all under keyPrefix:
//
//	grant:<key>          JSON record, TTL = lifetime + retention
//	grants:expiry        sorted set of keys scored by expiration (ms)
//	subject:<subject>    set of keys issued to a subject
type RedisGrantStore struct {
	client    redis.UniversalClient
	keyPrefix string
	retention time.Duration
	timeout   time.Duration
}

var _ GrantStore = (*RedisGrantStore)(nil)

// RedisOption configures a RedisGrantStore
type RedisOption func(*RedisGrantStore)

// WithRedisTimeout sets the deadline for each store call. The client must
// have ContextTimeoutEnabled for the deadline to bound network reads.
func WithRedisTimeout(d time.Duration) RedisOption {
	return func(s *RedisGrantStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRedisGrantStore creates a grant store over an existing client
func NewRedisGrantStore(client redis.UniversalClient, keyPrefix string, retention time.Duration, opts ...RedisOption) *RedisGrantStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &RedisGrantStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisGrantStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Close closes the Redis client connection.
func (s *RedisGrantStore) Close() error {
	return s.client.Close()
}

type storedGrant struct {
	Type         string `json:"type"`
	SubjectID    string `json:"subject_id"`
	ClientID     string `json:"client_id"`
	CreationTime int64  `json:"creation_time"`
	Expiration   int64  `json:"expiration"`
	Data         []byte `json:"data,omitempty"`
}

func (s *RedisGrantStore) grantKey(key string) string {
	return s.keyPrefix + "grant:" + key
}

func (s *RedisGrantStore) expiryKey() string {
	return s.keyPrefix + "grants:expiry"
}

func (s *RedisGrantStore) subjectKey(subjectID string) string {
	return s.keyPrefix + "subject:" + subjectID
}

// redisErr maps client failures onto ErrUnavailable. Anything that is not a
// store sentinel means Redis could not answer.
func redisErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateKey):
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func decodeGrant(key string, data []byte) (models.PersistedGrant, error) {
	var stored storedGrant
	if err := json.Unmarshal(data, &stored); err != nil {
		return models.PersistedGrant{}, fmt.Errorf("decoding grant: %w", err)
	}
	return models.PersistedGrant{
		Key:          key,
		Type:         models.PersistedGrantType(stored.Type),
		SubjectID:    stored.SubjectID,
		ClientID:     stored.ClientID,
		CreationTime: fromMillis(stored.CreationTime),
		Expiration:   fromMillis(stored.Expiration),
		Data:         stored.Data,
	}, nil
}

// CreateGrant stores the record and its indexes in one transaction
func (s *RedisGrantStore) CreateGrant(ctx context.Context, grant models.PersistedGrant) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(storedGrant{
		Type:         string(grant.Type),
		SubjectID:    grant.SubjectID,
		ClientID:     grant.ClientID,
		CreationTime: toMillis(grant.CreationTime),
		Expiration:   toMillis(grant.Expiration),
		Data:         grant.Data,
	})
	if err != nil {
		return fmt.Errorf("encoding grant: %w", err)
	}

	key := s.grantKey(grant.Key)
	ttl := grant.Expiration.Sub(grant.CreationTime) + s.retention

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrDuplicateKey
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(toMillis(grant.Expiration)), Member: grant.Key})
			pipe.SAdd(ctx, s.subjectKey(grant.SubjectID), grant.Key)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrDuplicateKey
	}
	return redisErr("inserting grant", err)
}

// GetGrant reads a grant without modifying it
func (s *RedisGrantStore) GetGrant(ctx context.Context, key string) (models.PersistedGrant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.grantKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.PersistedGrant{}, fmt.Errorf("getting grant: %w", ErrNotFound)
		}
		return models.PersistedGrant{}, redisErr("getting grant", err)
	}
	return decodeGrant(key, data)
}

// TakeGrant removes and returns the grant under WATCH. A concurrent writer
// aborts the transaction and the loser sees ErrNotFound.
func (s *RedisGrantStore) TakeGrant(ctx context.Context, key string, types []models.PersistedGrantType) (models.PersistedGrant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rkey := s.grantKey(key)
	var taken models.PersistedGrant

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rkey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		grant, err := decodeGrant(key, data)
		if err != nil {
			return err
		}
		if !typeIn(grant.Type, types) {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, rkey)
			pipe.ZRem(ctx, s.expiryKey(), key)
			pipe.SRem(ctx, s.subjectKey(grant.SubjectID), key)
			return nil
		})
		if err != nil {
			return err
		}
		taken = grant
		return nil
	}, rkey)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrNotFound
	}
	if err != nil {
		return models.PersistedGrant{}, redisErr("taking grant", err)
	}
	return taken, nil
}

func typeIn(t models.PersistedGrantType, types []models.PersistedGrantType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// DeleteGrant removes a grant and its index entries. Missing grants are
// not an error.
func (s *RedisGrantStore) DeleteGrant(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, s.grantKey(key)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return redisErr("deleting grant", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.grantKey(key))
		pipe.ZRem(ctx, s.expiryKey(), key)
		if data != nil {
			if grant, decodeErr := decodeGrant(key, data); decodeErr == nil {
				pipe.SRem(ctx, s.subjectKey(grant.SubjectID), key)
			}
		}
		return nil
	})
	return redisErr("deleting grant", err)
}

// DeleteExpired removes one batch of grants expiring at or before now. The
// count covers index entries whose record had already lapsed through TTL.
func (s *RedisGrantStore) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	keys, err := s.client.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(toMillis(now), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, redisErr("listing expired grants", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var removed int64
	for _, key := range keys {
		if err := s.DeleteGrant(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ListGrants returns the subject's grants matching filter ordered by creation
// time. Index entries whose record has lapsed are pruned on the way.
func (s *RedisGrantStore) ListGrants(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	subjectKey := s.subjectKey(filter.SubjectID)
	keys, err := s.client.SMembers(ctx, subjectKey).Result()
	if err != nil {
		return nil, redisErr("listing grants", err)
	}

	grants := make([]models.PersistedGrant, 0, len(keys))
	for _, key := range keys {
		grant, err := s.GetGrant(ctx, key)
		if errors.Is(err, ErrNotFound) {
			_ = s.client.SRem(ctx, subjectKey, key).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.ClientID != "" && grant.ClientID != filter.ClientID {
			continue
		}
		if filter.Type != "" && grant.Type != filter.Type {
			continue
		}
		grants = append(grants, grant)
	}

	sort.Slice(grants, func(i, j int) bool {
		if grants[i].CreationTime.Equal(grants[j].CreationTime) {
			return grants[i].Key < grants[j].Key
		}
		return grants[i].CreationTime.Before(grants[j].CreationTime)
	})
	return grants, nil
}

// DeleteGrants removes every grant matching filter
func (s *RedisGrantStore) DeleteGrants(ctx context.Context, filter models.GrantFilter) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	grants, err := s.ListGrants(ctx, filter)
	if err != nil {
		return 0, err
	}
	var removed int64
	for _, grant := range grants {
		if err := s.DeleteGrant(ctx, grant.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
