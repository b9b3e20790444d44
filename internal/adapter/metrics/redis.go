package metrics

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thushan/perch/internal/core/domain"
)

const (
	redisAccountsKey    = "perch:sample:accounts"
	redisSeriesPrefix   = "perch:sample:series:"
	redisDefaultTimeout = 5 * time.Second
)

// RedisStore keeps each account's series in a sorted set scored by
// observation time, so range queries map directly onto ZREVRANGEBYSCORE.
// Selected over the in-memory store via storage.samples.type=redis.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:         addr,
			DB:           db,
			DialTimeout:  redisDefaultTimeout,
			ReadTimeout:  redisDefaultTimeout,
			WriteTimeout: redisDefaultTimeout,
		}),
	}
}

// Ping verifies connectivity at startup
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func seriesKey(accountID string) string {
	return redisSeriesPrefix + accountID
}

func (s *RedisStore) Put(ctx context.Context, sample *domain.Sample) error {
	if sample == nil || sample.AccountID == "" {
		return domain.NewValidationError("sample", sample, "must carry an account id")
	}

	score := float64(sample.ObservedAt.UnixNano())
	key := seriesKey(sample.AccountID)

	// Uniqueness on (account, observedAt): an existing member at this
	// score is a conflict
	existing, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: strconv.FormatFloat(score, 'f', -1, 64),
		Max: strconv.FormatFloat(score, 'f', -1, 64),
	}).Result()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return domain.NewConflictError("sample", sample.AccountID+"@"+sample.ObservedAt.Format(time.RFC3339Nano))
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
	pipe.SAdd(ctx, redisAccountsKey, sample.AccountID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) LatestFor(ctx context.Context, accountID string) (*domain.Sample, error) {
	members, err := s.client.ZRevRange(ctx, seriesKey(accountID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, domain.NewNotFoundError("sample", accountID)
	}
	return decodeSample(members[0])
}

func (s *RedisStore) Latest(ctx context.Context, limit int) ([]*domain.Sample, error) {
	accountIDs, err := s.client.SMembers(ctx, redisAccountsKey).Result()
	if err != nil {
		return nil, err
	}

	latest := make([]*domain.Sample, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		sample, err := s.LatestFor(ctx, accountID)
		if err != nil {
			if _, ok := err.(*domain.NotFoundError); ok {
				continue
			}
			return nil, err
		}
		latest = append(latest, sample)
	}

	sortSamplesNewestFirst(latest)
	if limit > 0 && len(latest) > limit {
		latest = latest[:limit]
	}
	return latest, nil
}

func (s *RedisStore) Range(ctx context.Context, accountID string, from, to time.Time, limit int) ([]*domain.Sample, error) {
	min := "-inf"
	if !from.IsZero() {
		min = strconv.FormatInt(from.UnixNano(), 10)
	}
	max := "+inf"
	if !to.IsZero() {
		max = strconv.FormatInt(to.UnixNano(), 10)
	}

	zrange := &redis.ZRangeBy{Min: min, Max: max}
	if limit > 0 {
		zrange.Count = int64(limit)
	}

	members, err := s.client.ZRevRangeByScore(ctx, seriesKey(accountID), zrange).Result()
	if err != nil {
		return nil, err
	}

	samples := make([]*domain.Sample, 0, len(members))
	for _, member := range members {
		sample, err := decodeSample(member)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func decodeSample(raw string) (*domain.Sample, error) {
	var sample domain.Sample
	if err := json.Unmarshal([]byte(raw), &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

func sortSamplesNewestFirst(samples []*domain.Sample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].ObservedAt.After(samples[j].ObservedAt)
	})
}
