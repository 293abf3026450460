package metrics

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentmesh/agentmesh/pkg/clock"
	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/types"
)

const (
	redisSeriesPrefix = "agentmesh:metrics:"
	redisLatestPrefix = "agentmesh:latest:"
	redisChannel      = "agentmesh:metrics"
)

// RedisStore is the external Store back-end. Samples live in sorted sets
// scored by unix milliseconds; streaming rides Redis pub/sub. It trades the
// in-process read-your-writes guarantee for shared visibility across nodes.
type RedisStore struct {
	client *redis.Client
	clk    clock.Clock
	maxAge time.Duration
	hooks  []func(types.Sample)
}

// NewRedisStore connects a store to the given Redis address. Hooks fire on
// every Record, same as the in-memory store's.
func NewRedisStore(addr, password string, db int, clk clock.Clock, maxAge time.Duration,
	hooks ...func(types.Sample)) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, clk: clk, maxAge: maxAge, hooks: hooks}
}

// Record appends the sample to its series set and refreshes the latest index.
func (s *RedisStore) Record(sample types.Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.clk.Now()
	}
	for _, hook := range s.hooks {
		hook(sample)
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		logger.GetLogger().Error("failed to encode metric sample", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := redisSeriesPrefix + seriesKey(sample.OwnerID, sample.Name, sample.Labels)
	score := float64(sample.Timestamp.UnixMilli())

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: string(payload)})
	if s.maxAge > 0 {
		horizon := s.clk.Now().Add(-s.maxAge).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(horizon, 10))
		pipe.Expire(ctx, key, s.maxAge)
	}
	pipe.Set(ctx, redisLatestPrefix+sample.OwnerID+":"+sample.Name, string(payload), s.maxAge)
	pipe.Publish(ctx, redisChannel, string(payload))

	if _, err := pipe.Exec(ctx); err != nil {
		logger.GetLogger().Error("failed to record metric sample", "error", err)
	}
}

// Query scans matching series inside the window. Label and owner predicates
// are applied after decoding.
func (s *RedisStore) Query(filter Filter) []types.Sample {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	min, max := "-inf", "+inf"
	if !filter.Since.IsZero() {
		min = strconv.FormatInt(filter.Since.UnixMilli(), 10)
	}
	if !filter.Until.IsZero() {
		max = strconv.FormatInt(filter.Until.UnixMilli(), 10)
	}

	out := []types.Sample{}
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisSeriesPrefix+"*", 200).Result()
		if err != nil {
			logger.GetLogger().Error("metric query scan failed", "error", err)
			return out
		}
		for _, key := range keys {
			members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
			if err != nil {
				continue
			}
			for _, member := range members {
				var sample types.Sample
				if err := json.Unmarshal([]byte(member), &sample); err != nil {
					continue
				}
				if filter.Matches(sample) {
					out = append(out, sample)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

// Latest reads the latest-by-name index.
func (s *RedisStore) Latest(ownerID, name string) (types.Sample, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, redisLatestPrefix+ownerID+":"+name).Result()
	if err != nil {
		return types.Sample{}, false
	}
	var sample types.Sample
	if err := json.Unmarshal([]byte(raw), &sample); err != nil {
		return types.Sample{}, false
	}
	return sample, true
}

// Stream subscribes to the sample channel and forwards matches until ctx ends.
func (s *RedisStore) Stream(ctx context.Context, filter Filter) <-chan types.Sample {
	ch := make(chan types.Sample, 64)
	sub := s.client.Subscribe(ctx, redisChannel)

	go func() {
		defer close(ch)
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var sample types.Sample
				if err := json.Unmarshal([]byte(msg.Payload), &sample); err != nil {
					continue
				}
				if filter.Matches(sample) {
					select {
					case ch <- sample:
					default:
					}
				}
			}
		}
	}()

	return ch
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
