package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/bulk-lookup/pkg/lookup"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisList is the list key used when none is configured.
const DefaultRedisList = "lookup:results"

// ErrEmptyRedisClient is returned when a Redis sink is created without a client.
var ErrEmptyRedisClient = errors.New("redis client is empty")

// RedisSink appends records to a Redis list with RPUSH.
// Records are only ever appended; the sink never trims or rewrites the list.
type RedisSink struct {
	redis  redis.UniversalClient
	list   string
	format Format
}

// NewRedisSink creates a sink appending to list.
func NewRedisSink(rdb redis.UniversalClient, list string, format Format) (*RedisSink, error) {
	if rdb == nil {
		return nil, ErrEmptyRedisClient
	}
	if list == "" {
		list = DefaultRedisList
	}

	return &RedisSink{
		redis:  rdb,
		list:   list,
		format: format,
	}, nil
}

// Flush pushes the batch's records in a single round trip.
func (s *RedisSink) Flush(ctx context.Context, outcomes []lookup.Outcome) error {
	records, err := s.format.Records(outcomes)
	if err != nil {
		WriteErrors.WithLabelValues("redis").Inc()
		return err
	}
	if len(records) == 0 {
		return nil
	}

	values := make([]interface{}, len(records))
	for i, rec := range records {
		values[i] = rec
	}

	if err := s.redis.RPush(ctx, s.list, values...).Err(); err != nil {
		WriteErrors.WithLabelValues("redis").Inc()
		return fmt.Errorf("redis rpush %s: %w", s.list, err)
	}

	RecordsWritten.WithLabelValues("redis").Add(float64(len(records)))
	return nil
}

// List returns the Redis key records are appended to.
func (s *RedisSink) List() string {
	return s.list
}

// Close is a no-op; the Redis client belongs to the caller.
func (s *RedisSink) Close() error {
	return nil
}
