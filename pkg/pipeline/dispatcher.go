package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/bulk-lookup/pkg/lookup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for batch dispatch.
var (
	lookupBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookup_batches_total",
		Help: "Total number of dispatched batches",
	})

	lookupBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lookup_batch_size",
		Help:    "Number of keys per dispatched batch",
		Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 5000},
	})

	lookupBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lookup_batch_duration_seconds",
		Help:    "Time from batch dispatch to completed sink flush",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	lookupOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookup_outcomes_total",
		Help: "Total key outcomes by result",
	}, []string{"result"})
)

// ErrInvalidBatchSize is returned by NewDispatcher for a non-positive batch size.
var ErrInvalidBatchSize = errors.New("batch size must be > 0")

// Source yields keys one at a time and returns io.EOF when exhausted.
type Source interface {
	Next() (string, error)
}

// FetchFunc resolves one key. It must be safe for concurrent use and
// must not fail: failures are reported as absent outcomes.
type FetchFunc func(ctx context.Context, key string) lookup.Outcome

// Sink receives the outcomes of one completed batch.
type Sink interface {
	Flush(ctx context.Context, outcomes []lookup.Outcome) error
}

// Config holds dispatcher configuration.
type Config struct {
	// BatchSize is the number of keys fetched concurrently per batch.
	BatchSize int
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize: 1000,
	}
}

// Stats summarizes a run.
type Stats struct {
	Batches  int
	Keys     int
	Found    int
	Missing  int
	Duration time.Duration
}

// Dispatcher runs the batch pipeline.
type Dispatcher struct {
	config Config
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config Config, logger zerolog.Logger) (*Dispatcher, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidBatchSize, config.BatchSize)
	}

	return &Dispatcher{
		config: config,
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}, nil
}

// Run drains src in batches of Config.BatchSize, fetching every key of a
// batch concurrently with fetch and flushing the batch's outcomes to sink
// before reading the next key. A read error from src or a flush error from
// sink aborts the run; Stats then covers the batches completed so far.
func (d *Dispatcher) Run(ctx context.Context, src Source, fetch FetchFunc, sink Sink) (Stats, error) {
	start := time.Now()
	var stats Stats

	d.logger.Info().
		Int("batch_size", d.config.BatchSize).
		Msg("Starting bulk lookup")

	batch := lookup.Batch{Seq: 1, Keys: make([]string, 0, d.config.BatchSize)}

	for {
		key, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			stats.Duration = time.Since(start)
			return stats, fmt.Errorf("read key after %d keys: %w", stats.Keys+batch.Len(), err)
		}

		batch.Keys = append(batch.Keys, key)
		if batch.Len() < d.config.BatchSize {
			continue
		}

		if err := d.dispatch(ctx, batch, fetch, sink, &stats); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		batch.Seq++
		batch.Keys = batch.Keys[:0]
	}

	if batch.Len() > 0 {
		if err := d.dispatch(ctx, batch, fetch, sink, &stats); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
	}

	stats.Duration = time.Since(start)

	d.logger.Info().
		Int("batches", stats.Batches).
		Int("keys", stats.Keys).
		Int("found", stats.Found).
		Int("missing", stats.Missing).
		Dur("duration", stats.Duration).
		Msg("Bulk lookup complete")

	return stats, nil
}

// dispatch fetches one batch, waits for all of it, and flushes it.
func (d *Dispatcher) dispatch(ctx context.Context, batch lookup.Batch, fetch FetchFunc, sink Sink, stats *Stats) error {
	start := time.Now()
	outcomes := make([]lookup.Outcome, batch.Len())

	var g errgroup.Group
	for i, key := range batch.Keys {
		g.Go(func() error {
			outcomes[i] = fetch(ctx, key)
			return nil
		})
	}
	// Fetches report failures as outcomes, so Wait has nothing to return.
	_ = g.Wait()

	found := 0
	for _, o := range outcomes {
		if o.Found {
			found++
		}
	}

	if err := sink.Flush(ctx, outcomes); err != nil {
		return fmt.Errorf("flush batch %d: %w", batch.Seq, err)
	}

	stats.Batches++
	stats.Keys += batch.Len()
	stats.Found += found
	stats.Missing += batch.Len() - found

	lookupBatchesTotal.Inc()
	lookupBatchSize.Observe(float64(batch.Len()))
	lookupBatchDuration.Observe(time.Since(start).Seconds())
	lookupOutcomesTotal.WithLabelValues("found").Add(float64(found))
	lookupOutcomesTotal.WithLabelValues("missing").Add(float64(batch.Len() - found))

	d.logger.Debug().
		Int("batch", batch.Seq).
		Int("keys", batch.Len()).
		Int("found", found).
		Dur("duration", time.Since(start)).
		Msg("Batch flushed")

	// Progress logging every 100 batches
	if stats.Batches%100 == 0 {
		d.logger.Info().
			Int("batches", stats.Batches).
			Int("keys", stats.Keys).
			Int("found", stats.Found).
			Msg("Lookup progress")
	}

	return nil
}
