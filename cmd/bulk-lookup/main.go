package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/bulk-lookup/internal/config"
	"github.com/Sternrassler/bulk-lookup/pkg/client"
	"github.com/Sternrassler/bulk-lookup/pkg/keystream"
	"github.com/Sternrassler/bulk-lookup/pkg/logging"
	"github.com/Sternrassler/bulk-lookup/pkg/metrics"
	"github.com/Sternrassler/bulk-lookup/pkg/pipeline"
	"github.com/Sternrassler/bulk-lookup/pkg/sink"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	input       string
	output      string
	format      string
	batchSize   int
	endpoint    string
	redisAddr   string
	metricsAddr string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "bulk-lookup",
		Short: "Look up every key of an input file against an HTTP endpoint",
		Long: `bulk-lookup reads keys from a file, queries the lookup endpoint for each
key in concurrent batches, and appends every successful answer to the output.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, f, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, closeLog, err := logging.Setup(cfg.Logging())
			if err != nil {
				return err
			}
			defer closeLog()

			stats, err := run(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("Bulk lookup failed")
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d keys in %d batches (%d found) in %.2f seconds\n",
				stats.Keys, stats.Batches, stats.Found, stats.Duration.Seconds())
			return nil
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fs.StringVarP(&f.input, "input", "i", "", "input file with one key per record")
	fs.StringVarP(&f.output, "output", "o", "", "output file (appended)")
	fs.StringVar(&f.format, "format", "", "record format: csv, value or jsonl")
	fs.IntVarP(&f.batchSize, "batch-size", "b", 0, "keys fetched concurrently per batch")
	fs.StringVar(&f.endpoint, "endpoint", "", "lookup URL template containing {key}")
	fs.StringVar(&f.redisAddr, "redis", "", "also append records to this Redis server")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")

	return cmd
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("input") {
		cfg.Input = f.input
	}
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if changed("endpoint") {
		cfg.Endpoint = f.endpoint
	}
	if changed("redis") {
		cfg.Redis.Addr = f.redisAddr
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

// run wires the pipeline from cfg and processes the whole input.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) (pipeline.Stats, error) {
	logger = logger.With().Str("component", "bulk-lookup").Logger()

	stream, err := keystream.Open(cfg.Input)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer stream.Close()

	format, err := cfg.RecordFormat()
	if err != nil {
		return pipeline.Stats{}, err
	}

	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		return pipeline.Stats{}, err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	out, err := openSinks(cfg, format, rdb)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close output")
		}
	}()

	lookups, err := client.New(cfg.Client(), logger)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer lookups.Close()

	dispatcher, err := pipeline.NewDispatcher(cfg.Pipeline(), logger)
	if err != nil {
		return pipeline.Stats{}, err
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.NewServer(cfg.MetricsAddr, logger)
		if err != nil {
			return pipeline.Stats{}, err
		}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("input", cfg.Input).
		Str("output", cfg.Output).
		Str("format", string(format)).
		Str("endpoint", cfg.Endpoint).
		Msg("Processing keys")

	stats, err := dispatcher.Run(ctx, stream, lookups.Fetch, out)
	if stream.Skipped() > 0 {
		logger.Info().Int("skipped", stream.Skipped()).Msg("Skipped records with empty keys")
	}
	return stats, err
}

// connectRedis returns a connected client, or nil when no Redis sink is configured.
func connectRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
		DB:   cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	return rdb, nil
}

// openSinks opens the file sink and, when rdb is set, the Redis sink.
func openSinks(cfg config.Config, format sink.Format, rdb *redis.Client) (sink.Sink, error) {
	var sinks []sink.Sink

	if cfg.Output != "" {
		fileSink, err := sink.OpenFile(cfg.Output, format, cfg.Sync)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}

	if rdb != nil {
		redisSink, err := sink.NewRedisSink(rdb, cfg.Redis.List, format)
		if err != nil {
			sink.Multi(sinks...).Close()
			return nil, err
		}
		sinks = append(sinks, redisSink)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sink.Multi(sinks...), nil
}
