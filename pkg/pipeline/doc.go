// Package pipeline drives bulk lookups in fixed-size batches.
//
// A Dispatcher pulls keys from a Source until it holds a full batch, starts
// one fetch per key concurrently, waits for every fetch of the batch, and
// hands the outcomes to a Sink before reading further keys. The stream's
// last keys form a final, possibly smaller, batch.
//
// Example usage:
//
//	stream, err := keystream.Open("addresses.txt")
//	...
//	lookups, err := client.New(client.DefaultConfig(), logger)
//	...
//	out, err := sink.OpenFile("results.txt", sink.FormatKeyValue, true)
//	...
//	d, err := pipeline.NewDispatcher(pipeline.DefaultConfig(), logger)
//	stats, err := d.Run(ctx, stream, lookups.Fetch, out)
//
// The dispatcher:
//   - Never has more than BatchSize fetches in flight
//   - Flushes batch N before starting any fetch of batch N+1
//   - Calls the sink exactly once per batch, never for an empty input
//   - Treats per-key failures as absent outcomes, and source or sink
//     failures as fatal
package pipeline
