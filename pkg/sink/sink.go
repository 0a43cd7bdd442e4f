package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/bulk-lookup/pkg/lookup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsWritten tracks persisted records by sink kind
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookup_sink_records_total",
			Help: "Total number of records written by sink",
		},
		[]string{"sink"}, // "file", "writer", "redis"
	)

	// WriteErrors tracks failed flushes by sink kind
	WriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookup_sink_errors_total",
			Help: "Total number of failed sink flushes",
		},
		[]string{"sink"},
	)
)

// Sink persists the outcomes of completed batches.
type Sink interface {
	// Flush appends the records of one batch. It is called from a single
	// goroutine.
	Flush(ctx context.Context, outcomes []lookup.Outcome) error

	// Close flushes anything pending and releases the sink.
	Close() error
}

// WriterSink appends records to an io.Writer.
type WriterSink struct {
	w      *bufio.Writer
	format Format
	kind   string
}

// NewWriterSink returns a sink writing lines to w.
func NewWriterSink(w io.Writer, format Format) *WriterSink {
	return &WriterSink{
		w:      bufio.NewWriter(w),
		format: format,
		kind:   "writer",
	}
}

// Flush writes one line per record and flushes the buffer.
func (s *WriterSink) Flush(_ context.Context, outcomes []lookup.Outcome) error {
	records, err := s.format.Records(outcomes)
	if err != nil {
		WriteErrors.WithLabelValues(s.kind).Inc()
		return err
	}

	for _, rec := range records {
		if _, err := s.w.Write(rec); err != nil {
			WriteErrors.WithLabelValues(s.kind).Inc()
			return fmt.Errorf("write record: %w", err)
		}
		if err := s.w.WriteByte('\n'); err != nil {
			WriteErrors.WithLabelValues(s.kind).Inc()
			return fmt.Errorf("write record: %w", err)
		}
	}

	if err := s.w.Flush(); err != nil {
		WriteErrors.WithLabelValues(s.kind).Inc()
		return fmt.Errorf("flush records: %w", err)
	}

	RecordsWritten.WithLabelValues(s.kind).Add(float64(len(records)))
	return nil
}

// Close flushes buffered output.
func (s *WriterSink) Close() error {
	return s.w.Flush()
}

// FileSink appends records to a file opened in append mode.
type FileSink struct {
	*WriterSink
	file *os.File
	sync bool
}

// OpenFile opens (or creates) path for appending. With sync set, every
// flush is followed by an fsync so completed batches survive a crash.
func OpenFile(path string, format Format, sync bool) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	ws := NewWriterSink(f, format)
	ws.kind = "file"

	return &FileSink{
		WriterSink: ws,
		file:       f,
		sync:       sync,
	}, nil
}

// Flush writes the batch and optionally syncs the file.
func (s *FileSink) Flush(ctx context.Context, outcomes []lookup.Outcome) error {
	if err := s.WriterSink.Flush(ctx, outcomes); err != nil {
		return err
	}
	if s.sync {
		if err := s.file.Sync(); err != nil {
			WriteErrors.WithLabelValues(s.kind).Inc()
			return fmt.Errorf("sync output: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	flushErr := s.WriterSink.Close()
	closeErr := s.file.Close()
	return errors.Join(flushErr, closeErr)
}

// Path returns the output file name.
func (s *FileSink) Path() string {
	return s.file.Name()
}

// MultiSink fans each batch out to several sinks in order.
type MultiSink struct {
	sinks []Sink
}

// Multi returns a sink that flushes to every sink in order and stops at the
// first error.
func Multi(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Flush flushes to each sink in order.
func (m *MultiSink) Flush(ctx context.Context, outcomes []lookup.Outcome) error {
	for _, s := range m.sinks {
		if err := s.Flush(ctx, outcomes); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
