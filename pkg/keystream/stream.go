// Package keystream reads lookup keys lazily from a delimited text source.
//
// A Stream yields one key per call to Next and never holds more than the
// current record in memory, so inputs of any size can be processed:
//
//	stream, err := keystream.Open("addresses.txt")
//	if err != nil {
//		return err // input unreadable, nothing was fetched
//	}
//	defer stream.Close()
//
//	for {
//		key, err := stream.Next()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package keystream

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("key stream closed")

// Stream is a single-pass iterator over the keys of an input source.
// It is not safe for concurrent use.
type Stream struct {
	reader *csv.Reader
	closer io.Closer
	logger zerolog.Logger

	count   int
	skipped int
	line    int
	closed  bool
}

// Open opens the file at path for streaming.
// A missing or unreadable file is reported here, before any key is read.
func Open(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key source: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat key source: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open key source: %s is a directory", path)
	}

	s := New(f)
	s.closer = f
	s.logger = s.logger.With().Str("source", path).Logger()
	return s, nil
}

// New returns a Stream reading records from r.
func New(r io.Reader) *Stream {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	return &Stream{
		reader: reader,
		logger: log.With().Str("component", "keystream").Logger(),
	}
}

// Next returns the next key, trimmed of surrounding whitespace.
// The first field of each record is the key; records whose first field is
// blank are skipped. Next returns io.EOF once the source is exhausted.
func (s *Stream) Next() (string, error) {
	if s.closed {
		return "", ErrClosed
	}

	for {
		record, err := s.reader.Read()
		if err == io.EOF {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("read key record: %w", err)
		}
		s.line, _ = s.reader.FieldPos(0)

		key := strings.TrimSpace(record[0])
		if key == "" {
			s.skipped++
			s.logger.Debug().Int("line", s.line).Msg("Skipping record with empty key")
			continue
		}

		s.count++
		return key, nil
	}
}

// Count returns the number of keys yielded so far.
func (s *Stream) Count() int {
	return s.count
}

// Skipped returns the number of records dropped for having an empty key.
func (s *Stream) Skipped() int {
	return s.skipped
}

// Line returns the input line of the last record read.
func (s *Stream) Line() int {
	return s.line
}

// Close releases the underlying file, if the stream owns one.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
