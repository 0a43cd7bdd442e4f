// Package sink persists lookup outcomes as append-only records.
//
// Only outcomes that were found and carry a non-empty value produce a
// record. Each record is one line in the configured Format.
package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/bulk-lookup/pkg/lookup"
	json "github.com/goccy/go-json"
)

// ErrInvalidFormat is returned by ParseFormat for unknown format names.
var ErrInvalidFormat = errors.New("invalid record format")

// Format selects how an outcome is rendered as a record.
type Format string

const (
	// FormatKeyValue writes "key,value".
	FormatKeyValue Format = "csv"

	// FormatValue writes the value alone, without the key.
	FormatValue Format = "value"

	// FormatJSONLines writes {"key":...,"value":...}.
	FormatJSONLines Format = "jsonl"
)

// ParseFormat converts a configured name to a Format. Empty means FormatKeyValue.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatKeyValue:
		return FormatKeyValue, nil
	case FormatValue:
		return FormatValue, nil
	case FormatJSONLines, "json":
		return FormatJSONLines, nil
	default:
		return "", fmt.Errorf("%w: %q (want csv, value or jsonl)", ErrInvalidFormat, name)
	}
}

type jsonRecord struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record renders o without the trailing newline.
func (f Format) Record(o lookup.Outcome) ([]byte, error) {
	switch f {
	case FormatValue:
		return []byte(o.Value), nil
	case FormatJSONLines:
		data, err := json.Marshal(jsonRecord{Key: o.Key, Value: o.Value})
		if err != nil {
			return nil, fmt.Errorf("encode record for %s: %w", o.Key, err)
		}
		return data, nil
	case FormatKeyValue, "":
		return []byte(o.Key + "," + o.Value), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, string(f))
	}
}

// Records renders every outcome of a batch that should be persisted.
func (f Format) Records(outcomes []lookup.Outcome) ([][]byte, error) {
	records := make([][]byte, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.HasRecord() {
			continue
		}
		rec, err := f.Record(o)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
