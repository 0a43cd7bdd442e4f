// Package lookup defines the data model shared by the bulk lookup pipeline:
// keys read from the input, per-key outcomes and the batches that group them.
package lookup

// Outcome is the result of one lookup attempt sequence for a key.
type Outcome struct {
	// Key is the looked-up identifier.
	Key string

	// Value is the response body. Only meaningful when Found is true.
	Value string

	// Found is true only when the endpoint answered with HTTP 200.
	// An empty Value with Found set is still a success.
	Found bool
}

// Found returns a present outcome for key.
func Found(key, value string) Outcome {
	return Outcome{Key: key, Value: value, Found: true}
}

// Missing returns an absent outcome for key.
func Missing(key string) Outcome {
	return Outcome{Key: key}
}

// HasRecord reports whether the outcome produces an output record.
// Absent outcomes and successes with an empty body are dropped at the sink.
func (o Outcome) HasRecord() bool {
	return o.Found && o.Value != ""
}

// Batch is a bounded group of keys dispatched together.
type Batch struct {
	// Seq is the 1-based position of the batch within a run.
	Seq int

	// Keys are in stream order.
	Keys []string
}

// Len returns the number of keys in the batch.
func (b Batch) Len() int {
	return len(b.Keys)
}
