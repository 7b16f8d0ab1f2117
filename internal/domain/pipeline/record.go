package pipeline

// Record is one extracted row: output field name to coerced value.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WriteStats counts the outcome of writing a batch of records.
type WriteStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// Total is the number of rows the batch contained.
func (s WriteStats) Total() int {
	return s.Inserted + s.Updated + s.Skipped
}
