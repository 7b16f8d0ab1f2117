package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeJSON decodes a response body into generic values. Numbers are kept
// as json.Number so large identifiers survive until coercion. An empty body
// decodes to nil.
func DecodeJSON(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json response: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode json response: trailing data after top-level value")
	}
	return v, nil
}
