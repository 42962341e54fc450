package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Canonicalize re-encodes a JSON object with sorted keys, no insignificant
// whitespace and numbers kept verbatim, so two deliveries of the same event
// hash identically regardless of the sender's field order.
func Canonicalize(payload []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode payload: trailing data after JSON object")
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, errors.New("decode payload: expected a JSON object")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
