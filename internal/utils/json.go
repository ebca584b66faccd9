package utils

import (
	"bytes"
	"encoding/json"
)

// MarshalNoEscape marshals JSON without HTML escaping, so model output such
// as "<" or "&" reaches clients unchanged.
func MarshalNoEscape(v any) ([]byte, error) {
	line, err := MarshalLine(v)
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(line, []byte{'\n'}), nil
}

// MarshalLine marshals v as one newline-terminated JSON line (JSONL record).
func MarshalLine(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
