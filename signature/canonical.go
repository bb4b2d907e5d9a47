package signature

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Canonicalize encodes v as canonical JSON: object keys sorted, no
// insignificant whitespace and no HTML escaping. A []byte or
// json.RawMessage is treated as already-encoded JSON and normalized, so
// two encodings of the same document produce the same bytes. Numbers are
// written in one form per value: 1, 1.0 and 1e0 all become 1. Integers
// that fit 64 bits keep every digit; other numbers go through float64.
func Canonicalize(v any) ([]byte, error) {
	var raw []byte

	switch p := v.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := marshal(v)
		if err != nil {
			return nil, fmt.Errorf("signature: encode payload: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("signature: decode payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("signature: trailing data after JSON document")
	}

	out, err := marshal(normalizeNumbers(doc))
	if err != nil {
		return nil, fmt.Errorf("signature: encode payload: %w", err)
	}

	return out, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	case json.Number:
		return json.Number(canonicalNumber(string(t)))
	}
	return v
}

func canonicalNumber(s string) string {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(n, 10)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Out of float64 range; nothing better than the literal.
		return s
	}
	if f == 0 {
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// marshal is json.Marshal without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
