package canon

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/roach88/stepflow/internal/fault"
)

// Decode parses JSON into the value shapes Marshal accepts: map[string]any,
// []any, string, int64, float64, bool, nil. Duplicate object keys are
// rejected with canonicalization_error; numbers written without a fraction or
// exponent decode as int64 so that Marshal(Decode(x)) round-trips without a
// float detour. Any other number (such as 2.0 or 1e3) decodes as float64.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	// Trailing content after the first value is not a single JSON document.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fault.New(fault.CodeCanonicalization, "trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fault.New(fault.CodeCanonicalization, "invalid JSON: %v", err)
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (any, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObjectBody(dec)
		case '[':
			return decodeArrayBody(dec)
		}
		return nil, fault.New(fault.CodeCanonicalization, "unexpected delimiter %q", t.String())
	case string:
		return t, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	case json.Number:
		return decodeNumber(t)
	default:
		return nil, fault.New(fault.CodeCanonicalization, "unexpected token %v", tok)
	}
}

func decodeObjectBody(dec *json.Decoder) (map[string]any, error) {
	obj := make(map[string]any)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fault.New(fault.CodeCanonicalization, "invalid JSON object: %v", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fault.New(fault.CodeCanonicalization, "object key must be a string, got %v", keyTok)
		}
		if _, exists := obj[key]; exists {
			return nil, fault.New(fault.CodeCanonicalization, "duplicate object key %q", key)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj[key] = val
	}
	// Consume closing brace.
	if _, err := dec.Token(); err != nil {
		return nil, fault.New(fault.CodeCanonicalization, "unterminated JSON object: %v", err)
	}
	return obj, nil
}

func decodeArrayBody(dec *json.Decoder) ([]any, error) {
	arr := []any{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fault.New(fault.CodeCanonicalization, "unterminated JSON array: %v", err)
	}
	return arr, nil
}

func decodeNumber(n json.Number) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		i, err := n.Int64()
		if err != nil {
			return nil, fault.New(fault.CodeCanonicalization, "integer out of range: %s", s)
		}
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fault.New(fault.CodeCanonicalization, "invalid number: %s", s)
	}
	return f, nil
}

// Recode decodes data and re-encodes it canonically. Used to check the
// idempotence property Marshal(Decode(x)) == Marshal(Decode(Marshal(Decode(x)))).
func Recode(data []byte) ([]byte, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Marshal(v)
}
