// Package canon implements json-c14n-v1, the byte-unique JSON encoding used
// for every hash in the system.
//
// Rules:
//  1. UTF-8 output, no whitespace between tokens.
//  2. Object keys sorted lexicographically by raw byte order; duplicate keys
//     rejected.
//  3. Array order preserved.
//  4. Strings escaped per JSON with short escapes for \" \\ \b \f \n \r \t
//     and \u00XX (lowercase hex) for remaining control codes; all other
//     characters pass through as raw UTF-8.
//  5. Integers emitted with no fractional part; non-finite floats rejected;
//     finite floats emitted in shortest round-trip form.
//  6. Booleans and null in canonical lowercase.
//
// Marshal is the ONLY serialization allowed for hashing. Encoding a value any
// other way and hashing it is a bug.
package canon

import (
	"bytes"
	"math"
	"sort"
	"strconv"

	"github.com/roach88/stepflow/internal/fault"
)

// Valuer lets domain types supply their canonical projection.
// Implemented by artifact variants so typed records encode without
// reflection.
type Valuer interface {
	CanonicalValue() any
}

// Marshal encodes v to its unique json-c14n-v1 byte sequence.
// Fails with canonicalization_error on unsupported types, non-finite
// numbers, or non-string map keys.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		encodeString(buf, val)
		return nil
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case uint:
		buf.WriteString(strconv.FormatUint(uint64(val), 10))
		return nil
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
		return nil
	case float32:
		return encodeFloat(buf, float64(val))
	case float64:
		return encodeFloat(buf, val)
	case []any:
		return encodeArray(buf, val)
	case []string:
		arr := make([]any, len(val))
		for i, s := range val {
			arr[i] = s
		}
		return encodeArray(buf, arr)
	case map[string]any:
		return encodeObject(buf, val)
	case Valuer:
		return encode(buf, val.CanonicalValue())
	default:
		return fault.New(fault.CodeCanonicalization, "unsupported type for canonical JSON: %T", v)
	}
}

// encodeFloat emits integral floats with no fractional part and everything
// else in shortest round-trip form. NaN and infinities are rejected.
func encodeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fault.New(fault.CodeCanonicalization, "non-finite number is not canonical: %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return nil
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	return nil
}

const hexDigits = "0123456789abcdef"

// encodeString writes a JSON string using the fixed escape table.
// Raw UTF-8 passes through; only control codes, quote, and backslash escape.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			buf.WriteString(`\"`)
		case c == '\\':
			buf.WriteString(`\\`)
		case c == '\b':
			buf.WriteString(`\b`)
		case c == '\f':
			buf.WriteString(`\f`)
		case c == '\n':
			buf.WriteString(`\n`)
		case c == '\r':
			buf.WriteString(`\r`)
		case c == '\t':
			buf.WriteString(`\t`)
		case c < 0x20:
			buf.WriteString(`\u00`)
			buf.WriteByte(hexDigits[c>>4])
			buf.WriteByte(hexDigits[c&0xf])
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte('"')
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, elem); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Go string comparison is raw byte order, which is exactly what
	// json-c14n-v1 requires.
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encode(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
