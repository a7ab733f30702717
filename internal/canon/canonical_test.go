package canon

import (
	"math"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stepflow/internal/fault"
)

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	data, err := Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func TestMarshal_Primitives(t *testing.T) {
	assert.Equal(t, "null", mustMarshal(t, nil))
	assert.Equal(t, "true", mustMarshal(t, true))
	assert.Equal(t, "false", mustMarshal(t, false))
	assert.Equal(t, "42", mustMarshal(t, 42))
	assert.Equal(t, "-7", mustMarshal(t, int64(-7)))
	assert.Equal(t, `"hello"`, mustMarshal(t, "hello"))
}

func TestMarshal_KeysSortedByRawByteOrder(t *testing.T) {
	obj := map[string]any{
		"zebra": int64(1),
		"alpha": int64(2),
		"Beta":  int64(3), // uppercase sorts before lowercase in byte order
	}
	assert.Equal(t, `{"Beta":3,"alpha":2,"zebra":1}`, mustMarshal(t, obj))
}

func TestMarshal_ArrayOrderPreserved(t *testing.T) {
	arr := []any{"c", "a", "b"}
	assert.Equal(t, `["c","a","b"]`, mustMarshal(t, arr))
}

func TestMarshal_NoWhitespace(t *testing.T) {
	obj := map[string]any{"a": []any{int64(1), int64(2)}, "b": map[string]any{"c": "d"}}
	assert.Equal(t, `{"a":[1,2],"b":{"c":"d"}}`, mustMarshal(t, obj))
}

func TestMarshal_StringEscapes(t *testing.T) {
	assert.Equal(t, `"quote:\" backslash:\\"`, mustMarshal(t, `quote:" backslash:\`))
	assert.Equal(t, `"tab:\t newline:\n return:\r"`, mustMarshal(t, "tab:\t newline:\n return:\r"))
	assert.Equal(t, `"\b\f"`, mustMarshal(t, "\b\f"))
	// Remaining control codes use lowercase \u00XX.
	assert.Equal(t, `"\u0001\u001f"`, mustMarshal(t, "\x01\x1f"))
	// Non-ASCII passes through as raw UTF-8.
	assert.Equal(t, `"héllo ☃"`, mustMarshal(t, "héllo ☃"))
	// HTML characters are NOT escaped.
	assert.Equal(t, `"<a>&"`, mustMarshal(t, "<a>&"))
}

func TestMarshal_Floats(t *testing.T) {
	// Integral floats emit with no fractional part.
	assert.Equal(t, "3", mustMarshal(t, 3.0))
	assert.Equal(t, "1.5", mustMarshal(t, 1.5))

	_, err := Marshal(math.NaN())
	require.Error(t, err)
	assert.Equal(t, fault.CodeCanonicalization, fault.CodeOf(err))

	_, err = Marshal(math.Inf(1))
	require.Error(t, err)
	assert.Equal(t, fault.CodeCanonicalization, fault.CodeOf(err))
}

func TestMarshal_UnsupportedType(t *testing.T) {
	_, err := Marshal(make(chan int))
	require.Error(t, err)
	assert.Equal(t, fault.CodeCanonicalization, fault.CodeOf(err))
}

func TestMarshal_NestedUnsupportedTypeSurfaces(t *testing.T) {
	_, err := Marshal(map[string]any{"ok": int64(1), "bad": struct{}{}})
	require.Error(t, err)
	assert.Equal(t, fault.CodeCanonicalization, fault.CodeOf(err))
}

func TestDecode_DuplicateKeysRejected(t *testing.T) {
	_, err := Decode([]byte(`{"a":1,"a":2}`))
	require.Error(t, err)
	assert.Equal(t, fault.CodeCanonicalization, fault.CodeOf(err))
}

func TestDecode_IntegersStayIntegers(t *testing.T) {
	v, err := Decode([]byte(`{"n":42}`))
	require.NoError(t, err)
	obj := v.(map[string]any)
	assert.Equal(t, int64(42), obj["n"])
}

func TestDecode_TrailingDataRejected(t *testing.T) {
	_, err := Decode([]byte(`{} {}`))
	require.Error(t, err)
}

func TestRecode_Idempotent(t *testing.T) {
	inputs := []string{
		`{"b":1,"a":[true,null,"x"],"c":{"z":2,"y":3}}`,
		`[1,2,3]`,
		`"plain"`,
		`{"nested":{"deep":{"deeper":[{"k":"v"}]}}}`,
	}
	for _, input := range inputs {
		once, err := Recode([]byte(input))
		require.NoError(t, err, "input %s", input)
		twice, err := Recode(once)
		require.NoError(t, err, "input %s", input)
		assert.Equal(t, string(once), string(twice), "canonicalization must be idempotent for %s", input)
	}
}

func TestHash_StableAndLowercaseHex(t *testing.T) {
	h1, err := Hash(map[string]any{"a": int64(1)})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"a": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", h1)
}

func TestHash_KeyOrderIndependent(t *testing.T) {
	// Maps iterate in random order; the hash must not depend on it.
	obj := map[string]any{"one": int64(1), "two": int64(2), "three": int64(3)}
	base := MustHash(obj)
	for i := 0; i < 16; i++ {
		assert.Equal(t, base, MustHash(obj))
	}
}

func TestMarshal_GoldenProblemSpec(t *testing.T) {
	spec := map[string]any{
		"version":    "1.0.0",
		"id":         "req-1",
		"created_at": "2026-02-02T00:00:00Z",
		"inputs": map[string]any{
			"prompt":      "Hello world",
			"goals":       []any{"a", "b"},
			"constraints": []any{},
		},
	}
	data, err := Marshal(spec)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "problem_spec_canonical", data)
}
