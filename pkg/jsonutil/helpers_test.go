package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsMarkupCharacters(t *testing.T) {
	b, err := Marshal(map[string]any{"expr": "a < b && c > d"})
	require.NoError(t, err)
	assert.Equal(t, `{"expr":"a < b && c > d"}`, string(b))
}

func TestMarshalSortsMapKeys(t *testing.T) {
	assert.Equal(t, `{"a":1,"b":[true,null]}`, MustMarshal(map[string]any{"b": []any{true, nil}, "a": 1}))
}

func TestMarshalRejectsUnencodable(t *testing.T) {
	_, err := Marshal(func() {})
	assert.Error(t, err)
}

func TestPrettyJSON(t *testing.T) {
	assert.Equal(t, "{\n  \"a\": 1\n}", PrettyJSON(`{"a":1}`))
	assert.Equal(t, "not json", PrettyJSON("not json"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abcdefg...", TruncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}
