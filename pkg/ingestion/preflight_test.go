package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesignPreflight_Applies(t *testing.T) {
	p := NewDesignPreflight()
	assert.True(t, p.Applies("data/designs/a.json"))
	assert.True(t, p.Applies("A.JSON"))
	assert.False(t, p.Applies("data/prds/a.md"))
}

func TestDesignPreflight_Check(t *testing.T) {
	p := NewDesignPreflight()
	ctx := context.Background()

	valid := []string{
		`{"screen": "checkout", "fields": [1, 2.5, true, null, {"nested": "x"}]}`,
		`[{"a": 1}, {"b": 2}]`,
		"{\n  \"multi\": \"line\"\n}\n",
	}
	for _, doc := range valid {
		warning, err := p.Check(ctx, []byte(doc))
		require.NoError(t, err)
		assert.Empty(t, warning, doc)
	}

	warning, err := p.Check(ctx, []byte("{\n  \"screen\": \"checkout\"\n"))
	require.NoError(t, err)
	assert.Contains(t, warning, "syntax error")

	warning, err = p.Check(ctx, []byte("   \n"))
	require.NoError(t, err)
	assert.Equal(t, "design document is empty", warning)

	warning, err = p.Check(ctx, []byte("1)(2"))
	require.NoError(t, err)
	assert.Contains(t, warning, "content outside the top-level value")
}

func TestDesignPreflight_RejectsJavaScriptOnlySyntax(t *testing.T) {
	p := NewDesignPreflight()
	ctx := context.Background()

	tests := []struct {
		doc    string
		reason string
	}{
		{`{a: 1}`, "unquoted key"},
		{`{'b': 'x',}`, "single-quoted string"},
		{`{"b": "x",}`, "trailing comma"},
		{`[1, 2,]`, "trailing comma"},
		{`[1,,2]`, "empty element"},
		{`{"a": undefined}`, ""},
		{`{"a": b}`, "bare identifier"},
		{"{\"a\": `x`}", "template string"},
		{`{"a": 1 /* note */}`, "comment"},
		{`{"a": 0x1F}`, "invalid number"},
		{`[.5]`, "invalid number"},
		{`{"a": -1, "b": 1e3}`, "-"},
		{`"tab\x41"`, "invalid string escape"},
		{`1, 2`, "sequence expression"},
	}
	for _, tt := range tests {
		t.Run(tt.doc, func(t *testing.T) {
			warning, err := p.Check(ctx, []byte(tt.doc))
			require.NoError(t, err)
			if tt.reason == "-" {
				assert.Empty(t, warning)
				return
			}
			assert.Contains(t, warning, "not valid JSON")
			assert.Contains(t, warning, tt.reason)
		})
	}
}
