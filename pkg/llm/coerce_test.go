package llm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"verbatim object", `{"a": 1}`, `{"a": 1}`, false},
		{"verbatim array with whitespace", "  [1, 2]\n", `[1, 2]`, false},
		{"json fence", "Here you go:\n```json\n{\"a\": 1}\n```\nThanks", `{"a": 1}`, false},
		{"plain fence", "```\n[{\"name\": \"Ada\"}]\n```", `[{"name": "Ada"}]`, false},
		{"prose around array", `The characters are [{"name":"Ada"}] as requested.`, `[{"name":"Ada"}]`, false},
		{"prose around object", `Sure! {"mood": "dark"} Hope that helps.`, `{"mood": "dark"}`, false},
		{"array before object wins", `list: [{"a":1},{"b":2}] end`, `[{"a":1},{"b":2}]`, false},
		{"no json", "I cannot help with that.", "", true},
		{"broken json", `{"a": 1`, "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedOutput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_FenceIdempotent(t *testing.T) {
	doc := `{"genre": ["gothic"], "mood": "bleak"}`
	fencedDoc := "```json\n" + doc + "\n```"

	a, err := Coerce(doc)
	require.NoError(t, err)
	b, err := Coerce(fencedDoc)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Coerce(b)
	require.NoError(t, err)
	assert.Equal(t, b, c)
}

func TestCoerce_ErrorPreviewIsBounded(t *testing.T) {
	raw := strings.Repeat("z", 2000)
	_, err := Coerce(raw)
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 700)
}

func TestDecode(t *testing.T) {
	var out struct {
		Mood string `json:"mood"`
	}
	require.NoError(t, Decode("```json\n{\"mood\": \"tense\"}\n```", &out))
	assert.Equal(t, "tense", out.Mood)

	var wrongShape []string
	err := Decode(`{"mood": "tense"}`, &wrongShape)
	assert.True(t, errors.Is(err, ErrMalformedOutput))
}
