package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{
			name: "direct",
			in:   `{"entities":[]}`,
			want: map[string]any{"entities": []any{}},
		},
		{
			name: "fenced block with prose around it",
			in:   "prefix text ```json\n[{\"name\":\"X\"}]\n``` suffix",
			want: []any{map[string]any{"name": "X"}},
		},
		{
			name: "bare fence",
			in:   "```\n{\"a\":1}\n```",
			want: map[string]any{"a": float64(1)},
		},
		{
			name: "embedded list",
			in:   `Sure! Here you go: [{"name":"Acme"}] hope that helps`,
			want: []any{map[string]any{"name": "Acme"}},
		},
		{
			name: "embedded object",
			in:   `Result: {"name":"Acme"}.`,
			want: map[string]any{"name": "Acme"},
		},
		{
			name: "trailing bracket noise falls back to balanced span",
			in:   `{"name":"Acme"} and then a stray ] bracket }`,
			want: map[string]any{"name": "Acme"},
		},
		{
			name: "no json at all",
			in:   "I could not find any entities.",
			want: []any{},
		},
		{
			name: "empty",
			in:   "",
			want: []any{},
		},
		{
			name: "broken json",
			in:   `[{"name": "X"`,
			want: []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Equal(t, tt.want, ParseJSON(tt.in))
			})
		})
	}
}

func TestListField(t *testing.T) {
	list := []any{"a"}
	assert.Equal(t, list, listField(list, "entities"))
	assert.Equal(t, list, listField(map[string]any{"entities": list}, "entities"))
	assert.Nil(t, listField(map[string]any{"other": list}, "entities"))
	assert.Nil(t, listField("text", "entities"))
}
