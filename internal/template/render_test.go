package template

import (
	"testing"

	"campaign-gateway/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountPlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"no placeholders", "hello there", 0, false},
		{"single", "hi {{1}}", 1, false},
		{"repeated index counts once", "hi {{1}}, really {{1}}", 1, false},
		{"three contiguous", "{{1}} {{2}} {{3}}", 3, false},
		{"out of order still valid", "{{3}} then {{1}} then {{2}}", 3, false},
		{"gap", "{{1}} and {{3}}", 0, true},
		{"zero index", "{{0}}", 0, true},
		{"does not start at one", "{{2}}", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CountPlaceholders(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, types.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderSubstitution(t *testing.T) {
	names := []string{"first_name", "code"}
	out, err := Render("Hi {{1}}, your code is {{2}}", names, map[string]string{
		"first_name": "Ada",
		"code":       "1234",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, your code is 1234", out)
}

func TestRenderMissingValueKeepsPlaceholder(t *testing.T) {
	names := []string{"first_name", "code"}
	out, err := Render("Hi {{1}}, your code is {{2}}", names, map[string]string{
		"first_name": "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada, your code is {{2}}", out)
}

func TestRenderUnknownVariableName(t *testing.T) {
	_, err := Render("Hi {{1}}", []string{"first_name"}, map[string]string{
		"nickname": "Ada",
	})
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
}

func TestRenderIdempotent(t *testing.T) {
	names := []string{"a", "b"}
	values := map[string]string{"a": "x", "b": "y"}
	first, err := Render("{{1}}-{{2}}-{{1}}", names, values)
	require.NoError(t, err)
	second, err := Render("{{1}}-{{2}}-{{1}}", names, values)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "x-y-x", first)
}

func TestRenderOutOfRangeIndexLeftVerbatim(t *testing.T) {
	out, err := Render("Hi {{1}} {{5}}", []string{"name"}, map[string]string{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada {{5}}", out)
}
