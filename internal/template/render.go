package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"campaign-gateway/internal/types"
)

var placeholderRe = regexp.MustCompile(`\{\{(\d+)\}\}`)

// CountPlaceholders returns the number of distinct {{n}} placeholders in body.
// Indices must be 1-based and contiguous: {{1}}..{{n}} with no gaps.
func CountPlaceholders(body string) (int, error) {
	matches := placeholderRe.FindAllStringSubmatch(body, -1)
	seen := map[int]bool{}
	for _, m := range matches {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 {
			return 0, types.NewValidationError(fmt.Sprintf("invalid placeholder {{%s}}: indices start at 1", m[1]))
		}
		seen[idx] = true
	}
	if len(seen) == 0 {
		return 0, nil
	}
	indices := make([]int, 0, len(seen))
	for idx := range seen {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i+1 {
			return 0, types.NewValidationError(fmt.Sprintf("placeholder indices must be contiguous from 1, missing {{%d}}", i+1))
		}
	}
	return len(indices), nil
}

// DefaultVariableNames generates var1..varN for templates created without
// explicit variable names.
func DefaultVariableNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("var%d", i+1)
	}
	return names
}

// Render substitutes each {{i}} placeholder with the value supplied for the
// variable at position i-1 of varNames. A variable without a supplied value
// keeps its literal placeholder text. A key in values that is not a known
// variable name is a validation error.
func Render(text string, varNames []string, values map[string]string) (string, error) {
	known := make(map[string]bool, len(varNames))
	for _, name := range varNames {
		known[name] = true
	}
	for key := range values {
		if !known[key] {
			return "", types.NewValidationError(fmt.Sprintf("unknown template variable %q", key))
		}
	}

	out := placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(placeholderRe.FindStringSubmatch(match)[1])
		if err != nil || idx < 1 || idx > len(varNames) {
			return match
		}
		value, ok := values[varNames[idx-1]]
		if !ok {
			return match
		}
		return value
	})
	return out, nil
}
