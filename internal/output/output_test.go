package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainOutputHasNoEscapeCodes(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Header("Results")
	w.Successf("indexed %d chunks", 3)
	w.Warning("branch minilm failed")
	w.Error("no models available")
	w.Dim("secondary")

	out := buf.String()
	assert.NotContains(t, out, "\x1b[", "piped output must be unstyled")
	assert.Contains(t, out, "Results")
	assert.Contains(t, out, "✓ indexed 3 chunks")
	assert.Contains(t, out, "! branch minilm failed")
	assert.Contains(t, out, "✗ no models available")
}

func TestResultFormatting(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Result(1, "d1#0000", 0.03279, "# Payment Terms\n\nNet 30.\n\n\n", 3)

	out := buf.String()
	assert.Contains(t, out, "1. d1#0000 (score: 0.0328)")
	assert.Contains(t, out, "   # Payment Terms")
	// The trailing blank lines are trimmed from the snippet.
	assert.Equal(t, 1, strings.Count(out, "Net 30."))
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []string
	}{
		{"truncates", "a\nb\nc\nd", 2, []string{"a", "b"}},
		{"trims trailing blank", "a\n\n\n", 3, []string{"a"}},
		{"shorter than n", "a\nb", 5, []string{"a", "b"}},
		{"empty", "", 3, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snippet(tt.content, tt.n)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
