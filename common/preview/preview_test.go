package preview

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func numbered(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	return b.String()
}

func TestShortTextUnchanged(t *testing.T) {
	g := NewGenerator(500, 30, 0.5)
	text := numbered(29)
	assert.Equal(t, text, g.FromText(text))
}

func TestMissingFinalNewlineKeepsLastLine(t *testing.T) {
	g := NewGenerator(500, 30, 0.5)
	assert.Equal(t, "compiling\nsyntax error at line 7\n", g.FromText("compiling\nsyntax error at line 7"))
}

func TestHeadAndTailRetained(t *testing.T) {
	g := NewGenerator(500, 4, 0.5)
	got := g.FromText(numbered(10))
	assert.Equal(t, "line 1\nline 2\n"+TruncationMarker+"line 9\nline 10\n", got)
}

func TestRatioOfOneKeepsOnlyHead(t *testing.T) {
	g := NewGenerator(500, 3, 1)
	assert.Equal(t, "line 1\nline 2\nline 3\n", g.FromText(numbered(10)))
}

func TestLongLinesWrapped(t *testing.T) {
	g := NewGenerator(4, 30, 0.5)
	assert.Equal(t, "abcd\nefgh\nij\n", g.FromText("abcdefghij\n"))
}

func TestPreviewBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("preview never exceeds the line budget", prop.ForAll(
		func(lineCount, maxLength int) bool {
			g := NewGenerator(1000, maxLength, 0.5)
			out := g.FromText(numbered(lineCount))
			got := strings.Count(out, "\n")
			if lineCount < maxLength {
				return got == lineCount
			}
			return got <= maxLength+1
		},
		gen.IntRange(0, 200),
		gen.IntRange(1, 60),
	))

	properties.Property("no preview line is wider than the width budget", prop.ForAll(
		func(text string, width int) bool {
			g := NewGenerator(width, 30, 0.5)
			for _, line := range strings.Split(g.FromText(text), "\n") {
				if len(line) > width {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
