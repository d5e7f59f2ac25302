// Package preview abbreviates long text, such as compiler logs, to a head and tail
// of bounded line count and width.
package preview

import (
	"strings"
)

// TruncationMarker separates the retained head from the retained tail.
const TruncationMarker = "... extra data truncated ...\n"

// Generator keeps the first maxLength*ratio lines and the remaining budget from the end.
type Generator struct {
	maxWidth     int
	cutFromStart int
	cutFromEnd   int
}

func NewGenerator(maxWidth, maxLength int, startEndRatio float64) *Generator {
	if maxWidth < 1 {
		maxWidth = 1
	}
	if maxLength < 0 {
		maxLength = 0
	}
	cutFromStart := int(float64(maxLength) * startEndRatio)
	return &Generator{
		maxWidth:     maxWidth,
		cutFromStart: cutFromStart,
		cutFromEnd:   maxLength - cutFromStart,
	}
}

// FromText returns the preview of text. Every output line ends in a newline.
func (g *Generator) FromText(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var b strings.Builder
	for _, line := range g.cut(lines) {
		g.writeWrapped(&b, line)
	}
	return b.String()
}

func (g *Generator) cut(lines []string) []string {
	if len(lines) < g.cutFromStart+g.cutFromEnd {
		return lines
	}
	cut := append([]string(nil), lines[:g.cutFromStart]...)
	if g.cutFromEnd > 0 {
		cut = append(cut, strings.TrimSuffix(TruncationMarker, "\n"))
		cut = append(cut, lines[len(lines)-g.cutFromEnd:]...)
	}
	return cut
}

func (g *Generator) writeWrapped(b *strings.Builder, line string) {
	for len(line) > g.maxWidth {
		b.WriteString(line[:g.maxWidth])
		b.WriteByte('\n')
		line = line[g.maxWidth:]
	}
	b.WriteString(line)
	b.WriteByte('\n')
}
