package media

import "strings"

// Measurer returns the rendered pixel width of a string.
type Measurer func(s string) int

// WrapText greedily packs words into lines no wider than maxWidth. Words are
// never split, so a word wider than maxWidth occupies a line of its own.
func WrapText(measure Measurer, text string, maxWidth int) []string {
	var (
		lines   []string
		current string
	)
	for _, word := range strings.Fields(text) {
		if current == "" {
			current = word
			continue
		}
		candidate := current + " " + word
		if measure(candidate) <= maxWidth {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
