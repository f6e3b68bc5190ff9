package subtitle

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxCharsPerLine is the conventional subtitle line length.
const DefaultMaxCharsPerLine = 42

// Wrap formats text for display as at most two lines, breaking at the word
// boundary closest to the middle. Text that already fits, already spans
// several lines or has no spaces (CJK) is returned unchanged.
func Wrap(text string, maxPerLine int) string {
	text = strings.TrimSpace(text)
	if maxPerLine <= 0 {
		maxPerLine = DefaultMaxCharsPerLine
	}
	if strings.Contains(text, "\n") {
		return text
	}

	runeCount := utf8.RuneCountInString(text)
	// if text fits on one line, return as is
	if runeCount <= maxPerLine {
		return text
	}

	words := strings.Fields(text)
	if len(words) < 2 {
		return text
	}

	// find the best split point (closest to middle)
	middle := runeCount / 2
	bestSplit := 0
	bestDiff := runeCount

	currentLen := 0
	for i, word := range words[:len(words)-1] {
		currentLen += utf8.RuneCountInString(word)
		if i > 0 {
			currentLen++ // space
		}

		diff := abs(currentLen - middle)
		if diff < bestDiff {
			bestDiff = diff
			bestSplit = i + 1
		}
	}

	if bestSplit > 0 && bestSplit < len(words) {
		line1 := strings.Join(words[:bestSplit], " ")
		line2 := strings.Join(words[bestSplit:], " ")
		return line1 + "\n" + line2
	}

	return text
}

// Flatten joins the display lines of an entry into one line of text.
func Flatten(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
