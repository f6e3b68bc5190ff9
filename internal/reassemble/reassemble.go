// Package reassemble maps a batch's translated text back onto the entries
// the batch was built from.
package reassemble

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mgpai22/sublingo/internal/group"
	"github.com/mgpai22/sublingo/internal/subtitle"
)

// AlignmentError means the model did not return exactly one segment per
// entry. Align still returns usable segments alongside it.
type AlignmentError struct {
	Batch    int
	Expected int
	Got      int
	Missing  []int
	Extra    []int
}

func (e *AlignmentError) Error() string {
	msg := fmt.Sprintf("batch %d: expected %d segments, got %d", e.Batch, e.Expected, e.Got)
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(", missing %v", e.Missing)
	}
	if len(e.Extra) > 0 {
		msg += fmt.Sprintf(", unexpected %v", e.Extra)
	}
	return msg
}

var (
	// a marker at the start of a line, optionally behind a list bullet:
	// [12]  【12】  (12)  12.  12:
	lineMarkerRe = regexp.MustCompile(
		`^\s*(?:[-*•]\s*)?(?:\[(\d+)\]|【(\d+)】|\((\d+)\)|(\d+)(?:[.:](?:\s|$)|[：、]))\s*(.*)$`,
	)
	// bracket markers that were run together on one line
	inlineMarkerRe = regexp.MustCompile(`\s*\[(\d+)\]`)
	anyMarkerRe    = regexp.MustCompile(`\[\d+\]|【\d+】`)
	groupLineRe    = regexp.MustCompile(`^\[GROUP (?:START|END)\]$`)
)

type segment struct {
	index int
	text  string
}

// ParseSegments reads numbered segments out of a model response. Lines
// before the first marker and code fences are ignored; a line without a
// marker continues the previous segment. A repeated marker is joined onto
// its first occurrence.
func ParseSegments(text string) map[int]string {
	out := make(map[int]string)
	for _, seg := range parseOrdered(text) {
		if prev, ok := out[seg.index]; ok && prev != "" {
			out[seg.index] = prev + " " + seg.text
			continue
		}
		out[seg.index] = seg.text
	}
	return out
}

func parseOrdered(text string) []segment {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = splitInlineMarkers(text)

	var segs []segment
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || isGroupLine(trimmed) {
			continue
		}

		if m := lineMarkerRe.FindStringSubmatch(line); m != nil {
			index, err := strconv.Atoi(firstNonEmpty(m[1], m[2], m[3], m[4]))
			if err == nil {
				segs = append(segs, segment{index: index, text: strings.TrimSpace(m[5])})
				continue
			}
		}

		if len(segs) == 0 || trimmed == "" {
			continue
		}
		last := &segs[len(segs)-1]
		if last.text == "" {
			last.text = trimmed
		} else {
			last.text += "\n" + trimmed
		}
	}
	return segs
}

// puts every "[n]" that follows other text on a line of its own
func splitInlineMarkers(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		locs := inlineMarkerRe.FindAllStringIndex(line, -1)
		if len(locs) < 2 && (len(locs) == 0 || blankPrefix(line[:locs[0][0]])) {
			continue
		}
		var sb strings.Builder
		prev := 0
		for _, loc := range locs {
			if prev > 0 || !blankPrefix(line[:loc[0]]) {
				sb.WriteString(line[prev:loc[0]])
				sb.WriteByte('\n')
			}
			sb.WriteString(strings.TrimSpace(line[loc[0]:loc[1]]))
			prev = loc[1]
		}
		sb.WriteString(line[prev:])
		lines[i] = sb.String()
	}
	return strings.Join(lines, "\n")
}

// sentence delimiters echoed back from the prompt
func isGroupLine(s string) bool {
	return groupLineRe.MatchString(strings.ToUpper(s))
}

func blankPrefix(s string) bool {
	return strings.Trim(s, " \t-*•") == ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Align splits translated into exactly one segment per batch entry.
//
// When every expected marker is present exactly once the split is exact.
// Otherwise an *AlignmentError is returned together with a best-effort
// result: markers taken in order when the count is right but the numbers
// are not, else a split proportional to the source entries' lengths. A
// marker with no text after it is treated as missing.
func Align(b group.Batch, translated string) ([]string, error) {
	expected := b.Indices()
	segs := parseOrdered(translated)
	found := ParseSegments(translated)

	alignErr := &AlignmentError{
		Batch:    b.Index,
		Expected: len(expected),
		Got:      len(segs),
	}
	want := make(map[int]bool, len(expected))
	for _, index := range expected {
		want[index] = true
		// a marker echoed without any text counts as missing
		if text, ok := found[index]; !ok || strings.TrimSpace(text) == "" {
			alignErr.Missing = append(alignErr.Missing, index)
		}
	}
	seen := make(map[int]bool, len(segs))
	blank := false
	for _, seg := range segs {
		if !want[seg.index] || seen[seg.index] {
			alignErr.Extra = append(alignErr.Extra, seg.index)
		}
		seen[seg.index] = true
		if strings.TrimSpace(seg.text) == "" {
			blank = true
		}
	}

	if len(alignErr.Missing) == 0 && len(alignErr.Extra) == 0 {
		out := make([]string, len(expected))
		for i, index := range expected {
			out[i] = found[index]
		}
		return out, nil
	}

	if len(segs) == len(expected) && !blank {
		out := make([]string, len(segs))
		for i, seg := range segs {
			out[i] = seg.text
		}
		return out, alignErr
	}

	weights := make([]int, len(b.Entries))
	for i, entry := range b.Entries {
		weights[i] = utf8.RuneCountInString(subtitle.Flatten(entry.Text))
	}
	return ProportionalSplit(StripMarkers(translated), weights), alignErr
}

// StripMarkers removes segment markers and code fences, leaving the bare
// translated text on one line.
func StripMarkers(text string) string {
	var parts []string
	for _, seg := range parseOrdered(text) {
		if seg.text != "" {
			parts = append(parts, seg.text)
		}
	}
	if len(parts) == 0 {
		var lines []string
		for _, line := range strings.Split(text, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "```") || isGroupLine(trimmed) {
				continue
			}
			lines = append(lines, line)
		}
		parts = []string{anyMarkerRe.ReplaceAllString(strings.Join(lines, " "), " ")}
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// ProportionalSplit cuts text into len(weights) pieces whose lengths follow
// weights. Cut points are rounded from the cumulative weight and then moved
// to the nearest space or punctuation mark close by. The result always has
// exactly len(weights) elements; some may be empty.
func ProportionalSplit(text string, weights []int) []string {
	n := len(weights)
	if n == 0 {
		return nil
	}
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if n == 1 {
		return []string{string(runes)}
	}

	total := 0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		weights = make([]int, n)
		for i := range weights {
			weights[i] = 1
		}
		total = n
	}

	length := len(runes)
	window := length / (4 * n)
	if window < 2 {
		window = 2
	}

	cuts := make([]int, n+1)
	cuts[n] = length
	cum := 0
	for k := 1; k < n; k++ {
		if weights[k-1] > 0 {
			cum += weights[k-1]
		}
		ideal := int(math.Round(float64(length) * float64(cum) / float64(total)))
		cut := snapCut(runes, ideal, window)
		if cut < cuts[k-1] {
			cut = cuts[k-1]
		}
		cuts[k] = cut
	}

	out := make([]string, n)
	for k := 0; k < n; k++ {
		out[k] = strings.TrimSpace(string(runes[cuts[k]:cuts[k+1]]))
	}
	return out
}

// moves a cut to the closest natural break within window runes
func snapCut(runes []rune, ideal, window int) int {
	if ideal <= 0 || ideal >= len(runes) {
		return max(0, min(ideal, len(runes)))
	}
	for d := 0; d <= window; d++ {
		for _, pos := range []int{ideal - d, ideal + d} {
			if pos <= 0 || pos >= len(runes) {
				continue
			}
			if isBreakBefore(runes, pos) {
				return pos
			}
		}
	}
	return ideal
}

// a cut at pos is natural when it lands on a space or right after
// punctuation
func isBreakBefore(runes []rune, pos int) bool {
	if unicode.IsSpace(runes[pos]) {
		return true
	}
	prev := runes[pos-1]
	if prev == '\'' || prev == '’' || prev == '-' {
		return false
	}
	return unicode.IsPunct(prev) && !unicode.IsPunct(runes[pos])
}

// Apply writes one translated segment into each entry of the batch. The
// batch shares its entries with the job, so this updates the job.
func Apply(b group.Batch, segments []string) {
	for i := range b.Entries {
		if i < len(segments) {
			b.Entries[i].Translation = segments[i]
		}
	}
}
