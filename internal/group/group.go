// Package group merges adjacent subtitle entries into context batches that
// are translated with a single model call.
package group

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/mgpai22/sublingo/internal/subtitle"
)

// Options controls batch size and where batches prefer to end.
type Options struct {
	// MaxChars is the character budget of one batch's source text.
	MaxChars int
	// A pause longer than GapThreshold between two entries is a preferred
	// break point.
	GapThreshold time.Duration
	// A pause of at least SceneBreakGap is a hard break that no batch may
	// span. Zero disables scene detection.
	SceneBreakGap time.Duration
}

// Batch is a contiguous run of entries translated together. Entries is a
// view into the job's entry slice, not a copy.
type Batch struct {
	Index   int
	Offset  int
	Entries []subtitle.Entry
}

func (b Batch) Len() int {
	return len(b.Entries)
}

// Chars is the number of characters counted against the budget.
func (b Batch) Chars() int {
	n := 0
	for _, entry := range b.Entries {
		n += entryChars(entry)
	}
	return n
}

// FirstIndex and LastIndex are the cue indices covered by the batch.
func (b Batch) FirstIndex() int {
	if len(b.Entries) == 0 {
		return 0
	}
	return b.Entries[0].Index
}

func (b Batch) LastIndex() int {
	if len(b.Entries) == 0 {
		return 0
	}
	return b.Entries[len(b.Entries)-1].Index
}

// Indices lists the cue indices in order; they are the markers the model
// must echo back.
func (b Batch) Indices() []int {
	out := make([]int, len(b.Entries))
	for i, entry := range b.Entries {
		out[i] = entry.Index
	}
	return out
}

// Sentences splits the batch after every entry that ends a sentence. The
// final run is kept even when its last entry does not.
func (b Batch) Sentences() [][]subtitle.Entry {
	var out [][]subtitle.Entry
	from := 0
	for i, entry := range b.Entries {
		if EndsSentence(entry.Text) || i == len(b.Entries)-1 {
			out = append(out, b.Entries[from:i+1:i+1])
			from = i + 1
		}
	}
	return out
}

// SourceText renders the batch for the prompt. Each sentence is wrapped in
// GroupStart/GroupEnd lines and holds one "[index] text" line per entry,
// with the entry's own line breaks folded into spaces.
func (b Batch) SourceText() string {
	var sb strings.Builder
	for _, sentence := range b.Sentences() {
		sb.WriteString(GroupStart)
		sb.WriteByte('\n')
		for _, entry := range sentence {
			sb.WriteString(Marker(entry.Index))
			sb.WriteByte(' ')
			sb.WriteString(subtitle.Flatten(entry.Text))
			sb.WriteByte('\n')
		}
		sb.WriteString(GroupEnd)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// delimiters around one sentence inside a batch
const (
	GroupStart = "[GROUP START]"
	GroupEnd   = "[GROUP END]"
)

// Marker is the inline delimiter identifying one entry in a batch.
func Marker(index int) string {
	return fmt.Sprintf("[%d]", index)
}

// Group partitions entries into batches. It accumulates greedily and, when
// the next entry would overflow the budget, closes the batch at the last
// preferred break seen (sentence end, long pause) or else right there. An
// entry that alone exceeds the budget becomes its own batch.
func Group(entries []subtitle.Entry, opts Options) []Batch {
	if len(entries) == 0 {
		return nil
	}

	var batches []Batch
	emit := func(from, to int) {
		batches = append(batches, Batch{
			Index:   len(batches),
			Offset:  from,
			Entries: entries[from:to:to],
		})
	}

	start := 0
	size := 0
	lastBreak := -1

	for i := range entries {
		chars := entryChars(entries[i])

		if i > start && hardBreakBefore(entries, i, opts) {
			emit(start, i)
			start, size, lastBreak = i, 0, -1
		}

		if i > start && opts.MaxChars > 0 && size+chars > opts.MaxChars {
			if lastBreak >= start {
				emit(start, lastBreak+1)
				start = lastBreak + 1
				size = 0
				for j := start; j < i; j++ {
					size += entryChars(entries[j])
				}
				lastBreak = -1
			}
			// what is left after backing up can still be too long together
			// with the new entry; it has no break point, so cut at the budget
			if i > start && size+chars > opts.MaxChars {
				emit(start, i)
				start, size, lastBreak = i, 0, -1
			}
		}

		size += chars
		if preferredBreakAfter(entries, i, opts) {
			lastBreak = i
		}
	}
	emit(start, len(entries))

	return batches
}

func entryChars(entry subtitle.Entry) int {
	return utf8.RuneCountInString(subtitle.Flatten(entry.Text))
}

func hardBreakBefore(entries []subtitle.Entry, i int, opts Options) bool {
	if opts.SceneBreakGap <= 0 || i == 0 {
		return false
	}
	return entries[i].StartTime-entries[i-1].EndTime >= opts.SceneBreakGap
}

func preferredBreakAfter(entries []subtitle.Entry, i int, opts Options) bool {
	if EndsSentence(entries[i].Text) {
		return true
	}
	if i+1 < len(entries) && opts.GapThreshold > 0 &&
		entries[i+1].StartTime-entries[i].EndTime > opts.GapThreshold {
		return true
	}
	return false
}

var sentenceEnders = map[rune]bool{
	'.': true, '?': true, '!': true, '…': true,
	'。': true, '？': true, '！': true, '♪': true,
}

var closers = map[rune]bool{
	'"': true, '\'': true, '”': true, '’': true, ')': true,
	']': true, '」': true, '』': true, '）': true, '»': true,
}

// EndsSentence reports whether text finishes a sentence: it ends with
// terminal punctuation (possibly inside closing quotes or brackets) or is
// an all-caps line such as a shouted caption or a sound label.
func EndsSentence(text string) bool {
	text = strings.TrimSpace(subtitle.Flatten(text))
	if text == "" {
		return false
	}

	trimmed := strings.TrimRightFunc(text, func(r rune) bool { return closers[r] })
	if trimmed != "" {
		last, _ := utf8.DecodeLastRuneInString(trimmed)
		if sentenceEnders[last] {
			return true
		}
	}

	return isShout(text)
}

func isShout(text string) bool {
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if !unicode.IsUpper(r) {
			return false
		}
		letters++
	}
	return letters >= 2
}
