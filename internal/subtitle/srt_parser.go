package subtitle

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var srtTimingRegex = regexp.MustCompile(
	`^(\d{1,3}):(\d{1,2}):(\d{1,2})[,.](\d{1,3})\s*-->\s*(\d{1,3}):(\d{1,2}):(\d{1,2})[,.](\d{1,3})`,
)

// Parse reads SubRip text. A leading BOM, CRLF line endings, trailing
// whitespace and extra blank lines are tolerated; anything else that does
// not look like an index or a timing line is a *FormatError.
func Parse(raw []byte) ([]Entry, error) {
	lines := splitLines(raw)

	var entries []Entry
	i := 0
	for i < len(lines) {
		if lines[i] == "" {
			i++
			continue
		}

		indexLine := i + 1
		index, err := strconv.Atoi(strings.TrimSpace(lines[i]))
		if err != nil {
			return nil, &FormatError{
				Line: indexLine,
				Msg:  fmt.Sprintf("expected cue index, got %q", lines[i]),
			}
		}
		i++

		if i >= len(lines) || lines[i] == "" {
			return nil, &FormatError{
				Line: indexLine,
				Msg:  fmt.Sprintf("cue %d has no timing line", index),
			}
		}

		start, end, err := parseSRTTiming(lines[i])
		if err != nil {
			return nil, &FormatError{Line: i + 1, Msg: err.Error()}
		}
		if start >= end {
			return nil, &FormatError{
				Line: i + 1,
				Msg: fmt.Sprintf(
					"cue %d ends before it starts (%s --> %s)",
					index,
					formatSRTTime(start),
					formatSRTTime(end),
				),
			}
		}
		i++

		var textLines []string
		for i < len(lines) && lines[i] != "" {
			textLines = append(textLines, lines[i])
			i++
		}

		entries = append(entries, Entry{
			Index:     index,
			StartTime: start,
			EndTime:   end,
			Text:      strings.Join(textLines, "\n"),
		})
	}

	sortEntries(entries)
	return entries, nil
}

// Serialize writes entries as SubRip text, renumbering from 1 and always
// using the canonical HH:MM:SS,mmm timestamp form.
func Serialize(entries []Entry, mode DisplayMode) []byte {
	var sb strings.Builder
	for i, entry := range entries {
		// index (1-based)
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteByte('\n')

		// timestamps: 00:00:00,000 --> 00:00:00,000
		sb.WriteString(fmt.Sprintf("%s --> %s\n",
			formatSRTTime(entry.StartTime),
			formatSRTTime(entry.EndTime)))

		sb.WriteString(Layout(entry, mode))
		sb.WriteString("\n\n")
	}
	return []byte(sb.String())
}

func parseSRTTiming(line string) (time.Duration, time.Duration, error) {
	matches := srtTimingRegex.FindStringSubmatch(strings.TrimSpace(line))
	if len(matches) != 9 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseTimestamp(matches[1], matches[2], matches[3], matches[4])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start timestamp: %w", err)
	}
	end, err := parseTimestamp(matches[5], matches[6], matches[7], matches[8])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end timestamp: %w", err)
	}
	return start, end, nil
}

func parseTimestamp(
	hours, minutes, seconds, millis string,
) (time.Duration, error) {
	h, err := strconv.Atoi(hours)
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(minutes)
	if err != nil {
		return 0, err
	}
	s, err := strconv.Atoi(seconds)
	if err != nil {
		return 0, err
	}
	if m > 59 || s > 59 {
		return 0, fmt.Errorf("minutes and seconds must be below 60")
	}
	// "5" is half a second, not five milliseconds
	for len(millis) < 3 {
		millis += "0"
	}
	ms, err := strconv.Atoi(millis)
	if err != nil {
		return 0, err
	}

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func formatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	millis := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// FormatTimestamp renders d in the canonical SubRip form.
func FormatTimestamp(d time.Duration) string {
	return formatSRTTime(d)
}

// strips the BOM, normalizes line endings and trims trailing whitespace
func splitLines(raw []byte) []string {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, isSpace)
		if i == 0 {
			lines[i] = strings.TrimLeftFunc(lines[i], isSpace)
		}
	}
	return lines
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\u00a0' || r == '\ufeff'
}

// orders by start time, keeping file order for equal starts
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartTime < entries[j].StartTime
	})
}
