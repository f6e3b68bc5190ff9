package subtitle

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	vttTimestampRegex = regexp.MustCompile(
		`(\d{2,}):(\d{2}):(\d{2})\.(\d{3})\s*-->\s*(\d{2,}):(\d{2}):(\d{2})\.(\d{3})`,
	)
	vttShortTimestampRegex = regexp.MustCompile(
		`(\d{2}):(\d{2})\.(\d{3})\s*-->\s*(\d{2}):(\d{2})\.(\d{3})`,
	)
)

// ParseVTT reads WebVTT text. NOTE and STYLE blocks are skipped, cue
// identifiers are optional and cue settings after the timing are ignored.
func ParseVTT(raw []byte) ([]Entry, error) {
	lines := splitLines(raw)

	var entries []Entry
	var currentEntry *Entry
	var textLines []string
	entryIndex := 0

	flush := func() {
		if currentEntry != nil {
			currentEntry.Text = strings.Join(textLines, "\n")
			entries = append(entries, *currentEntry)
		}
		currentEntry = nil
		textLines = nil
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if i == 0 && strings.HasPrefix(trimmed, "WEBVTT") {
			continue
		}

		if currentEntry == nil &&
			(strings.HasPrefix(trimmed, "NOTE") ||
				strings.HasPrefix(trimmed, "STYLE") ||
				strings.HasPrefix(trimmed, "REGION")) {
			for i+1 < len(lines) && lines[i+1] != "" {
				i++
			}
			continue
		}

		if trimmed == "" {
			flush()
			continue
		}

		start, end, ok, err := parseVTTTiming(trimmed)
		if err != nil {
			return nil, &FormatError{Line: i + 1, Msg: err.Error()}
		}
		if ok {
			flush()
			if start >= end {
				return nil, &FormatError{
					Line: i + 1,
					Msg:  fmt.Sprintf("cue ends before it starts: %q", trimmed),
				}
			}
			entryIndex++
			currentEntry = &Entry{
				Index:     entryIndex,
				StartTime: start,
				EndTime:   end,
			}
			continue
		}

		// cue identifier line or text of the current cue
		if currentEntry != nil {
			textLines = append(textLines, line)
		}
	}
	flush()

	sortEntries(entries)
	return entries, nil
}

func parseVTTTiming(line string) (time.Duration, time.Duration, bool, error) {
	if matches := vttTimestampRegex.FindStringSubmatch(line); len(matches) == 9 {
		start, err := parseTimestamp(matches[1], matches[2], matches[3], matches[4])
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid start timestamp: %w", err)
		}
		end, err := parseTimestamp(matches[5], matches[6], matches[7], matches[8])
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid end timestamp: %w", err)
		}
		return start, end, true, nil
	}

	if matches := vttShortTimestampRegex.FindStringSubmatch(line); len(matches) == 7 {
		start, err := parseTimestamp("00", matches[1], matches[2], matches[3])
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid start timestamp: %w", err)
		}
		end, err := parseTimestamp("00", matches[4], matches[5], matches[6])
		if err != nil {
			return 0, 0, false, fmt.Errorf("invalid end timestamp: %w", err)
		}
		return start, end, true, nil
	}

	if strings.Contains(line, "-->") {
		return 0, 0, false, fmt.Errorf("invalid timing line %q", line)
	}
	return 0, 0, false, nil
}

// SerializeVTT writes entries as WebVTT with numeric cue identifiers.
func SerializeVTT(entries []Entry, mode DisplayMode) []byte {
	var sb strings.Builder

	// VTT header
	sb.WriteString("WEBVTT\n\n")

	for i, entry := range entries {
		// optional cue identifier
		sb.WriteString(fmt.Sprintf("%d\n", i+1))

		// timestamps: 00:00:00.000 --> 00:00:00.000
		sb.WriteString(fmt.Sprintf("%s --> %s\n",
			formatVTTTime(entry.StartTime),
			formatVTTTime(entry.EndTime)))

		sb.WriteString(Layout(entry, mode))
		sb.WriteString("\n\n")
	}

	return []byte(sb.String())
}

func formatVTTTime(d time.Duration) string {
	return strings.Replace(formatSRTTime(d), ",", ".", 1)
}
