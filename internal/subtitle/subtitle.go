package subtitle

import (
	"fmt"
	"strings"
	"time"
)

// represents single subtitle entry
type Entry struct {
	Index     int
	StartTime time.Duration
	EndTime   time.Duration
	Text      string

	// filled by reassembly; empty means the entry was not translated
	Translation string
}

func (e Entry) Duration() time.Duration {
	return e.EndTime - e.StartTime
}

// text shown on screen for the translated side, falling back to the source
func (e Entry) Displayed() string {
	if e.Translation != "" {
		return e.Translation
	}
	return e.Text
}

// represents supported subtitle formats
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// controls how original and translated text share an entry
type DisplayMode string

const (
	ModeTranslatedOnly         DisplayMode = "translated_only"
	ModeOriginalOverTranslated DisplayMode = "original_over_translated"
	ModeTranslatedOverOriginal DisplayMode = "translated_over_original"
	ModeOriginalOnly           DisplayMode = "original_only"
)

// ParseDisplayMode accepts the canonical names as well as the names used by
// the web form ("only_translated", "original_above_translated", ...).
func ParseDisplayMode(s string) (DisplayMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeTranslatedOnly), "only_translated", "translated":
		return ModeTranslatedOnly, nil
	case string(ModeOriginalOverTranslated), "original_above_translated":
		return ModeOriginalOverTranslated, nil
	case string(ModeTranslatedOverOriginal), "translated_above_original":
		return ModeTranslatedOverOriginal, nil
	case string(ModeOriginalOnly), "only_original", "original":
		return ModeOriginalOnly, nil
	default:
		return "", fmt.Errorf("unsupported display mode %q", s)
	}
}

// reports whether the mode shows both languages
func (m DisplayMode) Bilingual() bool {
	return m == ModeOriginalOverTranslated || m == ModeTranslatedOverOriginal
}

// Layout renders the text block of one entry for the given mode. Entries
// without a translation are passed through with their original text only.
func Layout(e Entry, mode DisplayMode) string {
	if e.Translation == "" || e.Translation == e.Text {
		return e.Text
	}
	if strings.TrimSpace(e.Text) == "" {
		if mode == ModeOriginalOnly {
			return e.Text
		}
		return e.Translation
	}
	switch mode {
	case ModeOriginalOnly:
		return e.Text
	case ModeOriginalOverTranslated:
		return e.Text + "\n" + e.Translation
	case ModeTranslatedOverOriginal:
		return e.Translation + "\n" + e.Text
	default:
		return e.Translation
	}
}

// malformed subtitle input; fatal for a translation job
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("subtitle format error at line %d: %s", e.Line, e.Msg)
	}
	return "subtitle format error: " + e.Msg
}
