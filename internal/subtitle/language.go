package subtitle

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// enough text for a stable guess without scanning a whole feature film
const detectSampleRunes = 4000

// DetectLanguage guesses the language of the entries' text and returns its
// English name, or "" when the guess is not reliable.
func DetectLanguage(entries []Entry) string {
	var sb strings.Builder
	runes := 0
	for _, entry := range entries {
		text := Flatten(entry.Text)
		if text == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteByte(' ')
		runes += len([]rune(text)) + 1
		if runes >= detectSampleRunes {
			break
		}
	}
	if sb.Len() == 0 {
		return ""
	}

	info := whatlanggo.Detect(sb.String())
	if !info.IsReliable() || info.Lang.Iso6391() == "" {
		return ""
	}
	return info.Lang.String()
}

// LanguageName turns a BCP 47 code such as "zh" or "pt-BR" into its English
// name. Anything that does not parse is returned unchanged, so free text like
// "Simplified Chinese" reaches the model as written.
func LanguageName(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" || strings.Contains(lang, " ") {
		return lang
	}
	tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-"))
	if err != nil {
		return lang
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return lang
	}
	return name
}

// SameLanguage reports whether a and b name the same language, whether each
// is written as a code ("en") or an English name ("English").
func SameLanguage(a, b string) bool {
	a, b = LanguageName(a), LanguageName(b)
	return a != "" && strings.EqualFold(a, b)
}
