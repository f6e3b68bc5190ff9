package subtitle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writes entries to path in the given format and display mode
func WriteFile(path string, format Format, entries []Entry, mode DisplayMode) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, Encode(format, entries, mode), 0644); err != nil {
		return fmt.Errorf("failed to write subtitle file: %w", err)
	}
	return nil
}

// OutputPath derives "<base>.<lang>[.bilingual]<ext>" next to the input.
func OutputPath(inputPath, targetLang string, mode DisplayMode) string {
	ext := filepath.Ext(inputPath)
	baseName := strings.TrimSuffix(inputPath, ext)
	lang := sanitizeLanguage(targetLang)
	if mode.Bilingual() {
		return fmt.Sprintf("%s.%s.bilingual%s", baseName, lang, ext)
	}
	return fmt.Sprintf("%s.%s%s", baseName, lang, ext)
}

func sanitizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	lang = strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '/' || r == '\\':
			return '-'
		default:
			return r
		}
	}, lang)
	if lang == "" {
		return "translated"
	}
	return lang
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	return os.MkdirAll(dir, 0755)
}

// subtitle format based on file extension
func GetFormatFromExtension(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".vtt":
		return FormatVTT
	default:
		return FormatSRT
	}
}

// file extension for a format
func GetExtensionForFormat(format Format) string {
	switch format {
	case FormatVTT:
		return ".vtt"
	default:
		return ".srt"
	}
}
