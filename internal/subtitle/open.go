package subtitle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Decode picks the parser from the file name, sniffing the WEBVTT header
// when the extension is missing or unknown.
func Decode(name string, raw []byte) ([]Entry, Format, error) {
	format := GetFormatFromExtension(name)
	if format == FormatSRT && looksLikeVTT(raw) {
		format = FormatVTT
	}

	var (
		entries []Entry
		err     error
	)
	switch format {
	case FormatVTT:
		entries, err = ParseVTT(raw)
	default:
		entries, err = Parse(raw)
	}
	if err != nil {
		return nil, format, err
	}
	return entries, format, nil
}

// Encode serializes entries in the given format.
func Encode(format Format, entries []Entry, mode DisplayMode) []byte {
	if format == FormatVTT {
		return SerializeVTT(entries, mode)
	}
	return Serialize(entries, mode)
}

// ReadFile opens and parses a subtitle file.
func ReadFile(path string) ([]Entry, Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".srt" && ext != ".vtt" {
		return nil, "", fmt.Errorf(
			"unsupported subtitle format %q: use .srt or .vtt",
			ext,
		)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read subtitle file: %w", err)
	}
	return Decode(path, raw)
}

func looksLikeVTT(raw []byte) bool {
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("WEBVTT"))
}
