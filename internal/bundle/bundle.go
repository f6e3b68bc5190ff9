// Package bundle packs translated subtitle files into a single zip archive.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ArchiveName is the download name used for multi-file results.
const ArchiveName = "translated_srt_files.zip"

// File is one translated subtitle to add to the archive.
type File struct {
	// Name of the uploaded source file
	Name string
	Data []byte
}

// EntryName maps an uploaded file name to its name inside the archive:
// "movie.en.srt" becomes "movie.en_translated.srt". Directories are dropped.
func EntryName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "subtitle.srt"
	}
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".srt"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_translated" + ext
}

// Write streams a zip with one entry per file to w. Entries that would share
// a name get a numeric suffix.
func Write(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	modified := time.Now()
	seen := make(map[string]int)

	for _, file := range files {
		name := EntryName(file.Name)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			seen[name] = n + 1
			name = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n+1, ext)
		} else {
			seen[name] = 1
		}

		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create archive entry %s: %w", name, err)
		}
		if _, err := entry.Write(file.Data); err != nil {
			return fmt.Errorf("write archive entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
