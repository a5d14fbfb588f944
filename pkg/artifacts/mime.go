package artifacts

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonboulle/clockwork"
)

const defaultMimeType = "application/octet-stream"

var mimeByExt = map[string]string{
	"csv":  "text/csv",
	"json": "application/json",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"html": "text/html",
	"htm":  "text/html",
	"txt":  "text/plain",
}

// MimeType maps a file extension, with or without the leading dot, to its
// MIME type.
func MimeType(ext string) string {
	if m, ok := mimeByExt[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return m
	}
	return defaultMimeType
}

// MimeTypeForFile is MimeType applied to the extension of name.
func MimeTypeForFile(name string) string {
	return MimeType(filepath.Ext(name))
}

// Filename returns "<prefix>_YYYYMMDD_HHMMSS.<ext>" using the clock's local
// time, e.g. output_data_20240102_150405.csv.
func Filename(clock clockwork.Clock, prefix, ext string) string {
	return fmt.Sprintf("%s_%s.%s", prefix, clock.Now().Format("20060102_150405"), strings.TrimPrefix(ext, "."))
}
