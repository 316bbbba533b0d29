package storage

import (
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	unsafeFolderChars = regexp.MustCompile(`[^a-zA-Z0-9\-_]`)
	unsafeNameChars   = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)
)

const defaultExtension = ".jpg"

// SanitizeFolder replaces every character outside [A-Za-z0-9-_] with '_'.
func SanitizeFolder(folder string) string {
	return unsafeFolderChars.ReplaceAllString(folder, "_")
}

// BuildSessionFilePath returns "<folder>/<name>" with both parts sanitized.
// For seq > 1 the sequence is inserted before the extension, so the second
// "IMG 1.jpg" becomes "IMG_1_2.jpg". Names without an extension get ".jpg".
func BuildSessionFilePath(folder, name string, seq int) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")

	if seq > 1 {
		ext := path.Ext(name)
		base := strings.TrimSuffix(name, ext)
		if ext == "" || ext == "." {
			ext = defaultExtension
		}
		name = base + "_" + strconv.Itoa(seq) + ext
	}

	return SanitizeFolder(folder) + "/" + name
}
