package media

import (
	"net/http"
	"path/filepath"
	"strings"
)

// ContentTypeFor determines the MIME type of a file from its extension, using
// the leading bytes when the extension is unknown.
func ContentTypeFor(filename string, head []byte) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".pdf":
		return "application/pdf"
	}

	if len(head) == 0 {
		return "application/octet-stream"
	}
	// DetectContentType never returns an empty string
	ct := http.DetectContentType(head)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// NormalizeContentType lowercases and trims a MIME type, dropping parameters
func NormalizeContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// IsImage reports whether a content type declares an image
func IsImage(contentType string) bool {
	return strings.HasPrefix(NormalizeContentType(contentType), "image/")
}
