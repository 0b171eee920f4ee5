package artifact

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Storage persists generated artifacts
type Storage interface {
	// Save writes data under filename and returns the stored name
	Save(filename string, data []byte) (string, error)
	// Get reads a stored artifact
	Get(name string) ([]byte, error)
	// Delete removes a stored artifact
	Delete(name string) error
}

// LocalStorage stores artifacts in a directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage, creating the directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes the artifact through a temporary file so a partial write never
// replaces an existing artifact
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	name := filepath.Base(filename)
	tmp, err := os.CreateTemp(l.basePath, ".shiori-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.basePath, name)); err != nil {
		return "", fmt.Errorf("renaming file: %w", err)
	}
	return name, nil
}

// Get reads an artifact
func (l *LocalStorage) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an artifact
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(filepath.Join(l.basePath, filepath.Base(name))); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// Path returns the full path of a stored artifact
func (l *LocalStorage) Path(name string) string {
	return filepath.Join(l.basePath, filepath.Base(name))
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// maxBaseLen caps the filename stem in runes
const maxBaseLen = 50

// FileName builds the name an artifact is stored under. The suggested name
// from the service is cleaned up; without one the name is derived from the
// time. The extension follows the content type when the name has none.
func FileName(suggested, contentType string, now time.Time) string {
	ext := filepath.Ext(suggested)
	base := strings.TrimSuffix(suggested, ext)

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaceRuns.ReplaceAllString(base, " "))
	if r := []rune(base); len(r) > maxBaseLen {
		base = strings.TrimSpace(string(r[:maxBaseLen]))
	}
	if base == "" {
		base = "shiori_" + now.Format("20060102-150405")
	}

	if ext == "" || unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = extensionFor(contentType)
	}
	return base + ext
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".bin"
	}
	switch mediaType {
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
