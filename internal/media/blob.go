package media

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Blob is a named binary supplied by the user (a trip photo or a receipt).
type Blob interface {
	Name() string
	Size() int64
	ContentType() string
	ModTime() time.Time
	Open() (io.ReadCloser, error)
}

// ReadAll reads the full contents of a blob
func ReadAll(b Blob) ([]byte, error) {
	rc, err := b.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", b.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.Name(), err)
	}
	return data, nil
}

type fileBlob struct {
	path        string
	size        int64
	contentType string
	modTime     time.Time
}

// File returns a Blob backed by a file on disk. The content type is derived
// from the extension, falling back to sniffing the first bytes.
func File(path string) (Blob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	head := make([]byte, 512)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	n, _ := io.ReadFull(f, head)
	f.Close()

	return &fileBlob{
		path:        path,
		size:        info.Size(),
		contentType: ContentTypeFor(path, head[:n]),
		modTime:     info.ModTime(),
	}, nil
}

func (f *fileBlob) Name() string        { return filepath.Base(f.path) }
func (f *fileBlob) Size() int64         { return f.size }
func (f *fileBlob) ContentType() string { return f.contentType }
func (f *fileBlob) ModTime() time.Time  { return f.modTime }

func (f *fileBlob) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

type memoryBlob struct {
	name        string
	contentType string
	modTime     time.Time
	data        []byte
}

// Memory returns a Blob over an in-memory byte slice. An empty content type is
// detected from the name and data.
func Memory(name, contentType string, modTime time.Time, data []byte) Blob {
	if contentType == "" {
		contentType = ContentTypeFor(name, data)
	}
	return &memoryBlob{
		name:        name,
		contentType: contentType,
		modTime:     modTime,
		data:        data,
	}
}

func (m *memoryBlob) Name() string        { return m.name }
func (m *memoryBlob) Size() int64         { return int64(len(m.data)) }
func (m *memoryBlob) ContentType() string { return m.contentType }
func (m *memoryBlob) ModTime() time.Time  { return m.modTime }

func (m *memoryBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.data)), nil
}
