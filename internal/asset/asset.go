package asset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
	"time"

	"github.com/zombor/shiori/internal/media"
	"github.com/zombor/shiori/internal/metadata"
)

// Status tracks metadata extraction for one asset
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusError   Status = "error"
)

// Asset is an uploaded image together with its derived metadata. Assets are
// owned by a Registry; callers only ever hold copies.
type Asset struct {
	IdentityKey string
	Blob        media.Blob
	CaptureTime *time.Time
	Coordinates *metadata.Coordinates
	PlaceName   string
	Status      Status
}

func (a *Asset) clone() Asset {
	c := *a
	if a.CaptureTime != nil {
		t := *a.CaptureTime
		c.CaptureTime = &t
	}
	if a.Coordinates != nil {
		coords := *a.Coordinates
		c.Coordinates = &coords
	}
	return c
}

// IdentityKey derives the deduplication key of a blob from its name, size,
// content type and modification time. It is a pure function of those four
// attributes; two blobs with equal attributes are the same logical asset.
func IdentityKey(b media.Blob) string {
	h := sha256.New()
	writeField(h, b.Name())
	writeField(h, strconv.FormatInt(b.Size(), 10))
	writeField(h, media.NormalizeContentType(b.ContentType()))
	writeField(h, strconv.FormatInt(b.ModTime().UnixMilli(), 10))
	return hex.EncodeToString(h.Sum(nil))
}

// writeField length-prefixes each attribute so that no two attribute tuples
// hash the same byte stream
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
