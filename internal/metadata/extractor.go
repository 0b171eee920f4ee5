package metadata

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/zombor/shiori/internal/media"
)

// exifTimeLayout is the fixed timestamp format used by EXIF date fields
const exifTimeLayout = "2006:01:02 15:04:05"

// timestampFields are checked in order; the first non-empty one wins.
// DateTimeDigitized is the EXIF name for the "create date" and DateTime the
// "modify date".
var timestampFields = []exif.FieldName{
	exif.DateTimeOriginal,
	exif.DateTimeDigitized,
	exif.DateTime,
}

// Coordinates is a GPS position in decimal degrees
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// String formats the coordinates for display
func (c Coordinates) String() string {
	return fmt.Sprintf("%.5f, %.5f", c.Latitude, c.Longitude)
}

// Result holds whatever could be read from an image's embedded metadata.
// A nil field means unknown.
type Result struct {
	CaptureTime *time.Time
	Coordinates *Coordinates
}

// Empty reports whether nothing could be extracted
func (r Result) Empty() bool {
	return r.CaptureTime == nil && r.Coordinates == nil
}

// Extractor reads capture time and GPS position from image binaries
type Extractor struct {
	location *time.Location
}

// NewExtractor creates an Extractor interpreting EXIF timestamps in local time
func NewExtractor() *Extractor {
	return NewExtractorInLocation(time.Local)
}

// NewExtractorInLocation creates an Extractor interpreting EXIF timestamps,
// which carry no zone, in the given location
func NewExtractorInLocation(loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.Local
	}
	return &Extractor{location: loc}
}

// Extract reads the metadata of a single blob. Non-image blobs yield an empty
// result. The only error is a failure to read the blob itself.
func (e *Extractor) Extract(b media.Blob) (Result, error) {
	if !media.IsImage(b.ContentType()) {
		return Result{}, nil
	}

	data, err := media.ReadAll(b)
	if err != nil {
		return Result{}, err
	}
	return e.Parse(data), nil
}

// Parse extracts metadata from raw image bytes. Missing or malformed EXIF data
// is not an error.
func (e *Extractor) Parse(data []byte) Result {
	var result Result

	x, err := exif.Decode(bytes.NewReader(data))
	if x == nil {
		slog.Debug("No EXIF block found", "error", err)
		return result
	}
	if err != nil {
		// goexif returns the tags it managed to load alongside sub-IFD errors
		slog.Debug("Partial EXIF block", "error", err)
	}

	attempt("timestamp", func() {
		result.CaptureTime = e.captureTime(x)
	})
	attempt("gps", func() {
		result.Coordinates = coordinates(x)
	})

	return result
}

func (e *Extractor) captureTime(x *exif.Exif) *time.Time {
	for _, field := range timestampFields {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		raw, err := tag.StringVal()
		if err != nil {
			continue
		}
		raw = strings.Trim(raw, " \x00")
		if raw == "" {
			continue
		}

		t, err := time.ParseInLocation(exifTimeLayout, raw, e.location)
		if err != nil {
			slog.Debug("Unparseable EXIF timestamp", "field", string(field), "value", raw)
			return nil
		}
		return &t
	}
	return nil
}

func coordinates(x *exif.Exif) *Coordinates {
	lat, lon, err := x.LatLong()
	if err != nil {
		return nil
	}
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return nil
	}
	return &Coordinates{Latitude: lat, Longitude: lon}
}

// attempt runs one extraction step so that a panic inside the EXIF decoder on
// corrupt data only loses that step's fields.
func attempt(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("EXIF extraction step failed", "step", step, "panic", r)
		}
	}()
	fn()
}
