package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/shiori/internal/media"
)

// heifBrands are the ISO BMFF major brands used by HEIC/HEIF photos
var heifBrands = map[string]bool{"heic": true, "heix": true, "heif": true, "mif1": true, "msf1": true}

// toPNG normalises a receipt binary into PNG bytes for the vision engines.
// PDFs are rendered from their first page; PNGs pass through untouched.
func toPNG(data []byte, contentType string) ([]byte, error) {
	contentType = media.NormalizeContentType(contentType)

	switch {
	case contentType == "application/pdf":
		img, err := renderFirstPage(data)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF receipt: %w", err)
		}
		return encodePNG(img)
	case isHEIF(data, contentType):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC receipt: %w", err)
		}
		return encodePNG(img)
	case contentType == "image/png":
		return data, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s receipt: %w", contentType, err)
	}
	if format == "png" {
		return data, nil
	}
	return encodePNG(img)
}

func renderFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func isHEIF(data []byte, contentType string) bool {
	if contentType == "image/heic" || contentType == "image/heif" {
		return true
	}
	return len(data) >= 12 && string(data[4:8]) == "ftyp" && heifBrands[string(data[8:12])]
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
