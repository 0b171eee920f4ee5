package submission

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func formFileHeader(field, filename, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return h
}

// WriteParts writes the document part followed by one part per image. It
// does not close the writer.
func (r *Request) WriteParts(mw *multipart.Writer) error {
	doc, err := mw.CreatePart(formFileHeader(DocumentPart, DocumentFilename, "application/json"))
	if err != nil {
		return fmt.Errorf("creating document part: %w", err)
	}
	if err := json.NewEncoder(doc).Encode(r.Document); err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}

	for _, p := range r.Parts {
		if err := writeBlob(mw, p); err != nil {
			return err
		}
	}
	return nil
}

func writeBlob(mw *multipart.Writer, p Part) error {
	w, err := mw.CreatePart(formFileHeader(ImagePart, p.TransportName, p.Blob.ContentType()))
	if err != nil {
		return fmt.Errorf("creating part %s: %w", p.TransportName, err)
	}

	rc, err := p.Blob.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", p.Blob.Name(), err)
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copying %s: %w", p.Blob.Name(), err)
	}
	return nil
}

// Encode writes the complete multipart body to w and returns its content type
func (r *Request) Encode(w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)
	if err := r.WriteParts(mw); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}
	return mw.FormDataContentType(), nil
}
