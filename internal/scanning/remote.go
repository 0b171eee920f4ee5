package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/zombor/shiori/internal/apiclient"
)

// ReceiptPart is the multipart field carrying the receipt binary
const ReceiptPart = "receipt"

// Remote scans receipts through a server exposing POST /receipt
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a Remote scanner for the given service base URL
func NewRemote(baseURL string) (*Remote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("receipt service url is required")
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// ScanReceipt uploads the receipt and decodes the structured result
func (r *Remote) ScanReceipt(ctx context.Context, data []byte, contentType string) (*ReceiptData, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ReceiptPart, "receipt"))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating receipt part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing receipt part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/receipt", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling receipt service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiclient.FromResponse(resp)
	}

	var result ReceiptData
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding receipt result: %w", err)
	}
	return &result, nil
}
