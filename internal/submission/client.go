package submission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/shiori/internal/apiclient"
)

// Artifact is the document generated by the downstream service
type Artifact struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Client transmits submissions to the generation service
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a Client posting to the root of baseURL
func NewClient(baseURL string) (*Client, error) {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: 5 * time.Minute})
}

// NewClientWithHTTP creates a Client using the given HTTP client
func NewClientWithHTTP(baseURL string, hc *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("submission service url is required")
	}
	return &Client{
		url:    strings.TrimRight(baseURL, "/") + "/",
		client: hc,
	}, nil
}

// Submit streams the request as multipart form data and returns the
// generated artifact. Non-2xx responses are returned as *apiclient.Error.
func (c *Client) Submit(ctx context.Context, req *Request) (*Artifact, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := req.WriteParts(mw)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	slog.Info("Submitting trip", "url", c.url, "images", len(req.Parts), "entries", len(req.Document.Trip.Allowance))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("posting submission: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiclient.FromResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	artifact := &Artifact{Data: data, ContentType: resp.Header.Get("Content-Type")}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		artifact.Filename = params["filename"]
	}
	return artifact, nil
}
