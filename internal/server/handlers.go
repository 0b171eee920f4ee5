package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/shiori/internal/media"
	"github.com/zombor/shiori/internal/scanning"
)

// maxUploadSize bounds a receipt upload (high-resolution phone photos)
const maxUploadSize = int64(50 << 20)

const tooLarge = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// errorResponse is the body of every failed request
type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScanReceipt recognizes an uploaded receipt and returns its lines
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		s.scans.WithLabelValues("rejected").Inc()
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile(scanning.ReceiptPart)
	if err != nil {
		slog.Error("Error getting receipt from form", "error", err)
		s.scans.WithLabelValues("rejected").Inc()
		msg := "No receipt provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No receipt was selected. Please choose a file to upload."
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading receipt data", "error", err, "filename", header.Filename)
		s.scans.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = media.ContentTypeFor(header.Filename, data)
	}

	result, err := s.scanner.ScanReceipt(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error scanning receipt", "filename", header.Filename, "content_type", contentType, "error", err)
		s.scans.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if result.Items == nil {
		result.Items = []scanning.Item{}
	}

	slog.Info("Scanned receipt", "filename", header.Filename, "items", len(result.Items))
	s.scans.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, result)
}
