package extraction

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// invoiceURLExpiry is how long a redirect to object storage stays valid
const invoiceURLExpiry = 15 * time.Minute

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidReview):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// itemResponse is the JSON form of a single processed invoice
type itemResponse struct {
	*ItemResult
	Error string `json:"error,omitempty"`
}

// handleUploadInvoice runs one uploaded invoice through the pipeline
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	maxFormSize := s.service.cfg.MaxFileSize + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "application/octet-stream" {
		contentType = ""
	}

	item := s.service.ProcessInvoice(r.Context(), Invoice{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})

	resp := itemResponse{ItemResult: item}
	if item.Failed() {
		resp.Error = item.Error.Error()
		code := http.StatusInternalServerError
		if item.Failure == FailureOracle {
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, resp)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// handleListExtractions returns extractions, optionally filtered by status and vendor
func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	filter := ExtractionFilter{
		Status:   Status(r.URL.Query().Get("status")),
		VendorID: r.URL.Query().Get("vendor_id"),
		BatchID:  r.URL.Query().Get("batch_id"),
	}
	switch filter.Status {
	case "", StatusPending, StatusValidated, StatusRejected, StatusCorrected:
	default:
		writeError(w, "Unknown status", http.StatusBadRequest)
		return
	}

	extractions, err := s.service.ListExtractions(r.Context(), filter)
	if err != nil {
		slog.Error("Error listing extractions", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, extractions)
}

// handleGetExtraction returns a single extraction
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	extraction, err := s.service.GetExtraction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, "Extraction not found", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, extraction)
}

// handleGetInvoiceFile returns the archived invoice, redirecting to a
// signed link when the storage backend supports one
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	url, err := s.service.InvoiceFileURL(r.Context(), id, invoiceURLExpiry)
	if err != nil {
		writeError(w, "File not found", statusFor(err))
		return
	}
	if url != "" {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}

	data, filename, err := s.service.GetInvoiceFile(r.Context(), id)
	if err != nil {
		writeError(w, "File not found", statusFor(err))
		return
	}

	contentType := http.DetectContentType(data)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+sanitizeFilename(filename)+`"`)
	w.Write(data)
}

// handleReviewExtraction applies a reviewer decision
func (s *Server) handleReviewExtraction(w http.ResponseWriter, r *http.Request) {
	var review Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	extraction, err := s.service.ReviewExtraction(r.Context(), mux.Vars(r)["id"], review, ReviewerFromContext(r.Context()))
	if err != nil {
		slog.Error("Error reviewing extraction", "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, extraction)
}

// handleListAlerts returns alerts; unresolved only unless ?all=true
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := AlertFilter{
		ActiveOnly: r.URL.Query().Get("all") != "true",
		VendorID:   r.URL.Query().Get("vendor_id"),
	}
	alerts, err := s.service.ListAlerts(r.Context(), filter)
	if err != nil {
		slog.Error("Error listing alerts", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// handleResolveAlert marks an alert as resolved by the caller
func (s *Server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.service.ResolveAlert(r.Context(), mux.Vars(r)["id"], ReviewerFromContext(r.Context()))
	if err != nil {
		writeError(w, "Alert not found", statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleListVendors returns all vendors
func (s *Server) handleListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := s.service.ListVendors(r.Context())
	if err != nil {
		slog.Error("Error listing vendors", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

// handleExportCSV streams the ERP import file
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	extractions, err := s.service.ListExtractions(r.Context(), ExtractionFilter{
		BatchID: r.URL.Query().Get("batch_id"),
	})
	if err != nil {
		slog.Error("Error listing extractions", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	opts := CSVOptions{
		IncludeStatus: r.URL.Query().Get("status") == "true",
		IncludeAll:    r.URL.Query().Get("all") == "true",
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+ExtractionsFilename(s.service.timeSource.Now())+`"`)
	if err := WriteCSV(w, extractions, opts); err != nil {
		slog.Error("Error writing CSV", "error", err)
	}
}
