// Package api exposes invoice extraction over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"invoicematch/internal/extraction"
	"invoicematch/internal/invoice"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health check.
const Version = "1.0.0"

// MaxUploadBytes bounds the uploaded document.
const MaxUploadBytes = 20 << 20

const messageMissingFile = "Please upload an invoice file."

// Processor runs one invoice request.
type Processor interface {
	Process(ctx context.Context, req invoice.Request) *invoice.Outcome
}

type Handler struct {
	processor Processor
	logger    *slog.Logger
	now       func() time.Time
}

func NewHandler(p Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{processor: p, logger: logger.With("component", "api"), now: time.Now}
}

// HealthHandler reports liveness.
func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "active",
		"version":   Version,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// ExtractHandler accepts a multipart upload with fields file, companyID,
// username and the optional licenceID.
func (h *Handler) ExtractHandler(c *gin.Context) {
	companyID := strings.TrimSpace(c.PostForm("companyID"))
	username := strings.TrimSpace(c.PostForm("username"))
	if companyID == "" || username == "" {
		c.JSON(http.StatusBadRequest, invoice.Response{Status: invoice.StatusError, Message: invoice.MessageInvalidRequest})
		return
	}

	doc, status, err := readDocument(c)
	if err != nil {
		h.logger.Warn("Rejected upload", "tenant_id", companyID, "error", err)
		c.JSON(status, invoice.Response{Status: invoice.StatusError, Message: messageMissingFile})
		return
	}

	out := h.processor.Process(c.Request.Context(), invoice.Request{
		TenantID: companyID,
		Caller:   username,
		OrgUnit:  strings.TrimSpace(c.PostForm("licenceID")),
		Document: doc,
	})
	c.JSON(StatusFor(out.Kind), out.Response)
}

var errTooLarge = errors.New("document too large")

func readDocument(c *gin.Context) (extraction.Document, int, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return extraction.Document{}, http.StatusBadRequest, err
	}
	if fh.Size > MaxUploadBytes {
		return extraction.Document{}, http.StatusRequestEntityTooLarge, errTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return extraction.Document{}, http.StatusBadRequest, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		return extraction.Document{}, http.StatusBadRequest, err
	}
	if len(data) > MaxUploadBytes {
		return extraction.Document{}, http.StatusRequestEntityTooLarge, errTooLarge
	}
	return extraction.Document{
		Filename: fh.Filename,
		MIMEType: contentType(fh.Header.Get("Content-Type"), data),
		Data:     data,
	}, http.StatusOK, nil
}

// contentType trusts the declared type unless it is missing or generic.
func contentType(declared string, data []byte) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	return mt
}

// StatusFor maps an outcome kind to the HTTP status code. The body always
// carries the status tag as well.
func StatusFor(kind invoice.Kind) int {
	switch kind {
	case invoice.KindOK:
		return http.StatusOK
	case invoice.KindInvalid:
		return http.StatusBadRequest
	case invoice.KindCredential:
		return http.StatusForbidden
	case invoice.KindFatal:
		return http.StatusUnprocessableEntity
	case invoice.KindExhausted:
		return http.StatusServiceUnavailable
	case invoice.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
