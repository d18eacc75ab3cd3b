package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"invoicematch/internal/config"
	"invoicematch/internal/invoice"
	"invoicematch/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, req invoice.Request) *invoice.Outcome {
	args := m.Called(ctx, req)
	return args.Get(0).(*invoice.Outcome)
}

func setupRouter(p Processor, tokens ...string) (*gin.Engine, *prometheus.Registry) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	metrics.New(reg).Acquisition("ok")
	router := gin.New()
	SetupRoutes(router, p, &config.Config{Auth: config.AuthConfig{ClientTokens: tokens}}, reg, nil)
	return router, reg
}

type upload struct {
	fields      map[string]string
	filename    string
	contentType string
	data        []byte
}

func (u upload) request(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range u.fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if u.filename != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+u.filename+`"`)
		h.Set("Content-Type", u.contentType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(u.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/extract", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000")

func validUpload() upload {
	return upload{
		fields:      map[string]string{"companyID": "acme", "username": "alice", "licenceID": "LIC-1"},
		filename:    "invoice.png",
		contentType: "application/octet-stream",
		data:        pngBytes,
	}
}

func TestHealthHandler(t *testing.T) {
	router, _ := setupRouter(new(MockProcessor))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, Version, body["version"])
	_, err := time.Parse(time.RFC3339, body["timestamp"])
	assert.NoError(t, err)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := setupRouter(new(MockProcessor))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "invoicematch_")
}

func TestExtractHandlerSuccess(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.Anything, mock.MatchedBy(func(req invoice.Request) bool {
		return req.TenantID == "acme" &&
			req.Caller == "alice" &&
			req.OrgUnit == "LIC-1" &&
			req.Document.Filename == "invoice.png" &&
			req.Document.MIMEType == "image/png" &&
			bytes.Equal(req.Document.Data, pngBytes)
	})).Return(&invoice.Outcome{
		Kind: invoice.KindOK,
		Response: invoice.Response{
			Status:  invoice.StatusOK,
			Message: invoice.MessageSuccess,
			Data:    &invoice.InvoiceData{RequestID: "req-1", Products: []invoice.Product{}},
		},
	})
	router, _ := setupRouter(p)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, validUpload().request(t))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp invoice.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, invoice.StatusOK, resp.Status)
	require.NotNil(t, resp.Data)
	assert.Equal(t, "req-1", resp.Data.RequestID)
	p.AssertExpectations(t)
}

func TestExtractHandlerHidesDiagnostics(t *testing.T) {
	p := new(MockProcessor)
	p.On("Process", mock.Anything, mock.Anything).Return(&invoice.Outcome{
		Kind:       invoice.KindExhausted,
		Response:   invoice.Response{Status: invoice.StatusError, Message: invoice.MessageFailed},
		Diagnostic: "exhausted after 4 attempts: googleapi: Error 503",
	})
	router, _ := setupRouter(p)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, validUpload().request(t))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "googleapi")
	assert.Contains(t, rr.Body.String(), invoice.MessageFailed)
}

func TestExtractHandlerValidation(t *testing.T) {
	p := new(MockProcessor)
	router, _ := setupRouter(p)

	missingUser := validUpload()
	missingUser.fields = map[string]string{"companyID": "acme"}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, missingUser.request(t))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), invoice.MessageInvalidRequest)

	missingFile := validUpload()
	missingFile.filename = ""
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, missingFile.request(t))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), messageMissingFile)

	p.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestExtractHandlerRequiresToken(t *testing.T) {
	p := new(MockProcessor)
	router, _ := setupRouter(p, "client-token")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, validUpload().request(t))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	p.On("Process", mock.Anything, mock.Anything).Return(&invoice.Outcome{
		Kind:     invoice.KindCredential,
		Response: invoice.Response{Status: invoice.StatusError, Message: "Your AI token has expired. Please renew your subscription."},
	})
	req := validUpload().request(t)
	req.Header.Set("Authorization", "Bearer client-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Health stays public.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(invoice.KindOK))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(invoice.KindFatal))
	assert.Equal(t, http.StatusRequestTimeout, StatusFor(invoice.KindCanceled))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(invoice.KindInternal))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", contentType("application/pdf", nil))
	assert.Equal(t, "image/png", contentType("", pngBytes))
	assert.Equal(t, "application/pdf", contentType("application/octet-stream", []byte("%PDF-1.7\n")))
}
