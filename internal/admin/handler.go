package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"invoicematch/internal/catalog"
	"invoicematch/internal/db"
	"invoicematch/internal/match"
	"invoicematch/internal/model"
	"invoicematch/internal/secret"

	"github.com/gin-gonic/gin"
)

// CatalogCache is the part of the reference cache the admin surface drives.
type CatalogCache interface {
	Get(ctx context.Context) (*catalog.Snapshot, error)
	Refresh(ctx context.Context) (*catalog.Snapshot, error)
	Invalidate()
	Stats() catalog.Stats
}

type CreateCredentialRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Secret      string `json:"secret" binding:"required"`
	Provider    string `json:"provider"`
	QuotaLimit  int64  `json:"quota_limit"`
}

type UpdateStatusRequest struct {
	Status model.CredentialStatus `json:"status" binding:"required"`
}

type CatalogEntriesRequest struct {
	Entries []model.CatalogEntry `json:"entries"`
}

type MappingRequest struct {
	ProductText        string `json:"product_text" binding:"required"`
	SupplierText       string `json:"supplier_text" binding:"required"`
	CatalogKey         string `json:"catalog_key" binding:"required"`
	CatalogDescription string `json:"catalog_description"`
	InvoiceProductCode string `json:"invoice_product_code"`
}

type Handler struct {
	db     db.Service
	cache  CatalogCache
	sealer *secret.Sealer
	logger *slog.Logger
}

func NewHandler(dbService db.Service, cache CatalogCache, sealer *secret.Sealer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{db: dbService, cache: cache, sealer: sealer, logger: logger.With("component", "admin")}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) ListCredentialsHandler(c *gin.Context) {
	var (
		creds []model.Credential
		err   error
	)
	if tenant := c.Query("tenant_id"); tenant != "" {
		creds, err = h.db.ListTenantCredentials(c.Request.Context(), tenant)
	} else {
		creds, err = h.db.ListCredentials(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("Failed to list credentials", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list credentials"})
		return
	}
	c.JSON(http.StatusOK, creds)
}

// CreateCredentialHandler stores a new credential, sealing its secret when a
// sealing key is configured.
func (h *Handler) CreateCredentialHandler(c *gin.Context) {
	var req CreateCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.QuotaLimit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quota_limit must not be negative"})
		return
	}

	sealed, err := h.sealer.Seal(strings.TrimSpace(req.Secret))
	if err != nil {
		h.logger.Error("Failed to seal credential secret", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create credential"})
		return
	}
	cred := model.Credential{
		TenantID:    strings.TrimSpace(req.TenantID),
		DisplayName: req.DisplayName,
		Secret:      sealed,
		Provider:    req.Provider,
		QuotaLimit:  req.QuotaLimit,
	}
	if err := h.db.CreateCredential(c.Request.Context(), &cred); err != nil {
		h.logger.Error("Failed to create credential", "tenant_id", cred.TenantID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create credential"})
		return
	}
	h.logger.Info("Credential created", "credential_id", cred.ID, "tenant_id", cred.TenantID, "sealed", secret.IsSealed(sealed))
	c.JSON(http.StatusCreated, cred)
}

func (h *Handler) UpdateCredentialStatusHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}
	err := h.db.UpdateCredentialStatus(c.Request.Context(), id, req.Status)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Credential not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to update credential status", "credential_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update credential"})
		return
	}
	h.logger.Info("Credential status changed", "credential_id", id, "status", req.Status)
	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (h *Handler) ListUsageSummariesHandler(c *gin.Context) {
	summaries, err := h.db.ListUsageSummaries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list usage"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *Handler) GetCredentialUsageHandler(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	summary, err := h.db.GetUsageSummary(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No usage recorded for credential"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get usage"})
		return
	}
	records, err := h.db.ListUsageRecords(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get usage"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "records": records, "below_threshold": summary.BelowThreshold()})
}

func (h *Handler) ListRetryAttemptsHandler(c *gin.Context) {
	attempts, err := h.db.ListRetryAttempts(c.Request.Context(), c.Query("correlation_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list retry attempts"})
		return
	}
	c.JSON(http.StatusOK, attempts)
}

func (h *Handler) CatalogStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

func (h *Handler) InvalidateCatalogHandler(c *gin.Context) {
	h.cache.Invalidate()
	h.logger.Info("Catalog cache invalidated")
	c.JSON(http.StatusOK, gin.H{"message": "Catalog cache invalidated"})
}

func (h *Handler) RefreshCatalogHandler(c *gin.Context) {
	if _, err := h.cache.Refresh(c.Request.Context()); err != nil {
		h.logger.Warn("Catalog refresh failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Catalog refresh failed", "stats": h.cache.Stats()})
		return
	}
	c.JSON(http.StatusOK, h.cache.Stats())
}

// UpsertCatalogEntriesHandler writes entries and invalidates the cache so the
// next request sees them.
func (h *Handler) UpsertCatalogEntriesHandler(c *gin.Context) {
	var req CatalogEntriesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Entries list cannot be empty"})
		return
	}
	for i := range req.Entries {
		req.Entries[i].ID = 0
		if strings.TrimSpace(req.Entries[i].Key) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Every entry needs a key"})
			return
		}
	}
	if err := h.db.UpsertCatalogEntries(c.Request.Context(), req.Entries); err != nil {
		h.logger.Error("Failed to upsert catalog entries", "count", len(req.Entries), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save catalog entries"})
		return
	}
	h.cache.Invalidate()
	c.JSON(http.StatusOK, gin.H{"message": "Catalog entries saved", "count": len(req.Entries)})
}

// CreateMappingHandler records a confirmed product mapping. The product and
// supplier texts are stored normalized so that exact lookups match them.
func (h *Handler) CreateMappingHandler(c *gin.Context) {
	var req MappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	mapping := model.ProductMapping{
		ProductText:        match.Normalize(req.ProductText),
		SupplierText:       match.Normalize(req.SupplierText),
		CatalogKey:         strings.TrimSpace(req.CatalogKey),
		CatalogDescription: req.CatalogDescription,
		InvoiceProductCode: req.InvoiceProductCode,
	}
	if mapping.ProductText == "" || mapping.SupplierText == "" || mapping.CatalogKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "product_text, supplier_text and catalog_key must contain letters or digits"})
		return
	}

	if snap, err := h.cache.Get(c.Request.Context()); err == nil {
		entry, ok := snap.Lookup(mapping.CatalogKey)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown catalog key"})
			return
		}
		if mapping.CatalogDescription == "" {
			mapping.CatalogDescription = entry.Description
		}
	} else {
		h.logger.Warn("Catalog unavailable, saving mapping without key check", "catalog_key", mapping.CatalogKey, "error", err)
	}

	if err := h.db.SaveMapping(c.Request.Context(), &mapping); err != nil {
		h.logger.Error("Failed to save mapping", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save mapping"})
		return
	}
	c.JSON(http.StatusOK, mapping)
}
