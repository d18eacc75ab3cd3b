package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoicematch/internal/config"
	"invoicematch/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

// Service defines the interface for database operations.
type Service interface {
	// Credentials
	ListCredentials(ctx context.Context) ([]model.Credential, error)
	ListTenantCredentials(ctx context.Context, tenantID string) ([]model.Credential, error)
	GetCredential(ctx context.Context, id uint) (*model.Credential, error)
	CreateCredential(ctx context.Context, cred *model.Credential) error
	UpdateCredentialStatus(ctx context.Context, id uint, status model.CredentialStatus) error

	// Usage
	RecordUsage(ctx context.Context, record *model.UsageRecord, warningRatio float64) (*model.UsageSummary, error)
	GetUsageSummary(ctx context.Context, credentialID uint) (*model.UsageSummary, error)
	ListUsageSummaries(ctx context.Context) ([]model.UsageSummary, error)
	ListUsageRecords(ctx context.Context, credentialID uint) ([]model.UsageRecord, error)

	// Retry attempts
	CreateRetryAttempts(ctx context.Context, records []model.RetryAttemptRecord) error
	ListRetryAttempts(ctx context.Context, correlationID string) ([]model.RetryAttemptRecord, error)

	// Catalog and mappings
	LoadCatalog(ctx context.Context) ([]model.CatalogEntry, error)
	UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) error
	LookupMapping(ctx context.Context, productText, supplierText string) (*model.ProductMapping, error)
	SaveMapping(ctx context.Context, mapping *model.ProductMapping) error

	GetDB() *gorm.DB
}

type gormService struct {
	db *gorm.DB
}

// NewService creates a new database service.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	db, err := Init(cfg)
	if err != nil {
		return nil, err
	}
	return &gormService{db: db}, nil
}

// Init initializes the database connection based on the provided configuration.
func Init(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// sqlite allows a single writer; serialize through one connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// Auto-migrate the schema
	err = db.AutoMigrate(
		&model.Credential{},
		&model.UsageRecord{},
		&model.UsageSummary{},
		&model.RetryAttemptRecord{},
		&model.CatalogEntry{},
		&model.ProductMapping{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

func (s *gormService) GetDB() *gorm.DB {
	return s.db
}

func (s *gormService) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	var creds []model.Credential
	if err := s.db.WithContext(ctx).Order("id asc").Find(&creds).Error; err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// ListTenantCredentials returns every credential of the tenant regardless of
// status, ordered by id.
func (s *gormService) ListTenantCredentials(ctx context.Context, tenantID string) ([]model.Credential, error) {
	var creds []model.Credential
	result := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id asc").
		Find(&creds)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load credentials for tenant %s: %w", tenantID, result.Error)
	}
	return creds, nil
}

func (s *gormService) GetCredential(ctx context.Context, id uint) (*model.Credential, error) {
	var cred model.Credential
	err := s.db.WithContext(ctx).First(&cred, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %d: %w", id, err)
	}
	return &cred, nil
}

func (s *gormService) CreateCredential(ctx context.Context, cred *model.Credential) error {
	if cred.Status == "" {
		cred.Status = model.StatusActive
	}
	if err := s.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (s *gormService) UpdateCredentialStatus(ctx context.Context, id uint, status model.CredentialStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid credential status: %s", status)
	}
	result := s.db.WithContext(ctx).Model(&model.Credential{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update status for credential %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordUsage inserts the usage record and applies its total to the
// credential's summary in one transaction. The summary is adjusted with a
// single relative UPDATE so concurrent callers never lose increments.
func (s *gormService) RecordUsage(ctx context.Context, record *model.UsageRecord, warningRatio float64) (*model.UsageSummary, error) {
	if record.LoggedAt.IsZero() {
		record.LoggedAt = time.Now()
	}
	var summary model.UsageSummary
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cred model.Credential
		if err := tx.Select("id", "quota_limit").First(&cred, record.CredentialID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("credential %d: %w", record.CredentialID, ErrNotFound)
			}
			return err
		}

		initial := model.UsageSummary{
			CredentialID:   cred.ID,
			TotalRemaining: cred.QuotaLimit,
			Threshold:      int64(float64(cred.QuotaLimit) * warningRatio),
			LastUpdated:    record.LoggedAt,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "credential_id"}},
			DoNothing: true,
		}).Create(&initial).Error
		if err != nil {
			return fmt.Errorf("failed to initialize usage summary: %w", err)
		}

		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to insert usage record: %w", err)
		}

		result := tx.Model(&model.UsageSummary{}).
			Where("credential_id = ?", cred.ID).
			UpdateColumns(map[string]interface{}{
				"total_used":      gorm.Expr("total_used + ?", record.Total),
				"total_remaining": gorm.Expr("total_remaining - ?", record.Total),
				"last_updated":    record.LoggedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update usage summary: %w", result.Error)
		}

		return tx.Where("credential_id = ?", cred.ID).First(&summary).Error
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *gormService) GetUsageSummary(ctx context.Context, credentialID uint) (*model.UsageSummary, error) {
	var summary model.UsageSummary
	err := s.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage summary for credential %d: %w", credentialID, err)
	}
	return &summary, nil
}

func (s *gormService) ListUsageSummaries(ctx context.Context) ([]model.UsageSummary, error) {
	var summaries []model.UsageSummary
	if err := s.db.WithContext(ctx).Order("credential_id asc").Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage summaries: %w", err)
	}
	return summaries, nil
}

func (s *gormService) ListUsageRecords(ctx context.Context, credentialID uint) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	result := s.db.WithContext(ctx).
		Where("credential_id = ?", credentialID).
		Order("id asc").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list usage records for credential %d: %w", credentialID, result.Error)
	}
	return records, nil
}

func (s *gormService) CreateRetryAttempts(ctx context.Context, records []model.RetryAttemptRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("failed to insert retry attempts: %w", err)
	}
	return nil
}

func (s *gormService) ListRetryAttempts(ctx context.Context, correlationID string) ([]model.RetryAttemptRecord, error) {
	var records []model.RetryAttemptRecord
	query := s.db.WithContext(ctx).Order("id asc")
	if correlationID != "" {
		query = query.Where("correlation_id = ?", correlationID)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	return records, nil
}

// LoadCatalog returns all catalog entries in id order. The order defines
// snapshot positions and therefore tie-breaking during ranking.
func (s *gormService) LoadCatalog(ctx context.Context) ([]model.CatalogEntry, error) {
	var entries []model.CatalogEntry
	var batch []model.CatalogEntry
	result := s.db.WithContext(ctx).FindInBatches(&batch, 5000, func(tx *gorm.DB, _ int) error {
		entries = append(entries, batch...)
		return nil
	})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", result.Error)
	}
	return entries, nil
}

func (s *gormService) UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).CreateInBatches(&entries, 500).Error
	if err != nil {
		return fmt.Errorf("failed to upsert catalog entries: %w", err)
	}
	return nil
}

// LookupMapping returns the exact mapping for the normalized pair, or nil
// when there is none.
func (s *gormService) LookupMapping(ctx context.Context, productText, supplierText string) (*model.ProductMapping, error) {
	var mapping model.ProductMapping
	err := s.db.WithContext(ctx).
		Where("product_text = ? AND supplier_text = ?", productText, supplierText).
		Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up mapping: %w", err)
	}
	return &mapping, nil
}

func (s *gormService) SaveMapping(ctx context.Context, mapping *model.ProductMapping) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_text"}, {Name: "supplier_text"}},
		DoUpdates: clause.AssignmentColumns([]string{"catalog_key", "catalog_description", "invoice_product_code"}),
	}).Create(mapping).Error
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}
