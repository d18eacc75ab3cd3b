package model

import "time"

// CredentialStatus is the lifecycle state of a Credential. Status transitions
// are made by an administrative process; the request path only reads it.
type CredentialStatus string

const (
	StatusActive        CredentialStatus = "Active"
	StatusExpired       CredentialStatus = "Expired"
	StatusDisabled      CredentialStatus = "Disabled"
	StatusFullyUtilized CredentialStatus = "FullyUtilized"
	StatusBlocked       CredentialStatus = "Blocked"
)

// Valid reports whether s is one of the known statuses.
func (s CredentialStatus) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusDisabled, StatusFullyUtilized, StatusBlocked:
		return true
	}
	return false
}

// Credential is a tenant-scoped, quota-limited grant to the extraction service.
type Credential struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	TenantID    string           `gorm:"type:varchar(64);index;not null" json:"tenant_id"`
	DisplayName string           `gorm:"type:varchar(255)" json:"display_name"`
	Secret      string           `gorm:"type:varchar(512);not null" json:"-"`
	Provider    string           `gorm:"type:varchar(50);default:'Gemini';not null" json:"provider"`
	QuotaLimit  int64            `gorm:"default:100000;not null" json:"quota_limit"`
	Status      CredentialStatus `gorm:"type:varchar(32);index;default:'Active';not null" json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// SecretSuffix returns the last 4 characters of the secret for logging.
func (c Credential) SecretSuffix() string {
	if len(c.Secret) > 4 {
		return c.Secret[len(c.Secret)-4:]
	}
	return c.Secret
}
